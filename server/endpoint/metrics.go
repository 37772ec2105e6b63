package endpoint

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsFunc returns one component's statistics.
type StatsFunc func() any

// RuntimeStats is the Go runtime section of /metrics.
type RuntimeStats struct {
	Goroutines  int    `json:"goroutines"`
	GOMAXPROCS  int    `json:"gomaxprocs"`
	HeapAlloc   uint64 `json:"heap_alloc_bytes"`
	HeapObjects uint64 `json:"heap_objects"`
	TotalAlloc  uint64 `json:"total_alloc_bytes"`
	Sys         uint64 `json:"sys_bytes"`
	GCRuns      uint32 `json:"gc_runs"`
	LastGCPause string `json:"last_gc_pause"`
	MemoryLimit int64  `json:"memory_limit_bytes"`
	Uptime      string `json:"uptime"`
}

func readRuntime() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeStats{
		Goroutines:  runtime.NumGoroutine(),
		GOMAXPROCS:  runtime.GOMAXPROCS(0),
		HeapAlloc:   m.HeapAlloc,
		HeapObjects: m.HeapObjects,
		TotalAlloc:  m.TotalAlloc,
		Sys:         m.Sys,
		GCRuns:      m.NumGC,
		LastGCPause: time.Duration(m.PauseNs[(m.NumGC+255)%256]).String(),
		MemoryLimit: debug.SetMemoryLimit(-1),
		Uptime:      uptime(),
	}
}

// Metrics serves the runtime section plus each stats entry under its key.
// Registry telemetry proper is exported through OpenTelemetry; this
// endpoint is for quick inspection.
func Metrics(stats map[string]StatsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"timestamp": now(),
			"runtime":   readRuntime(),
		}
		for name, fn := range stats {
			if fn != nil {
				body[name] = fn()
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
