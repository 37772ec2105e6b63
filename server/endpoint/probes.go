package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/regd/component"
)

// HealthChecker returns health status for registered components.
type HealthChecker func(ctx context.Context) []component.Health

var startTime = time.Now()

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func uptime() string { return time.Since(startTime).Round(time.Second).String() }

func worst(components []component.Health) component.HealthStatus {
	statuses := make([]component.HealthStatus, len(components))
	for i, h := range components {
		statuses[i] = h.Status
	}
	return component.Worst(statuses...)
}

func check(ctx context.Context, checker HealthChecker) []component.Health {
	if checker == nil {
		return nil
	}
	return checker(ctx)
}

// HealthReport is the body of /health.
type HealthReport struct {
	Status     component.HealthStatus `json:"status"`
	Service    string                 `json:"service"`
	Timestamp  string                 `json:"timestamp"`
	Components []component.Health     `json:"components"`
}

// Health reports every component. Degraded nodes (self-preservation, a
// lagging peer link) answer 200; only an unhealthy component yields 503.
func Health(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		components := check(c.Request.Context(), checker)
		report := HealthReport{
			Status:     worst(components),
			Service:    serviceName,
			Timestamp:  now(),
			Components: components,
		}
		code := http.StatusOK
		if report.Status == component.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	}
}

// Readiness answers load balancer probes. A node is ready unless some
// component is unhealthy; those are named under "blocking".
func Readiness(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var blocking []string
		for _, h := range check(c.Request.Context(), checker) {
			if h.Status == component.StatusUnhealthy {
				blocking = append(blocking, h.Name)
			}
		}
		body := gin.H{"status": "ready", "service": serviceName, "timestamp": now()}
		if len(blocking) > 0 {
			body["status"] = "not_ready"
			body["blocking"] = blocking
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

// Liveness only proves the process still serves HTTP.
func Liveness(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive", "service": serviceName, "uptime": uptime()})
	}
}
