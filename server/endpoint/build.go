package endpoint

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/regd/version"
)

// BuildInfo is the body of /info.
type BuildInfo struct {
	Service string `json:"service"`
	version.Info
	Release   bool   `json:"release"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// Info reports the binary's build and how long it has been running.
func Info(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v := version.Get()
		c.JSON(http.StatusOK, BuildInfo{
			Service:   serviceName,
			Info:      v,
			Release:   v.IsRelease(),
			Uptime:    uptime(),
			Timestamp: now(),
		})
	}
}

// Version reports only the build information.
func Version() gin.HandlerFunc {
	return func(c *gin.Context) { c.JSON(http.StatusOK, version.Get()) }
}
