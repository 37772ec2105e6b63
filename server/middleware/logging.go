package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/kbukum/regd/logger"
)

// slowRequest marks requests worth a closer look in the logs.
const slowRequest = 500 * time.Millisecond

// RequestLogger returns middleware that logs every request with method,
// path, status code, and duration. Probe and telemetry paths are skipped.
func RequestLogger(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbeEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			fields := map[string]interface{}{
				"method":             r.Method,
				"path":               r.URL.Path,
				logger.FieldStatus:   rec.status,
				logger.FieldDuration: duration.Milliseconds(),
				"bytes":              rec.bytes,
			}
			if q := r.URL.RawQuery; q != "" {
				fields["query"] = q
			}
			if id := r.Header.Get(RequestIDHeader); id != "" {
				fields[logger.FieldRequestID] = id
			}
			switch {
			case rec.streamed():
				fields["stream"] = true
				fields["flushes"] = rec.flushes
			case duration > slowRequest:
				fields["slow"] = true
			}
			logByStatus(log, fields, rec.status)
		})
	}
}

func isProbeEndpoint(path string) bool {
	switch path {
	case "/health", "/alive", "/ready", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/debug/")
}

// logByStatus logs request fields at the level matching the status code.
func logByStatus(log *logger.Logger, fields map[string]interface{}, status int) {
	switch {
	case status >= 500:
		log.Error("Request completed", fields)
	case status >= 400:
		log.Warn("Request completed", fields)
	default:
		log.Debug("Request completed", fields)
	}
}
