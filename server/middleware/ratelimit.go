package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/resilience"
)

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// RequestsPerSecond is the refill rate of each client's bucket.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	// Burst is the bucket capacity.
	Burst int `yaml:"burst" mapstructure:"burst"`
	// IdleTTL drops buckets of clients not seen for this long.
	IdleTTL time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
	// TrustForwardedFor keys clients by the first X-Forwarded-For hop.
	TrustForwardedFor bool `yaml:"trust_forwarded_for" mapstructure:"trust_forwarded_for"`
}

// ApplyDefaults fills unset fields.
func (c *RateLimitConfig) ApplyDefaults() {
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 100
	}
	if c.Burst == 0 {
		c.Burst = 200
	}
	if c.IdleTTL == 0 {
		c.IdleTTL = 10 * time.Minute
	}
}

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(*http.Request) string

// RateLimit returns middleware that answers 429 RATE_LIMITED once a client
// exhausts its bucket. Probe paths are never limited.
func RateLimit(cfg RateLimitConfig, key KeyFunc) Middleware {
	cfg.ApplyDefaults()
	if key == nil {
		key = ClientIPKey(cfg.TrustForwardedFor)
	}
	limiter := resilience.NewKeyedRateLimiter(resilience.RateLimiterConfig{
		Name:  "http",
		Rate:  cfg.RequestsPerSecond,
		Burst: cfg.Burst,
	}, cfg.IdleTTL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbeEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			k := key(r)
			if limiter.Allow(k) {
				next.ServeHTTP(w, r)
				return
			}
			retry := int(math.Ceil(limiter.RetryAfter(k).Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			errors.WriteJSON(w, errors.RateLimited())
		})
	}
}

// ClientIPKey keys requests by the remote address, or by the first
// X-Forwarded-For entry when trustForwarded is set.
func ClientIPKey(trustForwarded bool) KeyFunc {
	return func(r *http.Request) string {
		if trustForwarded {
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
