package server

import (
	"fmt"
	"time"

	"github.com/kbukum/regd/server/middleware"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout"`
	// WriteTimeout does not apply to /v1/watch streams, which clear their
	// own write deadline.
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// MaxBodySize caps request bodies, e.g. "1MB" or "512KB".
	MaxBodySize string `yaml:"max_body_size" mapstructure:"max_body_size"`

	CORS      middleware.CORSConfig      `yaml:"cors" mapstructure:"cors"`
	RateLimit middleware.RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

func orDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func orStrings(s *[]string, def ...string) {
	if len(*s) == 0 {
		*s = def
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8761
	}
	orDuration(&c.ReadTimeout, 15*time.Second)
	orDuration(&c.ReadHeaderTimeout, 5*time.Second)
	orDuration(&c.WriteTimeout, 15*time.Second)
	orDuration(&c.IdleTimeout, time.Minute)
	orDuration(&c.ShutdownTimeout, 5*time.Second)
	if c.MaxBodySize == "" {
		c.MaxBodySize = "1MB"
	}

	orStrings(&c.CORS.AllowedOrigins, "*")
	orStrings(&c.CORS.AllowedMethods, "GET", "POST", "PUT", "DELETE", "OPTIONS")
	orStrings(&c.CORS.AllowedHeaders, "Origin", "Content-Type", "Accept", "Last-Event-ID", middleware.RequestIDHeader)
	orStrings(&c.CORS.ExposedHeaders, "X-Registry-Version", middleware.RequestIDHeader)
	if c.CORS.MaxAge == 0 {
		c.CORS.MaxAge = 600
	}
	c.RateLimit.ApplyDefaults()
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535 (got: %d)", c.Port)
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"read_timeout", c.ReadTimeout},
		{"read_header_timeout", c.ReadHeaderTimeout},
		{"write_timeout", c.WriteTimeout},
		{"idle_timeout", c.IdleTimeout},
		{"shutdown_timeout", c.ShutdownTimeout},
	} {
		if d.val < 0 {
			return fmt.Errorf("server.%s must be non-negative (got: %s)", d.key, d.val)
		}
	}
	if c.MaxBodySize != "" && middleware.ParseSize(c.MaxBodySize, -1) < 0 {
		return fmt.Errorf("server.max_body_size %q is not a size", c.MaxBodySize)
	}
	if c.CORS.MaxAge < 0 {
		return fmt.Errorf("server.cors.max_age must be non-negative (got: %d)", c.CORS.MaxAge)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be positive (got: %v)", c.RateLimit.RequestsPerSecond)
	}
	return nil
}
