package discovery

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kbukum/regd/resilience"
)

// ClientConfig configures the registry HTTP client.
type ClientConfig struct {
	// Servers are registry base URLs, e.g. "http://regd-0:8761". Requests go
	// to the first healthy one; failures move to the next.
	Servers []string `yaml:"servers" mapstructure:"servers"`
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// MaxAttempts is the number of tries per call across all servers.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// BreakerFailures opens a server's circuit after this many consecutive
	// transport failures.
	BreakerFailures int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	// BreakerTimeout is how long an open server is skipped.
	BreakerTimeout time.Duration `yaml:"breaker_timeout" mapstructure:"breaker_timeout"`
}

// ApplyDefaults fills zero values.
func (c *ClientConfig) ApplyDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{"http://localhost:8761"}
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("discovery: at least one server is required")
	}
	for _, s := range c.Servers {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("discovery: invalid server url %q", s)
		}
	}
	return nil
}

func (c *ClientConfig) retryConfig() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	rc.MaxAttempts = c.MaxAttempts
	return rc
}

// AgentConfig describes the instance an Agent keeps registered.
type AgentConfig struct {
	ServiceName string            `yaml:"service_name" mapstructure:"service_name"`
	InstanceID  string            `yaml:"instance_id" mapstructure:"instance_id"`
	Host        string            `yaml:"host" mapstructure:"host"`
	Port        int               `yaml:"port" mapstructure:"port"`
	Metadata    map[string]string `yaml:"metadata" mapstructure:"metadata"`
	// LeaseDuration is requested on registration; 0 uses the server default.
	LeaseDuration time.Duration `yaml:"lease_duration" mapstructure:"lease_duration"`
	// RenewInterval is the heartbeat period.
	RenewInterval time.Duration `yaml:"renew_interval" mapstructure:"renew_interval"`
}

// ApplyDefaults fills zero values. The instance id defaults to host:port.
func (c *AgentConfig) ApplyDefaults() {
	if c.InstanceID == "" && c.Host != "" {
		c.InstanceID = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = 30 * time.Second
		if c.LeaseDuration > 0 {
			c.RenewInterval = c.LeaseDuration
		}
	}
}

// Validate checks the configuration.
func (c *AgentConfig) Validate() error {
	switch {
	case c.ServiceName == "":
		return fmt.Errorf("discovery agent: service_name is required")
	case c.Host == "":
		return fmt.Errorf("discovery agent: host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("discovery agent: port must be between 1 and 65535")
	case c.LeaseDuration < 0:
		return fmt.Errorf("discovery agent: lease_duration must not be negative")
	}
	return nil
}

// ResolverConfig configures the local registry replica.
type ResolverConfig struct {
	// RefreshInterval is how often deltas are fetched.
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
	// IncludeAll keeps instances in every status available to Select.
	// By default only UP instances are selected.
	IncludeAll bool `yaml:"include_all" mapstructure:"include_all"`
}

// ApplyDefaults fills zero values.
func (c *ResolverConfig) ApplyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
}
