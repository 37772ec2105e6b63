package sse

import (
	"fmt"
	"time"
)

// Config configures the event hub and its streams.
type Config struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// ClientBuffer is the per-client event buffer. A client that falls this
	// far behind is disconnected.
	ClientBuffer int `yaml:"client_buffer" mapstructure:"client_buffer"`
	// QueueSize buffers published events ahead of the hub loop.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
	// KeepAlive is the comment interval that keeps idle streams open
	// through proxies.
	KeepAlive time.Duration `yaml:"keep_alive" mapstructure:"keep_alive"`
	// MaxClients caps concurrent streams; 0 is unlimited.
	MaxClients int `yaml:"max_clients" mapstructure:"max_clients"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = 256
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("watch: max_clients must not be negative")
	}
	if c.KeepAlive < time.Second {
		return fmt.Errorf("watch: keep_alive must be at least 1s")
	}
	return nil
}
