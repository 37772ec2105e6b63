package peer

import (
	"fmt"
	"time"

	"github.com/kbukum/regd/redis"
)

// Config configures peer replication.
type Config struct {
	// Enabled turns replication on. Disabled by default.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Channel is the pub/sub channel shared by every node of a cluster.
	Channel string `yaml:"channel" mapstructure:"channel"`
	// QueueSize bounds the outbound change queue. Changes are dropped when
	// it is full.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
	// PublishTimeout bounds a single publish.
	PublishTimeout time.Duration `yaml:"publish_timeout" mapstructure:"publish_timeout"`
	// HeartbeatInterval is how often the presence record is refreshed.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	// Redis is the connection used for pub/sub and presence.
	Redis redis.Config `yaml:"redis" mapstructure:"redis"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Channel == "" {
		c.Channel = "regd.replication"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	c.Redis.ApplyDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Channel == "" {
		return fmt.Errorf("peer: channel is required")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("peer: queue_size must be > 0")
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("peer: %w", err)
	}
	return nil
}

// presenceTTL keeps a presence record alive across two missed heartbeats.
func (c *Config) presenceTTL() time.Duration {
	return 3 * c.HeartbeatInterval
}
