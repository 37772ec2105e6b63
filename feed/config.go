package feed

import (
	"fmt"

	"github.com/kbukum/regd/kafka"
)

// Config configures the change feed.
type Config struct {
	// Enabled turns the feed on. Disabled by default.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// QueueSize bounds the number of changes waiting to be written.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
	// MaxBatch is the most changes handed to one write.
	MaxBatch int `yaml:"max_batch" mapstructure:"max_batch"`
	// Kafka is the producer configuration.
	Kafka kafka.Config `yaml:"kafka" mapstructure:"kafka"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 100
	}
	c.Kafka.ApplyDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("feed: queue_size must be > 0")
	}
	if c.MaxBatch <= 0 {
		return fmt.Errorf("feed: max_batch must be > 0")
	}
	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	return nil
}
