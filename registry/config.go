package registry

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/regd/validation"
)

// Config holds the registry's policy constants. None of the defaults are
// authoritative; every one is configurable.
type Config struct {
	// NodeID identifies this registry to peers. Generated when empty.
	NodeID string `yaml:"node_id" mapstructure:"node_id"`
	// DefaultLeaseDuration applies when a registration carries no lease.
	DefaultLeaseDuration time.Duration `yaml:"default_lease_duration" mapstructure:"default_lease_duration"`
	// MaxLeaseDuration is the longest lease a registration may ask for.
	MaxLeaseDuration time.Duration `yaml:"max_lease_duration" mapstructure:"max_lease_duration"`
	// LeewayFactor multiplies the lease duration to get the eviction deadline.
	LeewayFactor float64 `yaml:"leeway_factor" mapstructure:"leeway_factor"`
	// SweepInterval is the period of the eviction task.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	// MaxEvictionsPerSweep caps one sweep's batch. 0 means no cap.
	MaxEvictionsPerSweep int `yaml:"max_evictions_per_sweep" mapstructure:"max_evictions_per_sweep"`
	// DeltaRetention is the number of changes kept for GetDelta.
	DeltaRetention int `yaml:"delta_retention" mapstructure:"delta_retention"`
	// DeltaRetentionAge drops changes older than this on every sweep.
	DeltaRetentionAge time.Duration `yaml:"delta_retention_age" mapstructure:"delta_retention_age"`
	// Shards is the number of lock stripes.
	Shards int `yaml:"shards" mapstructure:"shards"`

	SelfPreservation SelfPreservationConfig `yaml:"self_preservation" mapstructure:"self_preservation"`
}

// SelfPreservationConfig tunes the renewal-rate monitor.
type SelfPreservationConfig struct {
	Disabled                bool          `yaml:"disabled" mapstructure:"disabled"`
	RenewalPercentThreshold float64       `yaml:"renewal_percent_threshold" mapstructure:"renewal_percent_threshold"`
	Window                  time.Duration `yaml:"window" mapstructure:"window"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.DefaultLeaseDuration == 0 {
		c.DefaultLeaseDuration = 30 * time.Second
	}
	if c.MaxLeaseDuration == 0 {
		c.MaxLeaseDuration = time.Hour
	}
	if c.LeewayFactor == 0 {
		c.LeewayFactor = 3.0
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.DeltaRetention == 0 {
		c.DeltaRetention = 10000
	}
	if c.DeltaRetentionAge == 0 {
		c.DeltaRetentionAge = 3 * time.Minute
	}
	if c.Shards == 0 {
		c.Shards = 32
	}
	if c.SelfPreservation.RenewalPercentThreshold == 0 {
		c.SelfPreservation.RenewalPercentThreshold = 0.85
	}
	if c.SelfPreservation.Window == 0 {
		c.SelfPreservation.Window = time.Minute
	}
}

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	v := validation.New().
		Required("node_id", c.NodeID).
		Custom(c.DefaultLeaseDuration >= time.Second, "default_lease_duration", "must be at least 1s").
		Custom(c.MaxLeaseDuration >= c.DefaultLeaseDuration, "max_lease_duration", "must not be below default_lease_duration").
		Custom(c.LeewayFactor >= 1, "leeway_factor", "must be at least 1").
		Custom(float64(c.MaxLeaseDuration)*c.LeewayFactor < math.MaxInt64, "leeway_factor", "overflows the eviction deadline of max_lease_duration").
		Custom(c.SweepInterval > 0, "sweep_interval", "must be positive").
		Custom(c.MaxEvictionsPerSweep >= 0, "max_evictions_per_sweep", "must not be negative").
		Custom(c.DeltaRetention > 0, "delta_retention", "must be positive").
		Custom(c.DeltaRetentionAge > 0, "delta_retention_age", "must be positive").
		Range("shards", c.Shards, 1, 4096).
		Custom(c.SelfPreservation.RenewalPercentThreshold > 0 && c.SelfPreservation.RenewalPercentThreshold <= 1,
			"self_preservation.renewal_percent_threshold", "must be in (0, 1]").
		Custom(c.SelfPreservation.Window > 0, "self_preservation.window", "must be positive")
	if err := v.Err(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}
	return nil
}
