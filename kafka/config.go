package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TLSConfig secures broker connections. CertFile and KeyFile enable
// client authentication and must be set together.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	SkipVerify bool   `yaml:"skip_verify" mapstructure:"skip_verify"`
	CAFile     string `yaml:"ca_file" mapstructure:"ca_file"`
	CertFile   string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile    string `yaml:"key_file" mapstructure:"key_file"`
}

// SASLConfig authenticates to the brokers.
type SASLConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512, case-insensitive.
	Mechanism string `yaml:"mechanism" mapstructure:"mechanism"`
	Username  string `yaml:"username" mapstructure:"username"`
	Password  string `yaml:"password" mapstructure:"password"`
}

// Config configures the change producer.
type Config struct {
	Brokers  []string `yaml:"brokers" mapstructure:"brokers"`
	Topic    string   `yaml:"topic" mapstructure:"topic"`
	ClientID string   `yaml:"client_id" mapstructure:"client_id"`

	TLS  TLSConfig  `yaml:"tls" mapstructure:"tls"`
	SASL SASLConfig `yaml:"sasl" mapstructure:"sasl"`

	// Compression is none, gzip, snappy, lz4 or zstd.
	Compression string `yaml:"compression" mapstructure:"compression"`
	// Retries is the number of write attempts for a retryable failure.
	Retries   int `yaml:"retries" mapstructure:"retries"`
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// RequiredAcks is -1 for all in-sync replicas or 1 for the leader only.
	RequiredAcks int `yaml:"required_acks" mapstructure:"required_acks"`

	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MetadataTTL  time.Duration `yaml:"metadata_ttl" mapstructure:"metadata_ttl"`
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// ApplyDefaults fills zero values. Writes wait for every in-sync replica.
func (c *Config) ApplyDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.Topic == "" {
		c.Topic = "regd.changes"
	}
	if c.ClientID == "" {
		c.ClientID = "regd"
	}
	if c.Compression == "" {
		c.Compression = "snappy"
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = -1
	}
	if c.SASL.Enabled && c.SASL.Mechanism == "" {
		c.SASL.Mechanism = "PLAIN"
	}
	setDuration(&c.BatchTimeout, time.Second)
	setDuration(&c.WriteTimeout, 10*time.Second)
	setDuration(&c.IdleTimeout, 30*time.Second)
	setDuration(&c.MetadataTTL, 6*time.Second)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if len(c.Brokers) == 0 {
		add("kafka brokers are required")
	}
	if c.Topic == "" {
		add("kafka topic is required")
	}
	if _, err := compressionCodec(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.RequiredAcks != -1 && c.RequiredAcks != 1 {
		add("required_acks must be -1 (all) or 1 (leader), got %d", c.RequiredAcks)
	}
	if c.Retries <= 0 {
		add("retries must be > 0")
	}
	if c.BatchSize <= 0 {
		add("batch_size must be > 0")
	}
	if c.SASL.Enabled {
		if _, ok := mechanisms[strings.ToUpper(c.SASL.Mechanism)]; !ok {
			add("unsupported SASL mechanism %q (want one of %s)", c.SASL.Mechanism, names(mechanisms))
		}
		if c.SASL.Username == "" {
			add("SASL username is required")
		}
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		add("tls cert_file and key_file must be set together")
	}
	return errors.Join(errs...)
}
