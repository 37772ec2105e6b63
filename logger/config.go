package logger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Log formats. Console and pretty both render the colored line format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatPretty  = "pretty"
)

// Config is the logging block of the node configuration.
type Config struct {
	Level     string `yaml:"level" mapstructure:"level"`   // trace, debug, info, warn, error, fatal
	Format    string `yaml:"format" mapstructure:"format"` // json, console, pretty
	Output    string `yaml:"output" mapstructure:"output"` // stdout, stderr
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
	Caller    bool   `yaml:"caller" mapstructure:"caller"`
}

// ApplyDefaults logs info and above as console lines on stdout. Timestamps
// are always on.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
	c.Timestamp = true
}

// Validate rejects unknown levels, formats and outputs.
func (c *Config) Validate() error {
	if _, err := c.zerologLevel(); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Format) {
	case FormatJSON, FormatConsole, FormatPretty:
	default:
		return fmt.Errorf("logging.format must be json, console or pretty (got: %s)", c.Format)
	}
	switch strings.ToLower(c.Output) {
	case "", "stdout", "stderr":
	default:
		return fmt.Errorf("logging.output must be stdout or stderr (got: %s)", c.Output)
	}
	return nil
}

func (c *Config) zerologLevel() (zerolog.Level, error) {
	if c.Level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return zerolog.NoLevel, err
	}
	if lvl == zerolog.NoLevel || lvl == zerolog.Disabled || lvl == zerolog.PanicLevel {
		return zerolog.NoLevel, fmt.Errorf("unsupported level %q", c.Level)
	}
	return lvl, nil
}

func (c *Config) console() bool {
	f := strings.ToLower(c.Format)
	return f == FormatConsole || f == FormatPretty
}
