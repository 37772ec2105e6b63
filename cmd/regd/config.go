package main

import (
	"fmt"

	"github.com/kbukum/regd/config"
	"github.com/kbukum/regd/feed"
	"github.com/kbukum/regd/observability"
	"github.com/kbukum/regd/peer"
	"github.com/kbukum/regd/registry"
	"github.com/kbukum/regd/server"
	"github.com/kbukum/regd/sse"
)

// Config is the regd process configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Registry      registry.Config      `yaml:"registry" mapstructure:"registry"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	Peer          peer.Config          `yaml:"peer" mapstructure:"peer"`
	Feed          feed.Config          `yaml:"feed" mapstructure:"feed"`
	Watch         sse.Config           `yaml:"watch" mapstructure:"watch"`
}

// ApplyDefaults fills every block's zero values.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Registry.ApplyDefaults()
	if c.Observability.Environment == "" {
		c.Observability.Environment = c.Environment
	}
	c.Observability.ApplyDefaults()
	c.Peer.ApplyDefaults()
	c.Feed.ApplyDefaults()
	c.Watch.ApplyDefaults()
}

// Validate checks every block.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return err
	}
	if err := c.Peer.Validate(); err != nil {
		return err
	}
	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("config.feed: %w", err)
	}
	return c.Watch.Validate()
}
