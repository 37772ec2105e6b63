// Package config loads service configuration from a YAML file, an optional
// .env file and environment variables, in that order of precedence (lowest
// first), using viper.
//
// Services embed ServiceConfig in their own struct:
//
//	type Config struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Registry registry.Config `yaml:"registry" mapstructure:"registry"`
//	}
//
// Every mapstructure key is bound to an environment variable named by the
// upper-cased dotted path with "." replaced by "_" and the optional prefix
// prepended: registry.sweep_interval becomes REGD_REGISTRY_SWEEP_INTERVAL.
package config
