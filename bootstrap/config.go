package bootstrap

import (
	"github.com/kbukum/regd/config"
)

// Config is the constraint for application configuration types. Any struct
// embedding config.ServiceConfig satisfies it once it also defines
// ApplyDefaults and Validate.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
