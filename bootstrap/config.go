package bootstrap

import (
	"github.com/kbukum/taskflow/config"
)

// Config is the constraint on application config types. Any struct that
// embeds config.ServiceConfig gets GetServiceConfig through promotion and
// only needs ApplyDefaults and Validate for its own sections.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
