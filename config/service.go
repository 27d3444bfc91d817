package config

import (
	"fmt"
	"slices"

	"github.com/kbukum/taskflow/logger"
)

// ServiceConfig holds the fields every binary needs. Embed it with
// `mapstructure:",squash"` to extend.
type ServiceConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
	Version     string        `yaml:"version" mapstructure:"version"`
	Debug       bool          `yaml:"debug" mapstructure:"debug"`
	Logging     logger.Config `yaml:"logging" mapstructure:"logging"`
}

// GetServiceConfig exposes the embedded base config.
func (c *ServiceConfig) GetServiceConfig() *ServiceConfig { return c }

func (c *ServiceConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "taskflow"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	c.Logging.ApplyDefaults()
}

func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config.name is required")
	}
	envs := []string{"development", "staging", "production"}
	if !slices.Contains(envs, c.Environment) {
		return fmt.Errorf("config.environment must be one of %v (got: %s)", envs, c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	return nil
}
