package app

import (
	"fmt"
	"time"

	"github.com/kbukum/taskflow/auth"
	"github.com/kbukum/taskflow/callback"
	"github.com/kbukum/taskflow/config"
	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/database"
	"github.com/kbukum/taskflow/kafka"
	"github.com/kbukum/taskflow/observability"
	"github.com/kbukum/taskflow/processor"
	"github.com/kbukum/taskflow/quota"
	"github.com/kbukum/taskflow/redis"
	"github.com/kbukum/taskflow/server"
	"github.com/kbukum/taskflow/task"
)

// ServiceName keys config file lookup and telemetry.
const ServiceName = "taskflow"

// Config is the taskflow service configuration.
type Config struct {
	config.ServiceConfig `mapstructure:",squash"`

	Server     server.Config               `mapstructure:"server"`
	Database   database.Config             `mapstructure:"database"`
	Redis      redis.Config                `mapstructure:"redis"`
	Kafka      kafka.Config                `mapstructure:"kafka"`
	Engine     dag.Config                  `mapstructure:"engine"`
	Task       task.Config                 `mapstructure:"task"`
	Quota      QuotaConfig                 `mapstructure:"quota"`
	Callback   CallbackConfig              `mapstructure:"callback"`
	Auth       auth.Config                 `mapstructure:"auth"`
	RateLimit  RateLimitConfig             `mapstructure:"rate_limit"`
	Tracing    observability.Config        `mapstructure:"tracing"`
	Schemas    SchemasConfig               `mapstructure:"schemas"`
	Processors map[string]processor.Config `mapstructure:"processors"`
}

// QuotaConfig configures the quota ledger's reconciliation sweep.
type QuotaConfig struct {
	Reconciler quota.ReconcilerConfig `mapstructure:"reconciler"`
}

// CallbackConfig configures callback verification and delivery.
type CallbackConfig struct {
	// Secret is shared with processors to sign callbacks.
	Secret    string        `mapstructure:"secret"`
	Tolerance time.Duration `mapstructure:"tolerance"`
	// DedupeTTL is how long a delivered callback key is remembered.
	DedupeTTL time.Duration           `mapstructure:"dedupe_ttl"`
	Notifier  callback.NotifierConfig `mapstructure:"notifier"`
}

// RateLimitConfig limits API requests per authenticated user.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// SchemasConfig lists directories schemas are loaded from by id.
type SchemasConfig struct {
	Dirs []string `mapstructure:"dirs"`
}

func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Database.Enabled = true
	c.Database.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Kafka.ApplyDefaults()
	c.Engine.ApplyDefaults()
	if c.Task.EventsTopic == "" && c.Kafka.Enabled {
		c.Task.EventsTopic = c.Kafka.EventsTopic
	}
	c.Quota.Reconciler.ApplyDefaults()
	if c.Callback.Tolerance <= 0 {
		c.Callback.Tolerance = callback.DefaultTolerance
	}
	if c.Callback.DedupeTTL <= 0 {
		c.Callback.DedupeTTL = callback.DefaultDedupeTTL
	}
	if c.Callback.Notifier.BaseURL == "" {
		c.Callback.Notifier.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	c.Callback.Notifier.ApplyDefaults()
	c.Auth.ApplyDefaults()
	c.Tracing.ApplyDefaults()
	if len(c.Schemas.Dirs) == 0 {
		c.Schemas.Dirs = []string{"./schemas"}
	}
	for name, p := range c.Processors {
		p.ApplyDefaults()
		c.Processors[name] = p
	}
}

func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	checks := []struct {
		section string
		fn      func() error
	}{
		{"server", c.Server.Validate},
		{"database", c.Database.Validate},
		{"redis", c.Redis.Validate},
		{"kafka", c.Kafka.Validate},
		{"engine", c.Engine.Validate},
		{"auth", c.Auth.Validate},
		{"tracing", c.Tracing.Validate},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			return fmt.Errorf("%s: %w", check.section, err)
		}
	}
	if c.Quota.Reconciler.Enabled {
		if err := c.Quota.Reconciler.Validate(); err != nil {
			return err
		}
	}
	if c.Callback.Secret == "" {
		return fmt.Errorf("callback.secret is required")
	}
	if c.Environment == "production" && !c.Auth.Enabled {
		return fmt.Errorf("auth must be enabled in production")
	}
	for name, p := range c.Processors {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("processors.%s: %w", name, err)
		}
	}
	return nil
}
