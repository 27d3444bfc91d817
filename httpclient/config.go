package httpclient

import (
	"fmt"
	"time"

	"github.com/kbukum/taskflow/resilience"
)

const defaultMaxResponseBytes = 8 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is prepended to relative request paths.
	BaseURL string `mapstructure:"base_url"`
	// Timeout bounds each attempt. Zero leaves the deadline to the request
	// context.
	Timeout time.Duration `mapstructure:"timeout"`
	// Headers are set on every request; request headers override them.
	Headers map[string]string `mapstructure:"headers"`
	// MaxResponseBytes caps how much of a reply body is read.
	MaxResponseBytes int64 `mapstructure:"max_response_bytes"`

	// Retry enables retries of retryable errors. Nil sends once.
	Retry *resilience.RetryConfig `mapstructure:"-"`
	// RetryIf decides which errors are retried. Defaults to IsRetryable.
	RetryIf func(error) bool `mapstructure:"-"`
	// CircuitBreaker guards every attempt. Only retryable errors count as
	// failures, so a rejected request does not open the circuit.
	CircuitBreaker *resilience.CircuitBreakerConfig `mapstructure:"-"`
}

func (c *Config) ApplyDefaults() {
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = defaultMaxResponseBytes
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
}

func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("httpclient: timeout must not be negative")
	}
	if c.Retry != nil && c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("httpclient: retry max_attempts must be at least 1")
	}
	return nil
}
