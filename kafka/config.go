package kafka

import (
	"fmt"
	"time"
)

// Config holds Kafka connection configuration.
type Config struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`

	// CallbackTopic carries processor completion envelopes.
	CallbackTopic string `mapstructure:"callback_topic"`
	// EventsTopic receives execution lifecycle events. Empty disables publishing.
	EventsTopic string `mapstructure:"events_topic"`

	Compression    string `mapstructure:"compression"`
	BatchTimeout   string `mapstructure:"batch_timeout"`
	WriteTimeout   string `mapstructure:"write_timeout"`
	DialTimeout    string `mapstructure:"dial_timeout"`
	SessionTimeout string `mapstructure:"session_timeout"`
}

func (c *Config) ApplyDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.GroupID == "" {
		c.GroupID = "taskflow"
	}
	if c.CallbackTopic == "" {
		c.CallbackTopic = "taskflow.callbacks"
	}
	if c.Compression == "" {
		c.Compression = "snappy"
	}
	if c.BatchTimeout == "" {
		c.BatchTimeout = "100ms"
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "10s"
	}
	if c.DialTimeout == "" {
		c.DialTimeout = "10s"
	}
	if c.SessionTimeout == "" {
		c.SessionTimeout = "30s"
	}
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	for _, d := range []struct{ name, val string }{
		{"batch_timeout", c.BatchTimeout},
		{"write_timeout", c.WriteTimeout},
		{"dial_timeout", c.DialTimeout},
		{"session_timeout", c.SessionTimeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("kafka.%s %q: %w", d.name, d.val, err)
		}
	}
	switch c.Compression {
	case "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("kafka.compression %q is not supported", c.Compression)
	}
	return nil
}

// parseDuration parses a validated duration, returning zero on error.
func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
