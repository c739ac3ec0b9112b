package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	services "github.com/syntrixbase/fanout/internal/services/config"
)

// Config selects and configures the inter-node queue.
type Config struct {
	Type           string     `yaml:"type"` // "memory" or "nats"
	StreamName     string     `yaml:"stream_name"`
	ChannelBufSize int        `yaml:"channel_buf_size"`
	NATS           NATSConfig `yaml:"nats"`
}

// NATSConfig configures the JetStream backend.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Storage       string        `yaml:"storage"` // "memory" or "file"
	RetryAttempts int           `yaml:"retry_attempts"`
	MaxAge        time.Duration `yaml:"max_age"`
}

func DefaultConfig() Config {
	return Config{
		Type:           "nats",
		StreamName:     "FANOUT",
		ChannelBufSize: 1000,
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Storage:       "memory",
			RetryAttempts: 3,
			MaxAge:        time.Minute,
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Type == "" {
		c.Type = d.Type
	}
	if c.StreamName == "" {
		c.StreamName = d.StreamName
	}
	if c.ChannelBufSize == 0 {
		c.ChannelBufSize = d.ChannelBufSize
	}
	if c.NATS.URL == "" {
		c.NATS.URL = d.NATS.URL
	}
	if c.NATS.Storage == "" {
		c.NATS.Storage = d.NATS.Storage
	}
	if c.NATS.MaxAge == 0 {
		c.NATS.MaxAge = d.NATS.MaxAge
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("FANOUT_QUEUE_TYPE"); val != "" {
		c.Type = val
	}
	if val := os.Getenv("FANOUT_NATS_URL"); val != "" {
		c.NATS.URL = val
	}
	if val := os.Getenv("FANOUT_QUEUE_STREAM"); val != "" {
		c.StreamName = val
	}
	if val := os.Getenv("FANOUT_NATS_RETRY_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.NATS.RetryAttempts = n
		}
	}
}

// ResolvePaths is a no-op; the queue has no paths.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate(mode services.DeploymentMode) error {
	switch c.Type {
	case "memory":
		if mode.IsDistributed() {
			return fmt.Errorf("queue.type 'memory' cannot connect nodes in distributed mode")
		}
	case "nats":
		if c.NATS.URL == "" {
			return fmt.Errorf("queue.nats.url is required")
		}
		if c.NATS.Storage != "memory" && c.NATS.Storage != "file" {
			return fmt.Errorf("queue.nats.storage must be 'memory' or 'file', got '%s'", c.NATS.Storage)
		}
	default:
		return fmt.Errorf("queue.type must be 'memory' or 'nats', got '%s'", c.Type)
	}
	if c.StreamName == "" {
		return fmt.Errorf("queue.stream_name is required")
	}
	if c.ChannelBufSize < 0 {
		return fmt.Errorf("queue.channel_buf_size must not be negative")
	}
	return nil
}
