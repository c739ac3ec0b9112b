package server

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/syntrixbase/fanout/internal/server/ratelimit"
)

// Config holds the configuration for the unified server module.
type Config struct {
	Host string `yaml:"host"`

	// HTTP Configuration
	HTTPPort         int           `yaml:"http_port"`
	HTTPReadTimeout  time.Duration `yaml:"http_read_timeout"`
	HTTPWriteTimeout time.Duration `yaml:"http_write_timeout"`
	HTTPIdleTimeout  time.Duration `yaml:"http_idle_timeout"`

	// gRPC Configuration
	GRPCPort          int  `yaml:"grpc_port"`
	GRPCMaxConcurrent uint `yaml:"grpc_max_concurrent"`
	EnableReflection  bool `yaml:"enable_reflection"`

	// Rate limiting. IngestRateLimit applies to the write endpoints on top
	// of RateLimit.
	RateLimit       ratelimit.Config `yaml:"rate_limit"`
	IngestRateLimit ratelimit.Config `yaml:"ingest_rate_limit"`

	// Lifecycle Configuration
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns safe defaults for development.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		HTTPPort:          8080,
		HTTPReadTimeout:   10 * time.Second,
		HTTPWriteTimeout:  10 * time.Second,
		HTTPIdleTimeout:   60 * time.Second,
		GRPCPort:          9000,
		GRPCMaxConcurrent: 100,
		RateLimit:         ratelimit.DefaultConfig(),
		IngestRateLimit:   ratelimit.IngestConfig(),
		ShutdownTimeout:   10 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = defaults.HTTPPort
	}
	if c.HTTPReadTimeout == 0 {
		c.HTTPReadTimeout = defaults.HTTPReadTimeout
	}
	if c.HTTPWriteTimeout == 0 {
		c.HTTPWriteTimeout = defaults.HTTPWriteTimeout
	}
	if c.HTTPIdleTimeout == 0 {
		c.HTTPIdleTimeout = defaults.HTTPIdleTimeout
	}
	if c.GRPCPort == 0 {
		c.GRPCPort = defaults.GRPCPort
	}
	if c.GRPCMaxConcurrent == 0 {
		c.GRPCMaxConcurrent = defaults.GRPCMaxConcurrent
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = defaults.RateLimit.Requests
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = defaults.RateLimit.Window
	}
	if c.IngestRateLimit.Requests == 0 {
		c.IngestRateLimit.Requests = defaults.IngestRateLimit.Requests
	}
	if c.IngestRateLimit.Window == 0 {
		c.IngestRateLimit.Window = defaults.IngestRateLimit.Window
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("FANOUT_SERVER_HOST"); val != "" {
		c.Host = val
	}
	if val := os.Getenv("FANOUT_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.HTTPPort = port
		}
	}
	if val := os.Getenv("FANOUT_GRPC_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.GRPCPort = port
		}
	}
	if val := os.Getenv("FANOUT_RATE_LIMIT_ENABLED"); val != "" {
		enabled := val == "true" || val == "1"
		c.RateLimit.Enabled = enabled
		c.IngestRateLimit.Enabled = enabled
	}
}

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in server config.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.HTTPPort)
	}
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port out of range: %d", c.GRPCPort)
	}
	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("server.http_port and server.grpc_port must differ (both %d)", c.HTTPPort)
	}
	for name, rl := range map[string]ratelimit.Config{"rate_limit": c.RateLimit, "ingest_rate_limit": c.IngestRateLimit} {
		if rl.Enabled && (rl.Requests <= 0 || rl.Window <= 0) {
			return fmt.Errorf("server.%s: requests and window must be positive when enabled", name)
		}
	}
	return nil
}
