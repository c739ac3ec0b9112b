// Package ratelimit throttles HTTP callers per client address.
package ratelimit

import (
	"time"
)

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	// Allow reports whether one more request from key is admitted now.
	Allow(key string) bool

	// Reset forgets the budget tracked for key.
	Reset(key string)
}

// Config holds the configuration for rate limiting.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Requests is the number of requests admitted per window. It is also
	// the burst size, so an idle caller may spend a whole window at once.
	Requests int `yaml:"requests"`

	Window time.Duration `yaml:"window"`

	// IdleTimeout drops per-key state after this long without requests.
	// Defaults to twice the window.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Requests: 100,
		Window:   time.Second,
	}
}

// IngestConfig is the stricter budget applied to the write endpoints.
func IngestConfig() Config {
	return Config{
		Enabled:  true,
		Requests: 20,
		Window:   time.Second,
	}
}

func (c Config) idleTimeout() time.Duration {
	if c.IdleTimeout > 0 {
		return c.IdleTimeout
	}
	return 2 * c.Window
}
