package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	services "github.com/syntrixbase/fanout/internal/services/config"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`
	// Async moves file writes to a background goroutine.
	Async bool        `yaml:"async"`
	Dedup DedupConfig `yaml:"dedup"`
}

// RotationConfig is passed to lumberjack.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`
}

// OutputConfig configures one sink. Empty level and format inherit the
// top-level values.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// DedupConfig collapses identical records logged within Window.
type DedupConfig struct {
	Enabled bool          `yaml:"enabled"`
	Window  time.Duration `yaml:"window"`
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Console: OutputConfig{Enabled: true, Level: "info", Format: "text"},
		File:    OutputConfig{Enabled: true, Level: "info", Format: "json"},
		Async:   true,
		Dedup:   DedupConfig{Enabled: true, Window: 5 * time.Second},
	}
}

// ApplyDefaults fills in missing values. Booleans are left as loaded since
// false cannot be told apart from unset.
func (c *LoggingConfig) ApplyDefaults() {
	d := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = d.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = d.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = d.Rotation.MaxAge
	}
	for _, out := range []*OutputConfig{&c.Console, &c.File} {
		if out.Level == "" {
			out.Level = c.Level
		}
		if out.Format == "" {
			out.Format = c.Format
		}
	}
	if c.Dedup.Window == 0 {
		c.Dedup.Window = d.Dedup.Window
	}
}

// ApplyEnvOverrides applies environment variable overrides. The level and
// format overrides apply to every sink.
func (c *LoggingConfig) ApplyEnvOverrides() {
	if val := os.Getenv("FANOUT_LOG_LEVEL"); val != "" {
		val = strings.ToLower(val)
		c.Level, c.Console.Level, c.File.Level = val, val, val
	}
	if val := os.Getenv("FANOUT_LOG_FORMAT"); val != "" {
		val = strings.ToLower(val)
		c.Format, c.Console.Format, c.File.Format = val, val, val
	}
	if val := os.Getenv("FANOUT_LOG_DIR"); val != "" {
		c.Dir = val
	}
}

// ResolvePaths resolves a relative log directory. Paths starting with ".."
// are taken relative to configDir, other relative paths relative to its
// parent, so "logs" lands next to the config directory.
func (c *LoggingConfig) ResolvePaths(configDir string) {
	if c.Dir == "" || filepath.IsAbs(c.Dir) {
		return
	}
	base := filepath.Dir(configDir)
	if strings.HasPrefix(c.Dir, "..") {
		base = configDir
	}
	c.Dir = filepath.Clean(filepath.Join(base, c.Dir))
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
)

// Validate checks levels, formats and the directory.
func (c *LoggingConfig) Validate(_ services.DeploymentMode) error {
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Level)
	}
	if !validFormats[c.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}
	if c.File.Enabled && c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	for name, out := range map[string]OutputConfig{"console": c.Console, "file": c.File} {
		if !out.Enabled {
			continue
		}
		if out.Level != "" && !validLevels[out.Level] {
			return fmt.Errorf("invalid %s log level: %s", name, out.Level)
		}
		if out.Format != "" && !validFormats[out.Format] {
			return fmt.Errorf("invalid %s log format: %s", name, out.Format)
		}
	}
	if c.Dedup.Enabled && c.Dedup.Window < 0 {
		return fmt.Errorf("logging.dedup.window must not be negative")
	}
	return nil
}
