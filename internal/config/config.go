package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	pubsub "github.com/syntrixbase/fanout/internal/core/pubsub/config"
	storage "github.com/syntrixbase/fanout/internal/core/storage/config"
	"github.com/syntrixbase/fanout/internal/server"
	services "github.com/syntrixbase/fanout/internal/services/config"
)

// Config holds the application configuration.
type Config struct {
	Deployment services.DeploymentConfig `yaml:"deployment"`
	Node       NodeConfig                `yaml:"node"`
	Server     server.Config             `yaml:"server"`
	Logging    LoggingConfig             `yaml:"logging"`

	Queue        pubsub.Config      `yaml:"queue"`
	Storage      storage.Config     `yaml:"storage"`
	Subscription SubscriptionConfig `yaml:"subscription"`
}

// Default returns the built-in configuration before files are applied.
func Default() *Config {
	return &Config{
		Deployment:   services.DefaultDeploymentConfig(),
		Node:         DefaultNodeConfig(),
		Server:       server.DefaultConfig(),
		Logging:      DefaultLoggingConfig(),
		Queue:        pubsub.DefaultConfig(),
		Storage:      storage.DefaultConfig(),
		Subscription: DefaultSubscriptionConfig(),
	}
}

// LoadConfig loads configuration from configDir.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate.
func LoadConfig(configDir string) (*Config, error) {
	cfg := Default()
	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Finalize(configDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize runs the section lifecycle. The deployment section goes first
// since the others validate against its mode.
func (c *Config) Finalize(configDir string) error {
	c.Deployment.ApplyDefaults()
	c.Deployment.ApplyEnvOverrides()
	c.Deployment.ResolvePaths(configDir)
	if err := c.Deployment.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := ApplyServiceConfigs(configDir, c.Deployment.Mode,
		&c.Node,
		modeless{&c.Server},
		&c.Logging,
		&c.Queue,
		&c.Storage,
		&c.Subscription,
	); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}

// loadFile merges filename into cfg. A missing file is not an error.
func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	return nil
}
