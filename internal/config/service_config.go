package config

import (
	services "github.com/syntrixbase/fanout/internal/services/config"
)

// ServiceConfig is the lifecycle every config section goes through after
// the YAML files are loaded.
type ServiceConfig interface {
	// ApplyDefaults fills zero values.
	ApplyDefaults()
	// ApplyEnvOverrides applies FANOUT_* environment variables.
	ApplyEnvOverrides()
	// ResolvePaths makes relative paths absolute against configDir.
	ResolvePaths(configDir string)
	// Validate may depend on the deployment mode, e.g. the in-memory queue
	// is rejected in distributed mode.
	Validate(mode services.DeploymentMode) error
}

// ApplyServiceConfigs runs the lifecycle on each section in order and stops
// at the first validation error.
func ApplyServiceConfigs(configDir string, mode services.DeploymentMode, configs ...ServiceConfig) error {
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		cfg.ApplyEnvOverrides()
		cfg.ResolvePaths(configDir)
		if err := cfg.Validate(mode); err != nil {
			return err
		}
	}
	return nil
}

type modelessConfig interface {
	ApplyDefaults()
	ApplyEnvOverrides()
	ResolvePaths(configDir string)
	Validate() error
}

// modeless adapts a section whose validation ignores the deployment mode.
type modeless struct {
	modelessConfig
}

func (m modeless) Validate(_ services.DeploymentMode) error {
	return m.modelessConfig.Validate()
}
