package config

import (
	"fmt"
	"os"
	"strings"
)

// DeploymentMode selects between a single process and a cluster.
type DeploymentMode string

const (
	// ModeDistributed runs one node of a cluster. Nodes share the queue and
	// the store. This is the default.
	ModeDistributed DeploymentMode = "distributed"
	// ModeStandalone runs a single node that owns every partition. The
	// in-memory queue and store are allowed.
	ModeStandalone DeploymentMode = "standalone"
)

func (m DeploymentMode) IsStandalone() bool {
	return m == ModeStandalone
}

// IsDistributed reports whether m is distributed. Empty means distributed.
func (m DeploymentMode) IsDistributed() bool {
	return m == "" || m == ModeDistributed
}

// ParseDeploymentMode accepts either mode name in any case. Empty parses as
// ModeDistributed.
func ParseDeploymentMode(s string) (DeploymentMode, error) {
	switch m := DeploymentMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeDistributed:
		return ModeDistributed, nil
	case ModeStandalone:
		return m, nil
	default:
		return "", fmt.Errorf("deployment mode must be %q or %q, got %q", ModeStandalone, ModeDistributed, s)
	}
}

// DeploymentConfig holds deployment mode settings.
type DeploymentConfig struct {
	Mode DeploymentMode `yaml:"mode"`
}

func DefaultDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{Mode: ModeDistributed}
}

func (c *DeploymentConfig) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDistributed
	}
}

// ApplyEnvOverrides reads FANOUT_DEPLOYMENT_MODE.
func (c *DeploymentConfig) ApplyEnvOverrides() {
	if val := os.Getenv("FANOUT_DEPLOYMENT_MODE"); val != "" {
		c.Mode = DeploymentMode(val)
	}
}

// ResolvePaths is a no-op; the section has no paths.
func (c *DeploymentConfig) ResolvePaths(string) {}

// Validate normalizes Mode and rejects unknown names.
func (c *DeploymentConfig) Validate() error {
	mode, err := ParseDeploymentMode(string(c.Mode))
	if err != nil {
		return fmt.Errorf("deployment: %w", err)
	}
	c.Mode = mode
	return nil
}
