package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeploymentMode(t *testing.T) {
	tests := []struct {
		mode        DeploymentMode
		standalone  bool
		distributed bool
	}{
		{ModeStandalone, true, false},
		{ModeDistributed, false, true},
		{"", false, true},
		{"other", false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.standalone, tt.mode.IsStandalone())
			assert.Equal(t, tt.distributed, tt.mode.IsDistributed())
		})
	}
}

func TestDeploymentConfig_ApplyDefaults(t *testing.T) {
	cfg := &DeploymentConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, ModeDistributed, cfg.Mode)

	cfg = &DeploymentConfig{Mode: ModeStandalone}
	cfg.ApplyDefaults()
	assert.Equal(t, ModeStandalone, cfg.Mode)
}

func TestDeploymentConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("FANOUT_DEPLOYMENT_MODE", "standalone")

	cfg := DefaultDeploymentConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, ModeStandalone, cfg.Mode)
}

func TestDeploymentConfig_Validate(t *testing.T) {
	cfg := DefaultDeploymentConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Mode = " Standalone"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ModeStandalone, cfg.Mode)

	cfg.Mode = "hybrid"
	assert.ErrorContains(t, cfg.Validate(), `deployment mode must be "standalone" or "distributed", got "hybrid"`)
}

func TestParseDeploymentMode(t *testing.T) {
	mode, err := ParseDeploymentMode("")
	assert.NoError(t, err)
	assert.Equal(t, ModeDistributed, mode)

	mode, err = ParseDeploymentMode("DISTRIBUTED")
	assert.NoError(t, err)
	assert.Equal(t, ModeDistributed, mode)

	_, err = ParseDeploymentMode("edge")
	assert.Error(t, err)
}
