package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	services "github.com/syntrixbase/fanout/internal/services/config"
)

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("FANOUT_DEPLOYMENT_MODE", "standalone")
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, services.ModeStandalone, cfg.Deployment.Mode)
	assert.NotEmpty(t, cfg.Node.ServiceID)
	assert.Equal(t, 12, cfg.Node.Partitions)
	assert.Equal(t, "fanout", cfg.Node.TopicPrefix)
	assert.Equal(t, "nats", cfg.Queue.Type)
	assert.Equal(t, 20, cfg.Subscription.DeliveryWorkers)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "logs"), cfg.Logging.Dir)
	assert.Equal(t, []string{cfg.Node.ServiceID}, cfg.Node.StaticMembers(cfg.Deployment.Mode))
}

func TestLoadConfig_FilesAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", `
deployment:
  mode: distributed
node:
  service_id: node-a
  partitions: 4
  members: [node-a, node-b]
queue:
  type: nats
storage:
  backends:
    default:
      type: postgres
      postgres:
        dsn: postgres://localhost/fanout
subscription:
  delivery_workers: 4
  catch_up_timeout: 5s
`)
	writeConfig(t, dir, "config.local.yml", `
node:
  partitions: 8
`)
	t.Setenv("FANOUT_DELIVERY_WORKERS", "6")
	t.Setenv("FANOUT_NATS_URL", "nats://queue:4222")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Node.ServiceID)
	assert.Equal(t, 8, cfg.Node.Partitions, "local file overrides config.yml")
	assert.Equal(t, []string{"node-a", "node-b"}, cfg.Node.StaticMembers(cfg.Deployment.Mode))
	assert.Equal(t, "nats://queue:4222", cfg.Queue.NATS.URL)
	assert.Equal(t, 6, cfg.Subscription.DeliveryWorkers, "env overrides files")
	assert.Equal(t, 5*time.Second, cfg.Subscription.CatchUpTimeout)
	assert.Equal(t, 1000, cfg.Subscription.HistoryLimit)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "config.yml", "node: [")
		_, err := LoadConfig(dir)
		assert.ErrorContains(t, err, "parse")
	})

	t.Run("memory store in distributed mode", func(t *testing.T) {
		dir := t.TempDir()
		_, err := LoadConfig(dir)
		assert.ErrorContains(t, err, "memory backend")
	})

	t.Run("bad deployment mode", func(t *testing.T) {
		t.Setenv("FANOUT_DEPLOYMENT_MODE", "cluster")
		_, err := LoadConfig(t.TempDir())
		assert.ErrorContains(t, err, "deployment mode")
	})
}

func TestNodeConfig_Validate(t *testing.T) {
	valid := func() NodeConfig {
		c := DefaultNodeConfig()
		c.ServiceID = "node-1"
		return c
	}
	tests := []struct {
		name   string
		mode   services.DeploymentMode
		mutate func(*NodeConfig)
		errMsg string
	}{
		{"valid", services.ModeDistributed, func(*NodeConfig) {}, ""},
		{"dotted id", services.ModeDistributed, func(c *NodeConfig) { c.ServiceID = "a.b" }, "service_id"},
		{"no partitions", services.ModeDistributed, func(c *NodeConfig) { c.Partitions = 0 }, "partitions"},
		{"wildcard prefix", services.ModeDistributed, func(c *NodeConfig) { c.TopicPrefix = "a.*" }, "topic_prefix"},
		{"self missing", services.ModeDistributed, func(c *NodeConfig) { c.Members = []string{"other"} }, "include this node"},
		{"standalone cluster", services.ModeStandalone, func(c *NodeConfig) { c.Members = []string{"node-1", "node-2"} }, "standalone"},
		{"short ttl", services.ModeDistributed, func(c *NodeConfig) { c.Heartbeat.TTL = c.Heartbeat.Interval }, "ttl"},
		{"ttl ignored with static members", services.ModeDistributed, func(c *NodeConfig) {
			c.Members = []string{"node-1"}
			c.Heartbeat.TTL = 0
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate(tt.mode)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestNodeConfig_EnvOverrides(t *testing.T) {
	t.Setenv("FANOUT_SERVICE_ID", "env-node")
	t.Setenv("FANOUT_PARTITIONS", "32")
	t.Setenv("FANOUT_TOPIC_PREFIX", "tb")
	t.Setenv("FANOUT_MEMBERS", "env-node, other ,")

	c := DefaultNodeConfig()
	c.ApplyEnvOverrides()
	assert.Equal(t, "env-node", c.ServiceID)
	assert.Equal(t, 32, c.Partitions)
	assert.Equal(t, "tb", c.TopicPrefix)
	assert.Equal(t, []string{"env-node", "other"}, c.Members)
	assert.Nil(t, (&NodeConfig{}).StaticMembers(services.ModeDistributed))
}

func TestNodeConfig_ApplyDefaults(t *testing.T) {
	c := NodeConfig{Heartbeat: HeartbeatConfig{Interval: time.Second}}
	c.ApplyDefaults()
	assert.NotEmpty(t, c.ServiceID)
	assert.Equal(t, 3*time.Second, c.Heartbeat.TTL)

	other := NodeConfig{}
	other.ApplyDefaults()
	assert.NotEqual(t, c.ServiceID, other.ServiceID)
}

func TestSubscriptionConfig(t *testing.T) {
	c := SubscriptionConfig{OutboxWorkers: 3}
	c.ApplyDefaults()
	assert.Equal(t, 3, c.OutboxWorkers)
	assert.Equal(t, DefaultSubscriptionConfig().DeliveryQueueSize, c.DeliveryQueueSize)
	require.NoError(t, c.Validate(services.ModeDistributed))

	c.HistoryLimit = -1
	assert.ErrorContains(t, c.Validate(services.ModeDistributed), "history_limit")

	c = DefaultSubscriptionConfig()
	c.PublishTimeout = -time.Second
	assert.ErrorContains(t, c.Validate(services.ModeDistributed), "timeouts")
}

type recordingConfig struct {
	calls []string
	err   error
}

func (r *recordingConfig) ApplyDefaults() { r.calls = append(r.calls, "defaults") }
func (r *recordingConfig) ApplyEnvOverrides() { r.calls = append(r.calls, "env") }
func (r *recordingConfig) ResolvePaths(string) { r.calls = append(r.calls, "paths") }
func (r *recordingConfig) Validate() error {
	r.calls = append(r.calls, "validate")
	return r.err
}

func TestApplyServiceConfigs_Order(t *testing.T) {
	first := &recordingConfig{err: assert.AnError}
	second := &recordingConfig{}

	err := ApplyServiceConfigs("cfg", services.ModeDistributed, modeless{first}, modeless{second})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{"defaults", "env", "paths", "validate"}, first.calls)
	assert.Empty(t, second.calls, "stops at the first error")
}
