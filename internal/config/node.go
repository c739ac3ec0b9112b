package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	services "github.com/syntrixbase/fanout/internal/services/config"
)

// NodeConfig identifies this node and shapes the partition space. Every
// node of a cluster must agree on Partitions and TopicPrefix.
type NodeConfig struct {
	// ServiceID defaults to a random uuid, so a restarted node joins as a
	// new member.
	ServiceID   string `yaml:"service_id"`
	Partitions  int    `yaml:"partitions"`
	TopicPrefix string `yaml:"topic_prefix"`
	// Members is a static member list. When empty, members are discovered
	// through heartbeats on the queue.
	Members   []string        `yaml:"members"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	TTL      time.Duration `yaml:"ttl"`
}

func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Partitions:  12,
		TopicPrefix: "fanout",
		Heartbeat: HeartbeatConfig{
			Interval: 2 * time.Second,
			TTL:      6 * time.Second,
		},
	}
}

func (c *NodeConfig) ApplyDefaults() {
	d := DefaultNodeConfig()
	if c.ServiceID == "" {
		c.ServiceID = uuid.NewString()
	}
	if c.Partitions == 0 {
		c.Partitions = d.Partitions
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = d.TopicPrefix
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = d.Heartbeat.Interval
	}
	if c.Heartbeat.TTL == 0 {
		c.Heartbeat.TTL = 3 * c.Heartbeat.Interval
	}
}

func (c *NodeConfig) ApplyEnvOverrides() {
	if val := os.Getenv("FANOUT_SERVICE_ID"); val != "" {
		c.ServiceID = val
	}
	if val := os.Getenv("FANOUT_PARTITIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Partitions = n
		}
	}
	if val := os.Getenv("FANOUT_TOPIC_PREFIX"); val != "" {
		c.TopicPrefix = val
	}
	if val := os.Getenv("FANOUT_MEMBERS"); val != "" {
		c.Members = c.Members[:0]
		for _, m := range strings.Split(val, ",") {
			if m = strings.TrimSpace(m); m != "" {
				c.Members = append(c.Members, m)
			}
		}
	}
}

func (c *NodeConfig) ResolvePaths(_ string) { _ = c }

func (c *NodeConfig) Validate(mode services.DeploymentMode) error {
	if c.ServiceID == "" {
		return fmt.Errorf("node.service_id is required")
	}
	if strings.ContainsAny(c.ServiceID, ".*> \t") {
		return fmt.Errorf("node.service_id %q must not contain '.', '*', '>' or whitespace", c.ServiceID)
	}
	if c.Partitions <= 0 {
		return fmt.Errorf("node.partitions must be positive, got %d", c.Partitions)
	}
	if c.TopicPrefix == "" || strings.ContainsAny(c.TopicPrefix, "*> \t") {
		return fmt.Errorf("node.topic_prefix %q is invalid", c.TopicPrefix)
	}
	if len(c.Members) > 0 && !slices.Contains(c.Members, c.ServiceID) {
		return fmt.Errorf("node.members must include this node (%s)", c.ServiceID)
	}
	if mode.IsStandalone() && len(c.Members) > 1 {
		return fmt.Errorf("node.members lists %d nodes in standalone mode", len(c.Members))
	}
	if len(c.Members) == 0 && c.Heartbeat.TTL <= c.Heartbeat.Interval {
		return fmt.Errorf("node.heartbeat.ttl (%s) must exceed the interval (%s)", c.Heartbeat.TTL, c.Heartbeat.Interval)
	}
	return nil
}

// StaticMembers returns the fixed member list, or only this node in
// standalone mode. It returns nil when heartbeats should be used.
func (c *NodeConfig) StaticMembers(mode services.DeploymentMode) []string {
	if len(c.Members) > 0 {
		return slices.Clone(c.Members)
	}
	if mode.IsStandalone() {
		return []string{c.ServiceID}
	}
	return nil
}
