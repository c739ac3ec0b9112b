package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	services "github.com/syntrixbase/fanout/internal/services/config"
)

// SubscriptionConfig sizes the worker pools and catch-up behaviour of the
// subscription layer.
type SubscriptionConfig struct {
	// Delivery runs update callbacks towards client sessions.
	DeliveryWorkers   int `yaml:"delivery_workers"`
	DeliveryQueueSize int `yaml:"delivery_queue_size"`
	// Outbox publishes messages to other nodes.
	OutboxWorkers   int           `yaml:"outbox_workers"`
	OutboxQueueSize int           `yaml:"outbox_queue_size"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`

	CatchUpQueueSize int           `yaml:"catch_up_queue_size"`
	HistoryLimit     int           `yaml:"history_limit"`
	CatchUpTimeout   time.Duration `yaml:"catch_up_timeout"`

	// IngressBufferSize is the channel size of the queue consumer.
	IngressBufferSize int `yaml:"ingress_buffer_size"`
}

func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		DeliveryWorkers:   20,
		DeliveryQueueSize: 1000,
		OutboxWorkers:     8,
		OutboxQueueSize:   1000,
		PublishTimeout:    5 * time.Second,
		CatchUpQueueSize:  1000,
		HistoryLimit:      1000,
		CatchUpTimeout:    30 * time.Second,
		IngressBufferSize: 1000,
	}
}

func (c *SubscriptionConfig) ApplyDefaults() {
	d := DefaultSubscriptionConfig()
	setInt := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setDuration := func(v *time.Duration, def time.Duration) {
		if *v == 0 {
			*v = def
		}
	}
	setInt(&c.DeliveryWorkers, d.DeliveryWorkers)
	setInt(&c.DeliveryQueueSize, d.DeliveryQueueSize)
	setInt(&c.OutboxWorkers, d.OutboxWorkers)
	setInt(&c.OutboxQueueSize, d.OutboxQueueSize)
	setDuration(&c.PublishTimeout, d.PublishTimeout)
	setInt(&c.CatchUpQueueSize, d.CatchUpQueueSize)
	setInt(&c.HistoryLimit, d.HistoryLimit)
	setDuration(&c.CatchUpTimeout, d.CatchUpTimeout)
	setInt(&c.IngressBufferSize, d.IngressBufferSize)
}

func (c *SubscriptionConfig) ApplyEnvOverrides() {
	if val := os.Getenv("FANOUT_DELIVERY_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.DeliveryWorkers = n
		}
	}
	if val := os.Getenv("FANOUT_OUTBOX_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.OutboxWorkers = n
		}
	}
	if val := os.Getenv("FANOUT_HISTORY_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.HistoryLimit = n
		}
	}
}

func (c *SubscriptionConfig) ResolvePaths(_ string) { _ = c }

func (c *SubscriptionConfig) Validate(_ services.DeploymentMode) error {
	for name, v := range map[string]int{
		"delivery_workers":    c.DeliveryWorkers,
		"delivery_queue_size": c.DeliveryQueueSize,
		"outbox_workers":      c.OutboxWorkers,
		"outbox_queue_size":   c.OutboxQueueSize,
		"catch_up_queue_size": c.CatchUpQueueSize,
		"history_limit":       c.HistoryLimit,
		"ingress_buffer_size": c.IngressBufferSize,
	} {
		if v <= 0 {
			return fmt.Errorf("subscription.%s must be positive, got %d", name, v)
		}
	}
	if c.PublishTimeout <= 0 || c.CatchUpTimeout <= 0 {
		return fmt.Errorf("subscription timeouts must be positive")
	}
	return nil
}
