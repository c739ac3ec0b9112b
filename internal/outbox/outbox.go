// Package outbox encodes messages for other nodes and publishes them off
// the caller's goroutine.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/syntrixbase/fanout/internal/codec"
	"github.com/syntrixbase/fanout/internal/core/pubsub"
	"github.com/syntrixbase/fanout/internal/metrics"
)

const defaultPublishTimeout = 5 * time.Second

// Submitter runs tasks keyed for ordering. *dispatch.Pool implements it.
type Submitter interface {
	Submit(key string, task func()) error
}

// Outbox publishes encoded messages through a keyed Submitter so messages
// sharing a key are published in Send order.
type Outbox struct {
	pub     pubsub.Publisher
	pool    Submitter
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an Outbox. A zero timeout means 5s per publish.
func New(pub pubsub.Publisher, pool Submitter, timeout time.Duration, logger *slog.Logger) *Outbox {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{
		pub:     pub,
		pool:    pool,
		timeout: timeout,
		logger:  logger.With("component", "outbox"),
	}
}

// Send encodes msg now and publishes it to topic asynchronously. Errors are
// returned for encoding and submission only; publish failures are logged.
func (o *Outbox) Send(key, topic string, msg codec.Message) error {
	data, err := codec.Encode(msg)
	if err != nil {
		metrics.DeliveryErrors.WithLabelValues("encode").Inc()
		return err
	}
	err = o.pool.Submit(key, func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		if err := o.pub.Publish(ctx, topic, data); err != nil {
			metrics.DeliveryErrors.WithLabelValues("publish").Inc()
			o.logger.Error("Failed to publish message",
				"topic", topic, "kind", msg.Kind().String(), "key", key, "error", err)
		}
	})
	if err != nil {
		metrics.DeliveryErrors.WithLabelValues("submit").Inc()
		return err
	}
	return nil
}
