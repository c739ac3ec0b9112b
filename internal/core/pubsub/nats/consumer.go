package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

// jetStreamConsumer implements pubsub.Consumer using a durable JetStream
// consumer with explicit acks.
type jetStreamConsumer struct {
	js   JetStream
	opts pubsub.ConsumerOptions
}

// NewConsumer creates a Consumer. No broker calls happen until Subscribe.
func NewConsumer(js JetStream, opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = pubsub.DefaultConsumerOptions().ChannelBufSize
	}
	return &jetStreamConsumer{js: js, opts: opts}, nil
}

func (c *jetStreamConsumer) consumerConfig() jetstream.ConsumerConfig {
	name := c.opts.ConsumerName
	if name == "" {
		name = "consumer"
	}
	cfg := jetstream.ConsumerConfig{
		Durable:       name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	switch len(c.opts.FilterSubjects) {
	case 0:
	case 1:
		cfg.FilterSubject = c.opts.FilterSubjects[0]
	default:
		cfg.FilterSubjects = c.opts.FilterSubjects
	}
	return cfg
}

// Subscribe starts consuming messages and returns a channel.
func (c *jetStreamConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	spec := streamSpec{name: c.opts.StreamName, subjects: c.opts.StreamSubjects, storage: c.opts.Storage}
	if err := ensureStream(ctx, c.js, spec); err != nil {
		return nil, err
	}

	cfg := c.consumerConfig()
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	msgCh := make(chan pubsub.Message, c.opts.ChannelBufSize)

	// Handlers send under the read lock; msgCh is closed under the write
	// lock once closing is set.
	var (
		closing atomic.Bool
		sendMu  sync.RWMutex
	)

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		sendMu.RLock()
		defer sendMu.RUnlock()
		if closing.Load() {
			_ = msg.Nak()
			return
		}
		select {
		case msgCh <- WrapMessage(msg):
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		close(msgCh)
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	slog.Info("Queue consumer subscribed",
		"stream", c.opts.StreamName,
		"consumer", cfg.Durable,
		"subjects", c.opts.FilterSubjects)

	go func() {
		<-ctx.Done()
		closing.Store(true)
		cc.Stop()
		sendMu.Lock()
		close(msgCh)
		sendMu.Unlock()
		slog.Info("Queue consumer stopped", "consumer", cfg.Durable)
	}()

	return msgCh, nil
}
