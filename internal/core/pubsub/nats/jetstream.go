package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

// JetStream is the subset of jetstream.JetStream used by this package.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NewJetStream creates a JetStream context on nc.
func NewJetStream(nc *nats.Conn) (JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return js, nil
}

// streamSpec describes the stream a publisher or consumer relies on.
type streamSpec struct {
	name     string
	subjects []string
	storage  pubsub.StorageType
	maxAge   time.Duration
}

// ensureStream creates or updates the stream.
func ensureStream(ctx context.Context, js JetStream, spec streamSpec) error {
	subjects := spec.subjects
	if len(subjects) == 0 {
		subjects = []string{spec.name + ".>"}
	}

	cfg := jetstream.StreamConfig{
		Name:      spec.name,
		Subjects:  subjects,
		Storage:   jetstream.MemoryStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    spec.maxAge,
	}
	if spec.storage == pubsub.FileStorage {
		cfg.Storage = jetstream.FileStorage
	}

	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", spec.name, err)
	}
	return nil
}
