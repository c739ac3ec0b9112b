package pubsub

import (
	"context"
	"io"
)

// Provider creates publishers and consumers on one broker. Implementations
// are NATS JetStream (distributed) and an in-process broker (standalone and
// tests).
type Provider interface {
	io.Closer

	// NewPublisher creates a new Publisher with the given options.
	NewPublisher(opts PublisherOptions) (Publisher, error)

	// NewConsumer creates a new Consumer with the given options.
	NewConsumer(opts ConsumerOptions) (Consumer, error)
}

// Connectable is implemented by providers that must connect before use.
type Connectable interface {
	Connect(ctx context.Context) error
}
