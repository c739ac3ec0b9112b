// Package pubsub is the inter-node queue used to route subscriptions,
// forwarded writes and subscription updates between cluster nodes.
package pubsub

import (
	"context"
	"time"
)

// Message is a received queue message with acknowledgment controls.
type Message interface {
	// Data returns the raw payload.
	Data() []byte

	// Subject returns the full subject the message was published to.
	Subject() string

	// Ack acknowledges successful processing.
	Ack() error

	// Nak signals processing failure, requesting redelivery.
	Nak() error

	// NakWithDelay requests redelivery after a delay.
	NakWithDelay(delay time.Duration) error

	// Term terminates the message (no redelivery). Used for payloads that
	// can never be decoded.
	Term() error

	// Metadata returns delivery metadata.
	Metadata() (MessageMetadata, error)
}

// MessageMetadata contains delivery information about a message.
type MessageMetadata struct {
	NumDelivered uint64
	Timestamp    time.Time
	Subject      string
	Stream       string
	Consumer     string
}

// Publisher sends payloads to topics.
type Publisher interface {
	// Publish sends data to subject. The publisher's SubjectPrefix is
	// prepended when set.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases resources.
	Close() error
}

// Consumer receives messages for a set of subject patterns.
type Consumer interface {
	// Subscribe starts consuming and returns a channel that is closed when
	// ctx is cancelled. Messages of one subject are delivered in publish
	// order. The caller must Ack, Nak or Term every message.
	Subscribe(ctx context.Context) (<-chan Message, error)
}
