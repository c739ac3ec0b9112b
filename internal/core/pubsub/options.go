package pubsub

import (
	"fmt"
	"time"
)

// StorageType defines the storage backend for streams.
type StorageType int

const (
	// MemoryStorage stores data in memory (default).
	MemoryStorage StorageType = iota
	// FileStorage stores data on disk.
	FileStorage
)

// ParseStorageType maps "memory" and "file" to a StorageType. Empty means
// memory.
func ParseStorageType(s string) (StorageType, error) {
	switch s {
	case "", "memory":
		return MemoryStorage, nil
	case "file":
		return FileStorage, nil
	default:
		return MemoryStorage, fmt.Errorf("unknown storage type %q", s)
	}
}

// PublisherOptions configures publisher behavior.
type PublisherOptions struct {
	// StreamName is the name of the stream to publish to.
	StreamName string

	// SubjectPrefix is prepended to all subjects.
	SubjectPrefix string

	// StreamSubjects are the subjects the stream is created over when it
	// does not exist. Defaults to SubjectPrefix.> or StreamName.>.
	StreamSubjects []string

	// RetryAttempts is the number of retry attempts for publishing.
	// 0 means no retry (default).
	RetryAttempts int

	// Storage is the storage type for the stream.
	// Defaults to MemoryStorage.
	Storage StorageType

	// MaxAge bounds how long the stream retains messages. 0 keeps them
	// until limits are hit.
	MaxAge time.Duration

	// OnPublish is called after each publish attempt (for metrics).
	OnPublish func(subject string, err error, latency time.Duration)
}

// ConsumerOptions configures consumer behavior.
type ConsumerOptions struct {
	// StreamName is the name of the stream to consume from.
	StreamName string

	// StreamSubjects are the subjects the stream is created over when it
	// does not exist. Defaults to StreamName.>.
	StreamSubjects []string

	// ConsumerName is the durable consumer name.
	ConsumerName string

	// FilterSubjects restricts delivery to these subject patterns. Empty
	// means every subject of the stream.
	FilterSubjects []string

	// ChannelBufSize is the buffer size for the message channel.
	ChannelBufSize int

	// Storage is the storage type for the stream.
	// Defaults to MemoryStorage.
	Storage StorageType
}

// DefaultConsumerOptions returns ConsumerOptions with sensible defaults.
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		ChannelBufSize: 100,
	}
}

// FullSubject joins prefix and subject with a dot.
func FullSubject(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

// Send resolves subject against SubjectPrefix, runs publish with the full
// subject and reports the attempt to OnPublish.
func (o PublisherOptions) Send(subject string, publish func(full string) error) error {
	full := FullSubject(o.SubjectPrefix, subject)
	start := time.Now()
	err := publish(full)
	if o.OnPublish != nil {
		o.OnPublish(full, err, time.Since(start))
	}
	return err
}
