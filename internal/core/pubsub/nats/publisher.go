package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

type jetStreamPublisher struct {
	js      JetStream
	opts    pubsub.PublisherOptions
	pubOpts []jetstream.PublishOpt
}

// NewPublisher returns a Publisher over js. When StreamName is set the
// stream is created or updated first, covering StreamSubjects or, failing
// that, every subject under SubjectPrefix.
func NewPublisher(js JetStream, opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if js == nil {
		return nil, errors.New("jetstream cannot be nil")
	}
	if opts.StreamName != "" {
		subjects := opts.StreamSubjects
		if len(subjects) == 0 && opts.SubjectPrefix != "" {
			subjects = []string{opts.SubjectPrefix + ".>"}
		}
		spec := streamSpec{name: opts.StreamName, subjects: subjects, storage: opts.Storage, maxAge: opts.MaxAge}
		if err := ensureStream(context.Background(), js, spec); err != nil {
			return nil, err
		}
	}

	p := &jetStreamPublisher{js: js, opts: opts}
	if opts.RetryAttempts > 0 {
		p.pubOpts = append(p.pubOpts, jetstream.WithRetryAttempts(opts.RetryAttempts))
	}
	return p, nil
}

func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return p.opts.Send(subject, func(full string) error {
		if _, err := p.js.Publish(ctx, full, data, p.pubOpts...); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", full, err)
		}
		return nil
	})
}

// Close is a no-op; the connection belongs to the Provider.
func (p *jetStreamPublisher) Close() error {
	return nil
}
