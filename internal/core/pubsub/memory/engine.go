package memory

import (
	"context"
	"sync/atomic"

	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

var _ pubsub.Provider = (*Engine)(nil)

// Engine is an in-process pubsub.Provider. Messages are not retained: a
// subscriber only sees messages published while it is subscribed.
type Engine struct {
	broker *broker
}

func New() *Engine {
	e := &Engine{}
	e.broker = newBroker(e)
	return e
}

func (e *Engine) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &publisher{broker: e.broker, opts: opts}, nil
}

func (e *Engine) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &memoryConsumer{engine: e, broker: e.broker, opts: opts}, nil
}

// Close ends every subscription; later publishes fail with ErrEngineClosed.
func (e *Engine) Close() error {
	return e.broker.close()
}

func (e *Engine) IsClosed() bool {
	return e.broker.isClosed()
}

// Subscribers returns the number of live subscriptions.
func (e *Engine) Subscribers() int {
	return e.broker.subscriberCount()
}

type publisher struct {
	broker *broker
	opts   pubsub.PublisherOptions
	closed atomic.Bool
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrEngineClosed
	}
	return p.opts.Send(subject, func(full string) error {
		return p.broker.publish(ctx, full, data)
	})
}

func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}
