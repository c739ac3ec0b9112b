package memory

import (
	"context"

	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

// memoryConsumer implements pubsub.Consumer using an in-memory broker.
type memoryConsumer struct {
	engine *Engine
	broker *broker
	opts   pubsub.ConsumerOptions
}

// patterns returns the subject patterns to follow. Without filters the
// consumer follows the whole stream subject space.
func (c *memoryConsumer) patterns() []string {
	if len(c.opts.FilterSubjects) > 0 {
		return c.opts.FilterSubjects
	}
	switch {
	case len(c.opts.StreamSubjects) > 0:
		return c.opts.StreamSubjects
	case c.opts.StreamName != "":
		return []string{c.opts.StreamName + ".>"}
	default:
		return []string{">"}
	}
}

// Subscribe starts consuming messages and returns a channel that is closed
// when ctx is cancelled.
func (c *memoryConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	if c.engine.IsClosed() {
		return nil, ErrEngineClosed
	}

	bufSize := c.opts.ChannelBufSize
	if bufSize <= 0 {
		bufSize = pubsub.DefaultConsumerOptions().ChannelBufSize
	}

	msgCh, unsubscribe, err := c.broker.subscribe(ctx, c.patterns(), bufSize)
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return msgCh, nil
}
