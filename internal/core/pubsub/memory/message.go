package memory

import (
	"sync/atomic"
	"time"

	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

// memoryMessage is one delivery to one subscription. The first Ack, Nak or
// Term settles it; a Nak puts it back on the same subscription as a new
// delivery.
type memoryMessage struct {
	data    []byte
	subject string
	at      time.Time

	engine *Engine
	sub    *subscription

	settled   atomic.Bool
	delivered atomic.Uint64
}

func newMessage(e *Engine, sub *subscription, subject string, data []byte, at time.Time) *memoryMessage {
	m := &memoryMessage{data: data, subject: subject, at: at, engine: e, sub: sub}
	m.delivered.Store(1)
	return m
}

func (m *memoryMessage) Data() []byte    { return m.data }
func (m *memoryMessage) Subject() string { return m.subject }

func (m *memoryMessage) settle() bool {
	return m.settled.CompareAndSwap(false, true)
}

func (m *memoryMessage) Ack() error {
	m.settle()
	return nil
}

func (m *memoryMessage) Term() error {
	m.settle()
	return nil
}

// Nak requeues immediately. The message is dropped when the subscription
// channel is full.
func (m *memoryMessage) Nak() error {
	return m.NakWithDelay(0)
}

// NakWithDelay requeues after delay, waiting for room in the channel.
func (m *memoryMessage) NakWithDelay(delay time.Duration) error {
	if !m.settle() {
		return nil
	}
	redeliver := func() {
		if m.engine.IsClosed() || m.sub.ctx.Err() != nil {
			return
		}
		m.delivered.Add(1)
		m.settled.Store(false)
		_, _ = m.sub.deliver(m.sub.ctx, m, delay > 0)
	}
	if delay <= 0 {
		redeliver()
		return nil
	}
	time.AfterFunc(delay, redeliver)
	return nil
}

func (m *memoryMessage) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{
		NumDelivered: m.delivered.Load(),
		Timestamp:    m.at,
		Subject:      m.subject,
	}, nil
}
