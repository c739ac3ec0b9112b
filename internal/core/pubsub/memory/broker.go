package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

// broker routes published messages to every subscription with a matching
// pattern.
type broker struct {
	engine        *Engine
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        uint64
	closed        atomic.Bool
}

// subscription is one consumer's channel. Sends happen under sendMu's read
// lock; the channel is closed under its write lock after ctx is cancelled,
// so a blocked sender always wakes up before the close.
type subscription struct {
	patterns []string
	msgCh    chan pubsub.Message
	ctx      context.Context
	cancel   context.CancelFunc

	sendMu sync.RWMutex
	done   bool
}

func newBroker(engine *Engine) *broker {
	return &broker{
		engine:        engine,
		subscriptions: make(map[uint64]*subscription),
	}
}

func (s *subscription) matches(subject string) bool {
	for _, p := range s.patterns {
		if matchSubject(p, subject) {
			return true
		}
	}
	return false
}

// deliver sends msg, blocking until there is room unless block is false.
// It reports whether the message was queued.
func (s *subscription) deliver(ctx context.Context, msg pubsub.Message, block bool) (bool, error) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.done {
		return false, nil
	}
	if !block {
		select {
		case s.msgCh <- msg:
			return true, nil
		default:
			return false, nil
		}
	}
	select {
	case s.msgCh <- msg:
		return true, nil
	case <-s.ctx.Done():
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *subscription) close() {
	s.cancel()
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.done {
		s.done = true
		close(s.msgCh)
	}
}

// publish sends a message to all matching subscriptions. The broker lock is
// released before any channel send.
func (b *broker) publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrEngineClosed
	}

	b.mu.RLock()
	var targets []*subscription
	for _, sub := range b.subscriptions {
		if sub.matches(subject) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	now := time.Now()
	for _, sub := range targets {
		msg := newMessage(b.engine, sub, subject, data, now)
		if _, err := sub.deliver(ctx, msg, true); err != nil {
			return err
		}
	}
	return nil
}

// subscribe registers a subscription for patterns and returns its channel
// and an idempotent unsubscribe function.
func (b *broker) subscribe(ctx context.Context, patterns []string, bufSize int) (<-chan pubsub.Message, func(), error) {
	if b.closed.Load() {
		return nil, nil, ErrEngineClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		patterns: append([]string(nil), patterns...),
		msgCh:    make(chan pubsub.Message, bufSize),
		ctx:      subCtx,
		cancel:   cancel,
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		cancel()
		return nil, nil, ErrEngineClosed
	}
	b.nextID++
	id := b.nextID
	b.subscriptions[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscriptions, id)
		b.mu.Unlock()
		sub.close()
	}
	return sub.msgCh, unsubscribe, nil
}

// close shuts down the broker and all subscriptions.
func (b *broker) close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := b.subscriptions
	b.subscriptions = make(map[uint64]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return nil
}

func (b *broker) isClosed() bool {
	return b.closed.Load()
}

// subscriberCount returns the number of live subscriptions.
func (b *broker) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
