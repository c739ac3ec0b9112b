// Package testing provides in-memory doubles of the queue interfaces: a
// publisher that records what was sent, messages that remember how they
// were settled, and a provider that hands them out.
package testing

import (
	"context"
	"sync"
	"time"

	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

// Published is one recorded Publish call.
type Published struct {
	Subject string
	Data    []byte
}

// Publisher records every successful Publish.
type Publisher struct {
	mu     sync.Mutex
	sent   []Published
	err    error
	closed bool
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, Published{Subject: subject, Data: append([]byte(nil), data...)})
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Fail makes later Publish calls return err. A nil err clears it.
func (p *Publisher) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Sent returns every recorded message in publish order.
func (p *Publisher) Sent() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.sent...)
}

// On returns the messages published to subject, in order.
func (p *Publisher) On(subject string) []Published {
	var out []Published
	for _, m := range p.Sent() {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Settlement is how a Message was finished by its consumer.
type Settlement int

const (
	Pending Settlement = iota
	Acked
	Naked
	Termed
)

// Message is a pubsub.Message that records its settlement.
type Message struct {
	subject string
	data    []byte
	at      time.Time

	mu    sync.Mutex
	state Settlement
	delay time.Duration
}

func NewMessage(subject string, data []byte) *Message {
	return &Message{subject: subject, data: data, at: time.Now()}
}

func (m *Message) Data() []byte    { return m.data }
func (m *Message) Subject() string { return m.subject }

func (m *Message) Ack() error  { return m.settle(Acked, 0) }
func (m *Message) Nak() error  { return m.settle(Naked, 0) }
func (m *Message) Term() error { return m.settle(Termed, 0) }

func (m *Message) NakWithDelay(d time.Duration) error {
	return m.settle(Naked, d)
}

func (m *Message) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{NumDelivered: 1, Timestamp: m.at, Subject: m.subject}, nil
}

func (m *Message) settle(s Settlement, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.delay = d
	return nil
}

// State returns the last settlement and the nak delay, if any.
func (m *Message) State() (Settlement, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.delay
}

func (m *Message) IsAcked() bool {
	s, _ := m.State()
	return s == Acked
}

func (m *Message) IsTermed() bool {
	s, _ := m.State()
	return s == Termed
}

// Consumer delivers whatever the test pushes with Deliver. The channel
// closes when the Subscribe context ends.
type Consumer struct {
	mu  sync.Mutex
	ch  chan pubsub.Message
	err error
}

func NewConsumer() *Consumer {
	return &Consumer{}
}

func (c *Consumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	ch := make(chan pubsub.Message, 64)
	c.ch = ch
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ch == ch {
			c.ch = nil
		}
		close(ch)
	}()
	return ch, nil
}

// Deliver pushes msg to the current subscription. It reports false when
// nothing is subscribed.
func (c *Consumer) Deliver(msg pubsub.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return false
	}
	c.ch <- msg
	return true
}

// Fail makes later Subscribe calls return err.
func (c *Consumer) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Provider hands out one shared Publisher and a fresh Consumer per call,
// recording the options each was built with.
type Provider struct {
	Publisher *Publisher

	mu          sync.Mutex
	consumers   []*Consumer
	consumerOpt []pubsub.ConsumerOptions
	consumerErr error
	closed      bool
}

func NewProvider() *Provider {
	return &Provider{Publisher: NewPublisher()}
}

func (p *Provider) NewPublisher(pubsub.PublisherOptions) (pubsub.Publisher, error) {
	return p.Publisher, nil
}

func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := NewConsumer()
	c.Fail(p.consumerErr)
	p.consumers = append(p.consumers, c)
	p.consumerOpt = append(p.consumerOpt, opts)
	return c, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// FailSubscribe makes consumers created from now on fail to subscribe.
func (p *Provider) FailSubscribe(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumerErr = err
}

// Consumers returns every consumer handed out, with its options.
func (p *Provider) Consumers() ([]*Consumer, []pubsub.ConsumerOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Consumer(nil), p.consumers...), append([]pubsub.ConsumerOptions(nil), p.consumerOpt...)
}

func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
