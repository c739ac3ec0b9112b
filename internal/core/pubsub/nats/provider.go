package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

var errNotConnected = errors.New("NATS not connected, call Connect first")

// conn is the part of *nats.Conn the provider owns.
type conn interface {
	Close()
}

// dialer opens a connection and a JetStream context on it.
type dialer func(url, name string) (conn, JetStream, error)

func dial(url, name string) (conn, JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "component", "pubsub", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "component", "pubsub", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	js, err := NewJetStream(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream: %w", err)
	}
	return nc, js, nil
}

// Provider implements pubsub.Provider on NATS JetStream. Connect must
// succeed before publishers or consumers are created.
type Provider struct {
	url  string
	name string
	dial dialer

	mu sync.RWMutex
	nc conn
	js JetStream
}

var (
	_ pubsub.Provider    = (*Provider)(nil)
	_ pubsub.Connectable = (*Provider)(nil)
)

// NewProvider returns an unconnected provider. name is the connection name
// reported to the server, normally the node's service id.
func NewProvider(url, name string) *Provider {
	return &Provider{url: url, name: name, dial: dial}
}

func (p *Provider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nc, js, err := p.dial(p.url, p.name)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}

	p.mu.Lock()
	p.nc, p.js = nc, js
	p.mu.Unlock()
	slog.Info("Connected to NATS", "component", "pubsub", "url", p.url, "name", p.name)
	return nil
}

func (p *Provider) jetStream() (JetStream, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.js == nil {
		return nil, errNotConnected
	}
	return p.js, nil
}

func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	js, err := p.jetStream()
	if err != nil {
		return nil, err
	}
	return NewPublisher(js, opts)
}

func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	js, err := p.jetStream()
	if err != nil {
		return nil, err
	}
	return NewConsumer(js, opts)
}

// Close drops the connection. It is safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	nc := p.nc
	p.nc, p.js = nil, nil
	p.mu.Unlock()

	if nc != nil {
		slog.Info("Closing NATS connection", "component", "pubsub", "url", p.url)
		nc.Close()
	}
	return nil
}
