package cluster

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

// MembershipConfig configures queue heartbeats.
type MembershipConfig struct {
	// Topic carries heartbeats of every node.
	Topic string
	// Interval between heartbeats.
	Interval time.Duration
	// TTL after which a silent peer is considered gone.
	TTL time.Duration
}

type heartbeat struct {
	ServiceID string `json:"serviceId"`
	Ts        int64  `json:"ts"`
	Leaving   bool   `json:"leaving,omitempty"`
}

// Membership discovers live nodes through heartbeats published on the queue
// and feeds the resulting service list into a HashPartitionService.
type Membership struct {
	svc      *HashPartitionService
	pub      pubsub.Publisher
	consumer pubsub.Consumer
	cfg      MembershipConfig
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	peers map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMembership creates a heartbeat based membership tracker. The consumer
// must follow cfg.Topic.
func NewMembership(svc *HashPartitionService, pub pubsub.Publisher, consumer pubsub.Consumer, cfg MembershipConfig, logger *slog.Logger) *Membership {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.TTL <= cfg.Interval {
		cfg.TTL = 3 * cfg.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Membership{
		svc:      svc,
		pub:      pub,
		consumer: consumer,
		cfg:      cfg,
		logger:   logger.With("component", "membership"),
		now:      time.Now,
		peers:    make(map[string]time.Time),
	}
}

// Start announces this node, applies the initial membership and runs the
// heartbeat loop until Stop.
func (m *Membership) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	msgs, err := m.consumer.Subscribe(loopCtx)
	if err != nil {
		cancel()
		return err
	}
	m.cancel = cancel
	m.done = make(chan struct{})

	m.apply()
	if err := m.announce(ctx, false); err != nil {
		m.logger.Warn("Failed to publish heartbeat", "error", err)
	}

	go m.run(loopCtx, msgs)
	return nil
}

// Stop announces departure and stops the loop.
func (m *Membership) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	if err := m.announce(ctx, true); err != nil {
		m.logger.Warn("Failed to publish leave heartbeat", "error", err)
	}
	m.cancel()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Membership) run(ctx context.Context, msgs <-chan pubsub.Message) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.announce(ctx, false); err != nil && ctx.Err() == nil {
				m.logger.Warn("Failed to publish heartbeat", "error", err)
			}
			if m.sweep() {
				m.apply()
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var hb heartbeat
			if err := json.Unmarshal(msg.Data(), &hb); err != nil || hb.ServiceID == "" {
				m.logger.Error("Dropping malformed heartbeat", "subject", msg.Subject(), "error", err)
				_ = msg.Term()
				continue
			}
			_ = msg.Ack()
			if m.observe(hb) {
				m.apply()
			}
		}
	}
}

func (m *Membership) announce(ctx context.Context, leaving bool) error {
	data, err := json.Marshal(heartbeat{ServiceID: m.svc.ServiceID(), Ts: m.now().UnixMilli(), Leaving: leaving})
	if err != nil {
		return err
	}
	return m.pub.Publish(ctx, m.cfg.Topic, data)
}

// observe records a heartbeat and reports whether the live set changed.
func (m *Membership) observe(hb heartbeat) bool {
	if hb.ServiceID == m.svc.ServiceID() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, known := m.peers[hb.ServiceID]
	if hb.Leaving {
		delete(m.peers, hb.ServiceID)
		return known
	}
	m.peers[hb.ServiceID] = m.now()
	return !known
}

// sweep expires silent peers and reports whether any expired.
func (m *Membership) sweep() bool {
	cutoff := m.now().Add(-m.cfg.TTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := false
	for id, seen := range m.peers {
		if seen.Before(cutoff) {
			m.logger.Info("Peer expired", "service", id)
			delete(m.peers, id)
			expired = true
		}
	}
	return expired
}

// Live returns this node plus every live peer, sorted.
func (m *Membership) Live() []string {
	m.mu.Lock()
	live := slices.Collect(maps.Keys(m.peers))
	m.mu.Unlock()
	live = append(live, m.svc.ServiceID())
	slices.Sort(live)
	return live
}

func (m *Membership) apply() {
	m.svc.UpdateMembership(m.Live())
}
