// Package manager tracks the subscriptions of the partitions this node owns
// and fans data-plane changes out to them.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/syntrixbase/fanout/internal/cluster"
	"github.com/syntrixbase/fanout/internal/codec"
	"github.com/syntrixbase/fanout/internal/core/storage"
	"github.com/syntrixbase/fanout/internal/devicestate"
	"github.com/syntrixbase/fanout/internal/metrics"
	"github.com/syntrixbase/fanout/internal/subscription"
	"github.com/syntrixbase/fanout/pkg/model"
)

// Config configures the manager.
type Config struct {
	// CatchUpQueueSize bounds pending catch-up fetches. Fetches beyond it
	// are skipped. Defaults to 1000.
	CatchUpQueueSize int
	// HistoryLimit caps the values fetched per key on a history catch-up.
	// Defaults to 1000.
	HistoryLimit int
	// CatchUpTimeout bounds one catch-up fetch. Defaults to 30s.
	CatchUpTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.CatchUpQueueSize <= 0 {
		c.CatchUpQueueSize = 1000
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 1000
	}
	if c.CatchUpTimeout <= 0 {
		c.CatchUpTimeout = 30 * time.Second
	}
}

// Sender publishes a message to another node. *outbox.Outbox implements it.
type Sender interface {
	Send(key, topic string, msg codec.Message) error
}

// Deps are the collaborators of the manager.
type Deps struct {
	Partitions cluster.PartitionService
	Timeseries storage.TimeseriesReader
	Attributes storage.AttributesReader
	Tracker    devicestate.Tracker
	Sender     Sender
}

// Stats is a snapshot of the index sizes.
type Stats struct {
	Entities        int `json:"entities"`
	Sessions        int `json:"sessions"`
	Subscriptions   int `json:"subscriptions"`
	OwnedPartitions int `json:"ownedPartitions"`
}

// Manager is the authoritative subscription index for owned partitions.
type Manager struct {
	cfg        Config
	serviceID  string
	partitions cluster.PartitionService
	tsReader   storage.TimeseriesReader
	attrReader storage.AttributesReader
	tracker    devicestate.Tracker
	sender     Sender
	logger     *slog.Logger
	now        func() int64

	localMu sync.RWMutex
	local   subscription.LocalService

	mu sync.RWMutex
	ix *index

	// deliveryLocks serialize filtering and hand-off per subscription key.
	deliveryLocks [deliveryLockStripes]sync.Mutex

	catchUps  chan func(context.Context)
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

const deliveryLockStripes = 64

var (
	_ subscription.ManagerService = (*Manager)(nil)
	_ subscription.DataListener   = (*Manager)(nil)
)

// New creates a manager owning the partitions the oracle currently reports.
func New(cfg Config, deps Deps, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:        cfg,
		serviceID:  deps.Partitions.ServiceID(),
		partitions: deps.Partitions,
		tsReader:   deps.Timeseries,
		attrReader: deps.Attributes,
		tracker:    deps.Tracker,
		sender:     deps.Sender,
		logger:     logger.With("component", "subscription-manager"),
		now:        func() int64 { return time.Now().UnixMilli() },
		ix:         newIndex(),
		catchUps:   make(chan func(context.Context), cfg.CatchUpQueueSize),
		done:       make(chan struct{}),
	}
	for _, tpi := range deps.Partitions.OwnedPartitions() {
		m.ix.owned[tpi.Partition] = struct{}{}
	}
	return m
}

// SetLocalService wires the registry that receives updates for sessions on
// this node.
func (m *Manager) SetLocalService(local subscription.LocalService) {
	m.localMu.Lock()
	defer m.localMu.Unlock()
	m.local = local
}

func (m *Manager) localService() subscription.LocalService {
	m.localMu.RLock()
	defer m.localMu.RUnlock()
	return m.local
}

// Start runs the catch-up executor.
func (m *Manager) Start(ctx context.Context) error {
	m.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.cancel = cancel
		go m.runCatchUps(runCtx)
	})
	return nil
}

// Stop stops the catch-up executor. Pending fetches are abandoned.
func (m *Manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		if m.cancel == nil {
			close(m.done)
			return
		}
		m.cancel()
		select {
		case <-m.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// AddSubscription indexes sub when its entity's partition is owned. A new
// subscription triggers an asynchronous catch-up fetch; re-adding a known
// one merges its watermarks instead.
func (m *Manager) AddSubscription(sub subscription.Subscription) error {
	b := sub.Common()
	tpi := m.partitions.Resolve(b.TenantID, b.EntityID)

	m.mu.Lock()
	if _, ok := m.ix.owned[tpi.Partition]; !ok {
		m.mu.Unlock()
		m.logger.Warn("Entity belongs to external partition, probably rebalancing is in progress",
			"sessionID", b.SessionID, "subscriptionID", b.SubscriptionID,
			"entity", b.EntityID.String(), "topic", tpi.Topic)
		return fmt.Errorf("%w: %s", subscription.ErrNotOwnedPartition, tpi.Topic)
	}
	isNew := true
	if existing := m.ix.get(sub.Key()); existing != nil {
		if sameTarget(existing, sub) {
			if ks := subscription.TelemetryKeys(existing); ks != nil {
				ks.Merge(subscription.TelemetryKeys(sub).Snapshot())
			}
			isNew = false
		} else {
			m.ix.remove(sub.Key())
			metrics.ManagedSubscriptions.WithLabelValues(existing.Type().String()).Dec()
		}
	}
	if isNew {
		m.ix.insert(sub, tpi.Partition)
		metrics.ManagedSubscriptions.WithLabelValues(sub.Type().String()).Inc()
	}
	m.mu.Unlock()

	m.logger.Debug("Registered subscription",
		"sessionID", b.SessionID, "subscriptionID", b.SubscriptionID,
		"serviceID", b.ServiceID, "entity", b.EntityID.String(), "new", isNew)
	if isNew {
		m.scheduleCatchUp(sub)
	}
	return nil
}

func sameTarget(a, b subscription.Subscription) bool {
	return a.Type() == b.Type() &&
		a.Common().EntityID == b.Common().EntityID &&
		a.Common().ServiceID == b.Common().ServiceID
}

// CancelSubscription removes the subscription from every index.
func (m *Manager) CancelSubscription(sessionID string, subscriptionID int32) {
	key := subscription.Key{SessionID: sessionID, SubscriptionID: subscriptionID}
	m.mu.Lock()
	sub := m.ix.remove(key)
	m.mu.Unlock()

	if sub == nil {
		m.logger.Debug("Subscription not found", "sessionID", sessionID, "subscriptionID", subscriptionID)
		return
	}
	metrics.ManagedSubscriptions.WithLabelValues(sub.Type().String()).Dec()
	m.logger.Debug("Removed subscription", "sessionID", sessionID, "subscriptionID", subscriptionID)
}

// OnPartitionChange replaces the owned set. Subscriptions of other nodes'
// sessions indexed under a lost partition are forgotten; this node's own
// stay until their session cancels them or the registry resubmits them.
func (m *Manager) OnPartitionChange(ev cluster.PartitionChangeEvent) {
	owned := make(map[int]struct{}, len(ev.Partitions))
	for _, tpi := range ev.Partitions {
		owned[tpi.Partition] = struct{}{}
	}

	var forgotten []subscription.Subscription
	m.mu.Lock()
	for p := range m.ix.owned {
		if _, still := owned[p]; still {
			continue
		}
		for _, sub := range m.ix.forgetPartition(p) {
			if sub.Common().ServiceID == m.serviceID {
				continue
			}
			m.ix.removeFromEntity(sub)
			m.ix.removeFromSession(sub.Key())
			forgotten = append(forgotten, sub)
		}
	}
	m.ix.owned = owned
	m.mu.Unlock()

	for _, sub := range forgotten {
		metrics.ManagedSubscriptions.WithLabelValues(sub.Type().String()).Dec()
	}
	m.logger.Info("Partitions changed", "owned", len(owned), "forgotten", len(forgotten))
}

// Owns reports whether the partition of the entity is owned.
func (m *Manager) Owns(tenantID model.TenantID, entityID model.EntityID) bool {
	p := m.partitions.Resolve(tenantID, entityID).Partition
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ix.owned[p]
	return ok
}

// Stats returns index sizes.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := 0
	for _, s := range m.ix.bySession {
		subs += len(s)
	}
	return Stats{
		Entities:        len(m.ix.byEntity),
		Sessions:        len(m.ix.bySession),
		Subscriptions:   subs,
		OwnedPartitions: len(m.ix.owned),
	}
}

// EntitySubscriptions returns the subscriptions indexed for the entity.
func (m *Manager) EntitySubscriptions(entityID model.EntityID) []subscription.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ix.entitySubscriptions(entityID)
}

func (m *Manager) isCurrent(sub subscription.Subscription) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ix.get(sub.Key()) == sub
}

// serialize runs fn under the delivery lock of sub. Watermarks advanced in
// fn reach the subscriber in the same order they were advanced.
func (m *Manager) serialize(sub subscription.Subscription, fn func()) {
	k := sub.Key()
	h := xxhash.Sum64String(k.SessionID) ^ uint64(uint32(k.SubscriptionID))
	mu := &m.deliveryLocks[h%deliveryLockStripes]
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// deliver hands update to the registry when the session is local and
// publishes it to the session's node otherwise.
func (m *Manager) deliver(sub subscription.Subscription, update subscription.Update) {
	b := sub.Common()
	if b.ServiceID == m.serviceID {
		local := m.localService()
		if local == nil {
			metrics.DeliveryErrors.WithLabelValues("local").Inc()
			m.logger.Error("No local service to deliver to", "sessionID", b.SessionID, "subscriptionID", b.SubscriptionID)
			return
		}
		metrics.Deliveries.WithLabelValues("local").Inc()
		local.OnSubscriptionUpdate(b.SessionID, update)
		return
	}

	msg := &codec.SubscriptionUpdate{SessionID: b.SessionID, Update: update}
	if err := m.sender.Send(sub.Key().String(), m.partitions.NotificationsTopic(b.ServiceID), msg); err != nil {
		m.logger.Error("Failed to send subscription update",
			"sessionID", b.SessionID, "subscriptionID", b.SubscriptionID, "serviceID", b.ServiceID, "error", err)
		return
	}
	metrics.Deliveries.WithLabelValues("remote").Inc()
}

// deliverTelemetry drops keys without values when ignoreEmpty is set.
func (m *Manager) deliverTelemetry(sub subscription.Subscription, entries []model.TsKvEntry, ignoreEmpty bool) {
	if len(entries) == 0 {
		return
	}
	update := subscription.NewTelemetryUpdate(sub.Common().SubscriptionID, entries)
	if ignoreEmpty {
		if update = update.WithoutEmpty(); update == nil {
			return
		}
	}
	m.deliver(sub, update)
}
