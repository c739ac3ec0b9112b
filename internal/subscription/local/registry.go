// Package local holds the subscriptions of the client sessions connected to
// this node and hands them delivered updates.
package local

import (
	"context"
	"log/slog"
	"sync"

	"github.com/syntrixbase/fanout/internal/cluster"
	"github.com/syntrixbase/fanout/internal/codec"
	"github.com/syntrixbase/fanout/internal/dispatch"
	"github.com/syntrixbase/fanout/internal/metrics"
	"github.com/syntrixbase/fanout/internal/subscription"
)

// Config configures the registry.
type Config struct {
	// Workers run consumer callbacks. Defaults to 20.
	Workers int
	// QueueSize is the per-worker backlog. Defaults to 1000.
	QueueSize int
}

// Sender publishes a message to another node. *outbox.Outbox implements it.
type Sender interface {
	Send(key, topic string, msg codec.Message) error
}

// Stats is a snapshot of the registry.
type Stats struct {
	Sessions      int `json:"sessions"`
	Subscriptions int `json:"subscriptions"`
}

type record struct {
	sub      subscription.Subscription
	consumer subscription.UpdateConsumer
}

// Registry is the client-facing side of subscriptions. Subscriptions are
// registered with the owner of the entity's partition; updates come back
// through OnSubscriptionUpdate and run on a keyed pool so one subscription
// sees its updates in order.
type Registry struct {
	partitions cluster.PartitionService
	manager    subscription.ManagerService
	sender     Sender
	pool       *dispatch.Pool
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]map[int32]record
	owned    map[int]struct{}
}

var _ subscription.LocalService = (*Registry)(nil)

// New creates a registry. The manager handles subscriptions of owned
// partitions in-process; everything else goes through sender.
func New(cfg Config, partitions cluster.PartitionService, manager subscription.ManagerService, sender Sender, logger *slog.Logger) *Registry {
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		partitions: partitions,
		manager:    manager,
		sender:     sender,
		pool:       dispatch.New(dispatch.Config{Name: "delivery", Workers: cfg.Workers, QueueSize: cfg.QueueSize}, logger),
		logger:     logger.With("component", "local-subscriptions"),
		sessions:   make(map[string]map[int32]record),
		owned:      make(map[int]struct{}),
	}
	for _, tpi := range partitions.OwnedPartitions() {
		r.owned[tpi.Partition] = struct{}{}
	}
	return r
}

// Stop waits for queued callbacks.
func (r *Registry) Stop(ctx context.Context) error {
	return r.pool.Stop(ctx)
}

// AddSubscription records sub and registers it with the partition owner.
// Registration is best effort; failures are logged.
func (r *Registry) AddSubscription(sub subscription.Subscription, consumer subscription.UpdateConsumer) {
	key := sub.Key()
	r.mu.Lock()
	session := r.sessions[key.SessionID]
	if session == nil {
		session = make(map[int32]record)
		r.sessions[key.SessionID] = session
	}
	old, replaced := session[key.SubscriptionID]
	session[key.SubscriptionID] = record{sub: sub, consumer: consumer}
	r.mu.Unlock()
	if !replaced {
		metrics.LocalSubscriptions.Inc()
	}

	// A reused id for another target must not leave the old registration
	// behind at its owner.
	if replaced && !sameTarget(old.sub, sub) {
		r.unregister(old.sub)
	}
	r.register(sub)
}

func sameTarget(a, b subscription.Subscription) bool {
	return a.Type() == b.Type() &&
		a.Common().TenantID == b.Common().TenantID &&
		a.Common().EntityID == b.Common().EntityID
}

// CancelSubscription forgets the subscription and cancels it at the
// partition owner.
func (r *Registry) CancelSubscription(sessionID string, subscriptionID int32) {
	rec, ok := r.remove(sessionID, subscriptionID)
	if !ok {
		r.logger.Debug("Subscription not found", "sessionID", sessionID, "subscriptionID", subscriptionID)
		return
	}
	r.unregister(rec.sub)
}

// CancelAllSessionSubscriptions cancels every subscription of the session.
func (r *Registry) CancelAllSessionSubscriptions(sessionID string) {
	r.mu.Lock()
	session := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	for _, rec := range session {
		metrics.LocalSubscriptions.Dec()
		r.unregister(rec.sub)
	}
	if len(session) > 0 {
		r.logger.Debug("Canceled session subscriptions", "sessionID", sessionID, "count", len(session))
	}
}

// OnSubscriptionUpdate hands update to the subscription's consumer on the
// delivery pool.
func (r *Registry) OnSubscriptionUpdate(sessionID string, update subscription.Update) {
	r.mu.RLock()
	rec, ok := r.sessions[sessionID][update.SubscriptionID()]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("Update for unknown subscription", "sessionID", sessionID, "subscriptionID", update.SubscriptionID())
		return
	}
	if !update.Accepts(rec.sub.Type()) {
		r.logger.Warn("Update does not match subscription type",
			"sessionID", sessionID, "subscriptionID", update.SubscriptionID(), "type", rec.sub.Type().String())
		return
	}
	if tu, ok := update.(*subscription.TelemetryUpdate); ok && !tu.IsError() {
		if ks := subscription.TelemetryKeys(rec.sub); ks != nil {
			ks.Merge(tu.LatestValues())
		}
	}

	err := r.pool.Submit(rec.sub.Key().String(), func() {
		rec.consumer.OnUpdate(rec.sub, update)
	})
	metrics.DispatchPending.WithLabelValues("delivery").Set(float64(r.pool.Pending()))
	if err != nil {
		metrics.DeliveryErrors.WithLabelValues("dispatch").Inc()
		r.logger.Error("Failed to dispatch update", "sessionID", sessionID, "subscriptionID", update.SubscriptionID(), "error", err)
	}
}

// OnPartitionChange replaces the owned partition set.
func (r *Registry) OnPartitionChange(ev cluster.PartitionChangeEvent) {
	owned := make(map[int]struct{}, len(ev.Partitions))
	for _, tpi := range ev.Partitions {
		owned[tpi.Partition] = struct{}{}
	}
	r.mu.Lock()
	r.owned = owned
	r.mu.Unlock()
}

// OnClusterTopologyChange registers every local subscription again. The
// new owners of moved partitions learn about them this way.
func (r *Registry) OnClusterTopologyChange(ev cluster.ClusterTopologyChangeEvent) {
	var subs []subscription.Subscription
	r.mu.RLock()
	for _, session := range r.sessions {
		for _, rec := range session {
			subs = append(subs, rec.sub)
		}
	}
	r.mu.RUnlock()

	r.logger.Info("Cluster topology changed, resubmitting subscriptions",
		"services", len(ev.Services), "subscriptions", len(subs))
	for _, sub := range subs {
		r.register(sub)
	}
}

// ResubmitPartitions registers again every subscription whose entity lives
// on one of the partitions. New partition owners request it once they
// follow the partition topics.
func (r *Registry) ResubmitPartitions(partitions []int) {
	want := make(map[int]struct{}, len(partitions))
	for _, p := range partitions {
		want[p] = struct{}{}
	}
	var subs []subscription.Subscription
	r.mu.RLock()
	for _, session := range r.sessions {
		for _, rec := range session {
			subs = append(subs, rec.sub)
		}
	}
	r.mu.RUnlock()

	resubmitted := 0
	for _, sub := range subs {
		b := sub.Common()
		if _, ok := want[r.partitions.Resolve(b.TenantID, b.EntityID).Partition]; !ok {
			continue
		}
		r.register(sub)
		resubmitted++
	}
	r.logger.Debug("Resubmitted subscriptions", "partitions", partitions, "count", resubmitted)
}

// Stats returns the number of sessions and subscriptions held.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{Sessions: len(r.sessions)}
	for _, session := range r.sessions {
		st.Subscriptions += len(session)
	}
	return st
}

// Subscription returns the local record of a subscription.
func (r *Registry) Subscription(sessionID string, subscriptionID int32) (subscription.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[sessionID][subscriptionID]
	return rec.sub, ok
}

func (r *Registry) remove(sessionID string, subscriptionID int32) (record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[sessionID]
	rec, ok := session[subscriptionID]
	if !ok {
		return record{}, false
	}
	delete(session, subscriptionID)
	if len(session) == 0 {
		delete(r.sessions, sessionID)
	}
	metrics.LocalSubscriptions.Dec()
	return rec, true
}

func (r *Registry) ownerIsLocal(sub subscription.Subscription) (cluster.TopicPartitionInfo, bool) {
	b := sub.Common()
	tpi := r.partitions.Resolve(b.TenantID, b.EntityID)
	r.mu.RLock()
	_, ok := r.owned[tpi.Partition]
	r.mu.RUnlock()
	return tpi, ok
}

func (r *Registry) register(sub subscription.Subscription) {
	b := sub.Common()
	tpi, local := r.ownerIsLocal(sub)
	if local {
		if err := r.manager.AddSubscription(sub); err != nil {
			r.logger.Warn("Failed to register subscription locally",
				"sessionID", b.SessionID, "subscriptionID", b.SubscriptionID, "entity", b.EntityID.String(), "error", err)
		}
		return
	}
	if err := r.sender.Send(sub.Key().String(), tpi.Topic, &codec.SubscriptionAdd{Subscription: sub}); err != nil {
		r.logger.Error("Failed to send subscription",
			"sessionID", b.SessionID, "subscriptionID", b.SubscriptionID, "topic", tpi.Topic, "error", err)
	}
}

func (r *Registry) unregister(sub subscription.Subscription) {
	key := sub.Key()
	tpi, local := r.ownerIsLocal(sub)
	// The local manager may still hold a copy from before a rebalance.
	r.manager.CancelSubscription(key.SessionID, key.SubscriptionID)
	if local {
		return
	}
	msg := &codec.SubscriptionClose{SessionID: key.SessionID, SubscriptionID: key.SubscriptionID}
	if err := r.sender.Send(key.String(), tpi.Topic, msg); err != nil {
		r.logger.Error("Failed to send subscription close",
			"sessionID", key.SessionID, "subscriptionID", key.SubscriptionID, "topic", tpi.Topic, "error", err)
	}
}
