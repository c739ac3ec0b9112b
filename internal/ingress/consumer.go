// Package ingress consumes the queue topics addressed to this node and
// hands decoded messages to the subscription manager and registry.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/syntrixbase/fanout/internal/cluster"
	"github.com/syntrixbase/fanout/internal/codec"
	"github.com/syntrixbase/fanout/internal/core/pubsub"
	"github.com/syntrixbase/fanout/internal/metrics"
	"github.com/syntrixbase/fanout/internal/subscription"
)

// Handler is the local subscription manager.
type Handler interface {
	subscription.ManagerService
	subscription.DataListener
}

// Sessions is the registry of the sessions held by this node.
type Sessions interface {
	subscription.LocalService
	ResubmitPartitions(partitions []int)
}

// Sender publishes a message to another node. *outbox.Outbox implements it.
type Sender interface {
	Send(key, topic string, msg codec.Message) error
}

// Config configures the queue consumer.
type Config struct {
	StreamName string
	// StreamSubjects are used when the stream must be created.
	StreamSubjects []string
	// ConsumerName is the durable name. Defaults to fanout-<serviceID>.
	ConsumerName   string
	ChannelBufSize int
	Storage        pubsub.StorageType
}

// Consumer follows this node's notifications topic and the topic of every
// owned partition. It re-subscribes when ownership changes, then asks the
// other nodes to resubmit the subscriptions of the partitions it gained:
// registrations published while nobody followed those topics are lost.
type Consumer struct {
	provider   pubsub.Provider
	cfg        Config
	partitions cluster.PartitionService
	handler    Handler
	local      Sessions
	logger     *slog.Logger

	senderMu sync.RWMutex
	sender   Sender

	mu       sync.Mutex
	started  bool
	subjects []string
	followed map[int]struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(provider pubsub.Provider, cfg Config, partitions cluster.PartitionService, handler Handler, local Sessions, logger *slog.Logger) *Consumer {
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "fanout-" + partitions.ServiceID()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		provider:   provider,
		cfg:        cfg,
		partitions: partitions,
		handler:    handler,
		local:      local,
		logger:     logger.With("component", "ingress"),
		followed:   make(map[int]struct{}),
	}
}

// SetSender wires the outbox used for resync requests. Without it gained
// partitions rely on the session nodes' own topology handling.
func (c *Consumer) SetSender(sender Sender) {
	c.senderMu.Lock()
	defer c.senderMu.Unlock()
	c.sender = sender
}

// Start subscribes to the currently owned partitions.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("ingress consumer already started")
	}
	owned := c.partitions.OwnedPartitions()
	if err := c.subscribeLocked(ctx, c.subjectsFor(owned)); err != nil {
		return err
	}
	c.followed = partitionSet(owned)
	c.started = true
	return nil
}

// Stop ends the current subscription.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	return c.unsubscribeLocked(ctx)
}

// Subjects returns the subjects currently followed.
func (c *Consumer) Subjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.subjects)
}

// OnPartitionChange re-subscribes to the new set of partition topics.
func (c *Consumer) OnPartitionChange(ev cluster.PartitionChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	subjects := c.subjectsFor(ev.Partitions)
	if slices.Equal(subjects, c.subjects) {
		return
	}
	ctx := context.Background()
	if err := c.unsubscribeLocked(ctx); err != nil {
		c.logger.Warn("Previous subscription did not stop cleanly", "error", err)
	}
	if err := c.subscribeLocked(ctx, subjects); err != nil {
		c.logger.Error("Failed to re-subscribe after partition change", "subjects", subjects, "error", err)
		c.followed = make(map[int]struct{})
		return
	}

	var gained []int
	for _, tpi := range ev.Partitions {
		if _, ok := c.followed[tpi.Partition]; !ok {
			gained = append(gained, tpi.Partition)
		}
	}
	c.followed = partitionSet(ev.Partitions)
	if len(gained) > 0 {
		slices.Sort(gained)
		c.requestResync(gained)
	}
}

// requestResync asks every other live node to register again the
// subscriptions it holds for the gained partitions.
func (c *Consumer) requestResync(gained []int) {
	c.senderMu.RLock()
	sender := c.sender
	c.senderMu.RUnlock()
	if sender == nil {
		return
	}
	self := c.partitions.ServiceID()
	msg := &codec.SubscriptionResync{ServiceID: self, Partitions: gained}
	for _, svc := range c.partitions.Services() {
		if svc == self {
			continue
		}
		if err := sender.Send("resync/"+svc, c.partitions.NotificationsTopic(svc), msg); err != nil {
			c.logger.Warn("Failed to request subscription resync", "serviceID", svc, "error", err)
		}
	}
	c.logger.Info("Requested subscription resync", "partitions", gained)
}

func partitionSet(partitions []cluster.TopicPartitionInfo) map[int]struct{} {
	set := make(map[int]struct{}, len(partitions))
	for _, tpi := range partitions {
		set[tpi.Partition] = struct{}{}
	}
	return set
}

func (c *Consumer) subjectsFor(partitions []cluster.TopicPartitionInfo) []string {
	subjects := []string{c.partitions.NotificationsTopic(c.partitions.ServiceID())}
	for _, tpi := range partitions {
		subjects = append(subjects, tpi.Topic)
	}
	slices.Sort(subjects)
	return slices.Compact(subjects)
}

func (c *Consumer) subscribeLocked(ctx context.Context, subjects []string) error {
	consumer, err := c.provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:     c.cfg.StreamName,
		StreamSubjects: c.cfg.StreamSubjects,
		ConsumerName:   c.cfg.ConsumerName,
		FilterSubjects: subjects,
		ChannelBufSize: c.cfg.ChannelBufSize,
		Storage:        c.cfg.Storage,
	})
	if err != nil {
		return fmt.Errorf("failed to create ingress consumer: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := consumer.Subscribe(loopCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe ingress consumer: %w", err)
	}
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.subjects = subjects
	go c.run(msgs, done)
	c.logger.Info("Following topics", "subjects", subjects)
	return nil
}

func (c *Consumer) unsubscribeLocked(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	done := c.done
	c.cancel = nil
	c.done = nil
	c.subjects = nil
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) run(msgs <-chan pubsub.Message, done chan struct{}) {
	defer close(done)
	for msg := range msgs {
		c.handle(msg)
	}
}

// handle applies one message. Malformed payloads are terminated so they
// are never redelivered.
func (c *Consumer) handle(msg pubsub.Message) {
	decoded, err := codec.Decode(msg.Data())
	if err != nil {
		metrics.DecodeFailures.WithLabelValues("ingress").Inc()
		c.logger.Error("Dropping malformed message", "subject", msg.Subject(), "error", err)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to terminate message", "subject", msg.Subject(), "error", err)
		}
		return
	}
	if err := c.dispatch(decoded); err != nil {
		c.logger.Error("Dropping unexpected message", "subject", msg.Subject(), "kind", decoded.Kind().String(), "error", err)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to terminate message", "subject", msg.Subject(), "error", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ack message", "subject", msg.Subject(), "error", err)
	}
}

func (c *Consumer) dispatch(msg codec.Message) error {
	switch m := msg.(type) {
	case *codec.SubscriptionAdd:
		if err := c.handler.AddSubscription(m.Subscription); err != nil {
			b := m.Subscription.Common()
			c.logger.Warn("Rejected forwarded subscription",
				"sessionID", b.SessionID, "subscriptionID", b.SubscriptionID, "serviceID", b.ServiceID, "error", err)
		}
	case *codec.SubscriptionClose:
		c.handler.CancelSubscription(m.SessionID, m.SubscriptionID)
	case *codec.TimeseriesUpdate:
		c.handler.OnTimeSeriesUpdate(m.TenantID, m.EntityID, m.Entries)
	case *codec.TimeseriesDelete:
		c.handler.OnTimeSeriesDelete(m.TenantID, m.EntityID, m.Keys)
	case *codec.AttributesUpdate:
		c.handler.OnAttributesUpdate(m.TenantID, m.EntityID, m.Scope, m.Attributes)
	case *codec.AttributesDelete:
		c.handler.OnAttributesDelete(m.TenantID, m.EntityID, m.Scope, m.Keys)
	case *codec.AlarmChange:
		if m.Deleted {
			c.handler.OnAlarmDeleted(m.TenantID, m.EntityID, m.Alarm)
		} else {
			c.handler.OnAlarmUpdate(m.TenantID, m.EntityID, m.Alarm)
		}
	case *codec.NotificationUpdate:
		c.handler.OnNotificationUpdate(m.TenantID, m.RecipientID, m.Update)
	case *codec.NotificationRequestUpdate:
		c.handler.OnNotificationRequestUpdate(m.TenantID, m.Update)
	case *codec.SubscriptionUpdate:
		c.local.OnSubscriptionUpdate(m.SessionID, m.Update)
	case *codec.SubscriptionResync:
		c.logger.Info("Resubmitting subscriptions on request", "serviceID", m.ServiceID, "partitions", m.Partitions)
		c.local.ResubmitPartitions(m.Partitions)
	default:
		return fmt.Errorf("no handler for %s", msg.Kind())
	}
	return nil
}
