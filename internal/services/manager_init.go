package services

import (
	"context"
	"fmt"

	"github.com/syntrixbase/fanout/internal/cluster"
	"github.com/syntrixbase/fanout/internal/core/pubsub"
	pubsubconfig "github.com/syntrixbase/fanout/internal/core/pubsub/config"
	"github.com/syntrixbase/fanout/internal/core/pubsub/memory"
	natspubsub "github.com/syntrixbase/fanout/internal/core/pubsub/nats"
	"github.com/syntrixbase/fanout/internal/core/storage"
	storageconfig "github.com/syntrixbase/fanout/internal/core/storage/config"
	"github.com/syntrixbase/fanout/internal/dataplane"
	"github.com/syntrixbase/fanout/internal/devicestate"
	"github.com/syntrixbase/fanout/internal/dispatch"
	"github.com/syntrixbase/fanout/internal/gateway/rest"
	"github.com/syntrixbase/fanout/internal/ingress"
	"github.com/syntrixbase/fanout/internal/metrics"
	"github.com/syntrixbase/fanout/internal/outbox"
	"github.com/syntrixbase/fanout/internal/server"
	"github.com/syntrixbase/fanout/internal/subscription/local"
	"github.com/syntrixbase/fanout/internal/subscription/manager"
)

// Overridable in tests.
var (
	providerFactory = func(ctx context.Context, cfg pubsubconfig.Config, name string) (pubsub.Provider, error) {
		switch cfg.Type {
		case "memory":
			return memory.New(), nil
		case "nats":
			p := natspubsub.NewProvider(cfg.NATS.URL, name)
			if err := p.Connect(ctx); err != nil {
				return nil, err
			}
			return p, nil
		default:
			return nil, fmt.Errorf("unsupported queue type %q", cfg.Type)
		}
	}
	storageFactoryFactory = func(ctx context.Context, cfg storageconfig.Config) (storage.StorageFactory, error) {
		return storage.NewFactory(ctx, cfg)
	}
)

// Init builds the node. On error, components built so far are released.
func (m *Manager) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.release(context.WithoutCancel(ctx))
		}
	}()

	if err := m.initQueue(ctx); err != nil {
		return err
	}
	if err := m.initStorage(ctx); err != nil {
		return err
	}
	if err := m.initCluster(); err != nil {
		return err
	}
	m.initSubscriptions()
	if err := m.initMembership(); err != nil {
		return err
	}
	if m.opts.RunServer {
		if err := m.initServer(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) streamSubjects() []string {
	return []string{m.cfg.Node.TopicPrefix + ".>"}
}

func (m *Manager) storageType() pubsub.StorageType {
	st, err := pubsub.ParseStorageType(m.cfg.Queue.NATS.Storage)
	if err != nil {
		m.logger.Warn("Unknown queue storage type, using memory", "storage", m.cfg.Queue.NATS.Storage)
	}
	return st
}

func (m *Manager) initQueue(ctx context.Context) error {
	provider, err := providerFactory(ctx, m.cfg.Queue, m.cfg.Node.ServiceID)
	if err != nil {
		return fmt.Errorf("failed to connect queue: %w", err)
	}
	m.provider = provider

	m.publisher, err = provider.NewPublisher(pubsub.PublisherOptions{
		StreamName:     m.cfg.Queue.StreamName,
		StreamSubjects: m.streamSubjects(),
		RetryAttempts:  m.cfg.Queue.NATS.RetryAttempts,
		Storage:        m.storageType(),
		MaxAge:         m.cfg.Queue.NATS.MaxAge,
		OnPublish:      metrics.ObservePublish,
	})
	if err != nil {
		return fmt.Errorf("failed to create queue publisher: %w", err)
	}
	m.logger.Info("Queue ready", "type", m.cfg.Queue.Type, "stream", m.cfg.Queue.StreamName)
	return nil
}

func (m *Manager) initStorage(ctx context.Context) error {
	sf, err := storageFactoryFactory(ctx, m.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage factory: %w", err)
	}
	m.storage = sf
	m.logger.Info("Connected to storage")
	return nil
}

func (m *Manager) initCluster() error {
	svc, err := cluster.NewHashPartitionService(cluster.Config{
		ServiceID:   m.cfg.Node.ServiceID,
		Partitions:  m.cfg.Node.Partitions,
		TopicPrefix: m.cfg.Node.TopicPrefix,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create partition service: %w", err)
	}
	m.partitions = svc
	return nil
}

// initSubscriptions builds the subscription layer and registers it for
// partition events. Listener order matters: the manager purges foreign
// subscriptions before the registry re-registers its sessions, and the
// ingress consumer follows the new partitions last.
func (m *Manager) initSubscriptions() {
	sub := m.cfg.Subscription

	m.outboxPool = dispatch.New(dispatch.Config{
		Name:      "outbox",
		Workers:   sub.OutboxWorkers,
		QueueSize: sub.OutboxQueueSize,
	}, nil)
	m.outbox = outbox.New(m.publisher, m.outboxPool, sub.PublishTimeout, nil)

	tracker := devicestate.NewQueueTracker(m.outbox, m.partitions.DeviceStateTopic(), nil)

	m.subManager = manager.New(manager.Config{
		CatchUpQueueSize: sub.CatchUpQueueSize,
		HistoryLimit:     sub.HistoryLimit,
		CatchUpTimeout:   sub.CatchUpTimeout,
	}, manager.Deps{
		Partitions: m.partitions,
		Timeseries: m.storage.Timeseries(),
		Attributes: m.storage.Attributes(),
		Tracker:    tracker,
		Sender:     m.outbox,
	}, nil)

	m.registry = local.New(local.Config{
		Workers:   sub.DeliveryWorkers,
		QueueSize: sub.DeliveryQueueSize,
	}, m.partitions, m.subManager, m.outbox, nil)
	m.subManager.SetLocalService(m.registry)

	m.router = dataplane.NewRouter(m.partitions, m.subManager, m.outbox, nil)
	m.dataplane = dataplane.NewService(m.storage.Timeseries(), m.storage.Attributes(), m.router, nil)

	m.ingress = ingress.New(m.provider, ingress.Config{
		StreamName:     m.cfg.Queue.StreamName,
		StreamSubjects: m.streamSubjects(),
		ChannelBufSize: sub.IngressBufferSize,
		Storage:        m.storageType(),
	}, m.partitions, m.subManager, m.registry, nil)
	m.ingress.SetSender(m.outbox)

	m.partitions.OnPartitionChange(m.subManager.OnPartitionChange)
	m.partitions.OnPartitionChange(m.registry.OnPartitionChange)
	m.partitions.OnPartitionChange(m.ingress.OnPartitionChange)
	m.partitions.OnTopologyChange(m.registry.OnClusterTopologyChange)
}

// initMembership picks static membership when members are configured (or in
// standalone mode) and queue heartbeats otherwise.
func (m *Manager) initMembership() error {
	if m.static = m.cfg.Node.StaticMembers(m.cfg.Deployment.Mode); m.static != nil {
		m.logger.Info("Using static membership", "members", m.static)
		return nil
	}

	topic := m.cfg.Node.TopicPrefix + ".membership"
	consumer, err := m.provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:     m.cfg.Queue.StreamName,
		StreamSubjects: m.streamSubjects(),
		ConsumerName:   "membership-" + m.cfg.Node.ServiceID,
		FilterSubjects: []string{topic},
		Storage:        m.storageType(),
	})
	if err != nil {
		return fmt.Errorf("failed to create membership consumer: %w", err)
	}
	m.membership = cluster.NewMembership(m.partitions, m.publisher, consumer, cluster.MembershipConfig{
		Topic:    topic,
		Interval: m.cfg.Node.Heartbeat.Interval,
		TTL:      m.cfg.Node.Heartbeat.TTL,
	}, nil)
	m.logger.Info("Using heartbeat membership", "topic", topic)
	return nil
}

func (m *Manager) initServer() error {
	srv := server.New(m.cfg.Server, nil)
	handler, err := rest.NewHandler(m.dataplane,
		rest.WithStats(func() any { return m.Stats() }),
		rest.WithIngestRateLimiter(srv.IngestRateLimiter(), m.cfg.Server.IngestRateLimit),
	)
	if err != nil {
		return fmt.Errorf("failed to create rest handler: %w", err)
	}
	handler.RegisterRoutes(srv.HTTPMux())
	srv.SetServingStatus(IngressHealthService, false)
	m.server = srv
	return nil
}
