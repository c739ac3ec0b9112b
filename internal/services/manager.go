// Package services assembles a fan-out node from its configuration and runs
// it.
package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/syntrixbase/fanout/internal/cluster"
	"github.com/syntrixbase/fanout/internal/config"
	"github.com/syntrixbase/fanout/internal/core/pubsub"
	"github.com/syntrixbase/fanout/internal/core/storage"
	"github.com/syntrixbase/fanout/internal/dataplane"
	"github.com/syntrixbase/fanout/internal/dispatch"
	"github.com/syntrixbase/fanout/internal/ingress"
	"github.com/syntrixbase/fanout/internal/outbox"
	"github.com/syntrixbase/fanout/internal/server"
	"github.com/syntrixbase/fanout/internal/subscription/local"
	"github.com/syntrixbase/fanout/internal/subscription/manager"
)

// IngressHealthService is the gRPC health service name reported while the
// node accepts writes.
const IngressHealthService = "fanout.ingress"

type Options struct {
	// RunServer exposes the HTTP and gRPC endpoints.
	RunServer bool
}

// Manager owns every component of a node. Init builds them, Start brings
// them up and Shutdown stops them in reverse order.
type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	provider   pubsub.Provider
	publisher  pubsub.Publisher
	storage    storage.StorageFactory
	partitions *cluster.HashPartitionService
	membership *cluster.Membership
	static     []string

	outboxPool *dispatch.Pool
	outbox     *outbox.Outbox
	subManager *manager.Manager
	registry   *local.Registry
	router     *dataplane.Router
	dataplane  *dataplane.Service
	ingress    *ingress.Consumer

	server       server.Service
	serverCancel context.CancelFunc
	wg           sync.WaitGroup

	mu      sync.Mutex
	started bool
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: slog.Default().With("component", "services"),
	}
}

// Registry is the entry point for client sessions on this node.
func (m *Manager) Registry() *local.Registry { return m.registry }

// DataPlane is the write path: it persists changes and routes them to the
// owning node.
func (m *Manager) DataPlane() *dataplane.Service { return m.dataplane }

func (m *Manager) Partitions() *cluster.HashPartitionService { return m.partitions }

// Server returns the HTTP and gRPC server, or nil when RunServer is off.
func (m *Manager) Server() server.Service { return m.server }

// Stats is the /debug/stats payload.
type Stats struct {
	ServiceID     string        `json:"serviceId"`
	Services      []string      `json:"services"`
	Manager       manager.Stats `json:"manager"`
	Registry      local.Stats   `json:"registry"`
	OutboxPending int           `json:"outboxPending"`
	Subjects      []string      `json:"subjects"`
}

func (m *Manager) Stats() Stats {
	return Stats{
		ServiceID:     m.partitions.ServiceID(),
		Services:      m.partitions.Services(),
		Manager:       m.subManager.Stats(),
		Registry:      m.registry.Stats(),
		OutboxPending: m.outboxPool.Pending(),
		Subjects:      m.ingress.Subjects(),
	}
}
