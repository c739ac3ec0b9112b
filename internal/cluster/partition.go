// Package cluster decides which node owns which entity and tells local
// components when that changes.
package cluster

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/syntrixbase/fanout/pkg/model"
)

// TopicPartitionInfo identifies a partition and the queue topic its owner
// consumes.
type TopicPartitionInfo struct {
	Topic     string
	Partition int
	// MyPartition is set when this node owns the partition.
	MyPartition bool
}

// PartitionChangeEvent carries the complete set of partitions this node
// owns after a rebalance.
type PartitionChangeEvent struct {
	Partitions []TopicPartitionInfo
}

// ClusterTopologyChangeEvent carries the live service ids after a
// membership change.
type ClusterTopologyChangeEvent struct {
	Services []string
}

// PartitionService is the partition oracle.
type PartitionService interface {
	// ServiceID returns this node's id.
	ServiceID() string
	// Resolve returns the partition that owns the entity.
	Resolve(tenantID model.TenantID, entityID model.EntityID) TopicPartitionInfo
	// NotificationsTopic returns the topic the given node consumes
	// subscription updates from.
	NotificationsTopic(serviceID string) string
	// OwnedPartitions returns the partitions this node owns.
	OwnedPartitions() []TopicPartitionInfo
	// Services returns the live service ids in sorted order.
	Services() []string
	// OnPartitionChange registers a listener. Listeners run synchronously in
	// registration order and must not call back into membership updates.
	OnPartitionChange(fn func(PartitionChangeEvent))
	// OnTopologyChange registers a listener, with the same rules.
	OnTopologyChange(fn func(ClusterTopologyChangeEvent))
}

// Config configures the hash partitioner.
type Config struct {
	ServiceID   string
	Partitions  int
	TopicPrefix string
}

// HashPartitionService assigns entities to partitions by hashing the entity
// uuid and assigns partitions to the sorted live services round robin.
type HashPartitionService struct {
	cfg    Config
	logger *slog.Logger

	// updateMu serializes membership updates and their events.
	updateMu sync.Mutex

	mu       sync.RWMutex
	services []string
	owned    map[int]struct{}

	listenerMu         sync.RWMutex
	partitionListeners []func(PartitionChangeEvent)
	topologyListeners  []func(ClusterTopologyChangeEvent)
}

var _ PartitionService = (*HashPartitionService)(nil)

// NewHashPartitionService creates a partitioner with no live services. Call
// UpdateMembership to assign partitions.
func NewHashPartitionService(cfg Config, logger *slog.Logger) (*HashPartitionService, error) {
	if cfg.ServiceID == "" {
		return nil, fmt.Errorf("service id is required")
	}
	if cfg.Partitions <= 0 {
		return nil, fmt.Errorf("partitions must be positive, got %d", cfg.Partitions)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HashPartitionService{
		cfg:    cfg,
		logger: logger.With("component", "partition-service"),
		owned:  make(map[int]struct{}),
	}, nil
}

func (s *HashPartitionService) ServiceID() string { return s.cfg.ServiceID }

// PartitionOf returns the partition of an entity.
func (s *HashPartitionService) PartitionOf(entityID model.EntityID) int {
	return int(xxhash.Sum64(entityID.ID[:]) % uint64(s.cfg.Partitions))
}

// PartitionTopic returns the topic consumed by the owner of partition p.
func (s *HashPartitionService) PartitionTopic(p int) string {
	return s.cfg.TopicPrefix + ".core." + strconv.Itoa(p)
}

func (s *HashPartitionService) NotificationsTopic(serviceID string) string {
	return s.cfg.TopicPrefix + ".notifications." + serviceID
}

// DeviceStateTopic returns the topic of the external device-state service.
func (s *HashPartitionService) DeviceStateTopic() string {
	return s.cfg.TopicPrefix + ".device_state"
}

func (s *HashPartitionService) Resolve(_ model.TenantID, entityID model.EntityID) TopicPartitionInfo {
	p := s.PartitionOf(entityID)
	s.mu.RLock()
	_, mine := s.owned[p]
	s.mu.RUnlock()
	return TopicPartitionInfo{Topic: s.PartitionTopic(p), Partition: p, MyPartition: mine}
}

func (s *HashPartitionService) OwnedPartitions() []TopicPartitionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownedLocked()
}

func (s *HashPartitionService) ownedLocked() []TopicPartitionInfo {
	out := make([]TopicPartitionInfo, 0, len(s.owned))
	for p := range s.owned {
		out = append(out, TopicPartitionInfo{Topic: s.PartitionTopic(p), Partition: p, MyPartition: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out
}

func (s *HashPartitionService) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.services)
}

// OwnerOf returns the service that owns partition p, or "" when no service
// is live.
func (s *HashPartitionService) OwnerOf(p int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.services) == 0 {
		return ""
	}
	return s.services[p%len(s.services)]
}

func (s *HashPartitionService) OnPartitionChange(fn func(PartitionChangeEvent)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.partitionListeners = append(s.partitionListeners, fn)
}

func (s *HashPartitionService) OnTopologyChange(fn func(ClusterTopologyChangeEvent)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.topologyListeners = append(s.topologyListeners, fn)
}

// UpdateMembership recomputes ownership for the given live services. A
// partition change event is published when the owned set changed, then a
// topology change event when membership changed.
func (s *HashPartitionService) UpdateMembership(services []string) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	sorted := slices.Clone(services)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	owned := make(map[int]struct{})
	if idx := slices.Index(sorted, s.cfg.ServiceID); idx >= 0 {
		for p := 0; p < s.cfg.Partitions; p++ {
			if p%len(sorted) == idx {
				owned[p] = struct{}{}
			}
		}
	}

	s.mu.Lock()
	membershipChanged := !slices.Equal(s.services, sorted)
	ownedChanged := !sameSet(s.owned, owned)
	s.services = sorted
	s.owned = owned
	partitions := s.ownedLocked()
	s.mu.Unlock()

	if ownedChanged {
		s.logger.Info("Owned partitions changed", "owned", len(partitions), "services", len(sorted))
		evt := PartitionChangeEvent{Partitions: partitions}
		s.listenerMu.RLock()
		listeners := slices.Clone(s.partitionListeners)
		s.listenerMu.RUnlock()
		for _, fn := range listeners {
			fn(evt)
		}
	}

	if membershipChanged {
		s.logger.Info("Cluster topology changed", "services", sorted)
		evt := ClusterTopologyChangeEvent{Services: slices.Clone(sorted)}
		s.listenerMu.RLock()
		listeners := slices.Clone(s.topologyListeners)
		s.listenerMu.RUnlock()
		for _, fn := range listeners {
			fn(evt)
		}
	}
}

func sameSet(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
