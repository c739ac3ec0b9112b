// Package clustertest provides a partition oracle with a fixed layout for
// tests.
package clustertest

import (
	"fmt"
	"sync"

	"github.com/syntrixbase/fanout/internal/cluster"
	"github.com/syntrixbase/fanout/pkg/model"
)

// Static places entities on partitions by hand. Unplaced entities live on
// partition 0.
type Static struct {
	mu        sync.Mutex
	self      string
	services  []string
	owned     map[int]struct{}
	placement map[model.EntityID]int
}

var _ cluster.PartitionService = (*Static)(nil)

// NewStatic creates an oracle for self owning the given partitions.
func NewStatic(self string, services []string, owned ...int) *Static {
	s := &Static{
		self:      self,
		services:  services,
		owned:     make(map[int]struct{}),
		placement: make(map[model.EntityID]int),
	}
	for _, p := range owned {
		s.owned[p] = struct{}{}
	}
	return s
}

// Place moves an entity to partition p.
func (s *Static) Place(entityID model.EntityID, p int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placement[entityID] = p
}

func (s *Static) ServiceID() string { return s.self }

func (s *Static) Resolve(_ model.TenantID, entityID model.EntityID) cluster.TopicPartitionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.placement[entityID]
	_, mine := s.owned[p]
	return cluster.TopicPartitionInfo{Topic: Topic(p), Partition: p, MyPartition: mine}
}

func (s *Static) NotificationsTopic(serviceID string) string {
	return "fanout.notifications." + serviceID
}

func (s *Static) OwnedPartitions() []cluster.TopicPartitionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cluster.TopicPartitionInfo, 0, len(s.owned))
	for p := range s.owned {
		out = append(out, cluster.TopicPartitionInfo{Topic: Topic(p), Partition: p, MyPartition: true})
	}
	return out
}

func (s *Static) Services() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.services...)
}

func (s *Static) OnPartitionChange(func(cluster.PartitionChangeEvent)) {}

func (s *Static) OnTopologyChange(func(cluster.ClusterTopologyChangeEvent)) {}

// Topic is the partition topic used by Static.
func Topic(p int) string {
	return fmt.Sprintf("fanout.core.%d", p)
}
