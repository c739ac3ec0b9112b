package manager

import (
	"github.com/syntrixbase/fanout/internal/subscription"
	"github.com/syntrixbase/fanout/pkg/model"
)

// index holds every lookup structure of the manager. It is not safe for
// concurrent use; Manager guards it with a RWMutex.
type index struct {
	byEntity    map[model.EntityID]map[subscription.Key]subscription.Subscription
	bySession   map[string]map[int32]subscription.Subscription
	byPartition map[int]map[subscription.Key]subscription.Subscription
	// partitionOf remembers where each subscription was indexed so removal
	// does not depend on the current ownership.
	partitionOf map[subscription.Key]int
	owned       map[int]struct{}
}

func newIndex() *index {
	return &index{
		byEntity:    make(map[model.EntityID]map[subscription.Key]subscription.Subscription),
		bySession:   make(map[string]map[int32]subscription.Subscription),
		byPartition: make(map[int]map[subscription.Key]subscription.Subscription),
		partitionOf: make(map[subscription.Key]int),
		owned:       make(map[int]struct{}),
	}
}

func (ix *index) get(key subscription.Key) subscription.Subscription {
	return ix.bySession[key.SessionID][key.SubscriptionID]
}

func (ix *index) insert(sub subscription.Subscription, partition int) {
	b := sub.Common()
	key := sub.Key()

	entity := ix.byEntity[b.EntityID]
	if entity == nil {
		entity = make(map[subscription.Key]subscription.Subscription)
		ix.byEntity[b.EntityID] = entity
	}
	entity[key] = sub

	session := ix.bySession[key.SessionID]
	if session == nil {
		session = make(map[int32]subscription.Subscription)
		ix.bySession[key.SessionID] = session
	}
	session[key.SubscriptionID] = sub

	part := ix.byPartition[partition]
	if part == nil {
		part = make(map[subscription.Key]subscription.Subscription)
		ix.byPartition[partition] = part
	}
	part[key] = sub
	ix.partitionOf[key] = partition
}

// remove drops sub from every index and reports whether it was present.
func (ix *index) remove(key subscription.Key) subscription.Subscription {
	sub := ix.get(key)
	if sub == nil {
		return nil
	}
	ix.removeFromEntity(sub)
	ix.removeFromSession(key)
	if p, ok := ix.partitionOf[key]; ok {
		if part := ix.byPartition[p]; part != nil {
			delete(part, key)
			if len(part) == 0 {
				delete(ix.byPartition, p)
			}
		}
		delete(ix.partitionOf, key)
	}
	return sub
}

func (ix *index) removeFromEntity(sub subscription.Subscription) {
	entityID := sub.Common().EntityID
	entity := ix.byEntity[entityID]
	if entity == nil {
		return
	}
	// Only remove the exact subscription; a replacement may share the key.
	if cur, ok := entity[sub.Key()]; ok && cur == sub {
		delete(entity, sub.Key())
	}
	if len(entity) == 0 {
		delete(ix.byEntity, entityID)
	}
}

func (ix *index) removeFromSession(key subscription.Key) {
	session := ix.bySession[key.SessionID]
	if session == nil {
		return
	}
	delete(session, key.SubscriptionID)
	if len(session) == 0 {
		delete(ix.bySession, key.SessionID)
	}
}

// forgetPartition drops the partition index of p and returns what it held.
func (ix *index) forgetPartition(p int) []subscription.Subscription {
	part := ix.byPartition[p]
	delete(ix.byPartition, p)
	out := make([]subscription.Subscription, 0, len(part))
	for key, sub := range part {
		delete(ix.partitionOf, key)
		out = append(out, sub)
	}
	return out
}

func (ix *index) entitySubscriptions(entityID model.EntityID) []subscription.Subscription {
	entity := ix.byEntity[entityID]
	out := make([]subscription.Subscription, 0, len(entity))
	for _, sub := range entity {
		out = append(out, sub)
	}
	return out
}
