package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/syntrixbase/fanout/internal/core/storage/types"
	"github.com/syntrixbase/fanout/pkg/model"
)

type attrKey struct {
	scope model.AttributeScope
	key   string
}

// AttributesStore is an in-memory types.AttributesStore.
type AttributesStore struct {
	mu   sync.RWMutex
	data map[entityKey]map[attrKey]model.AttributeKvEntry
}

var _ types.AttributesStore = (*AttributesStore)(nil)

func NewAttributesStore() *AttributesStore {
	return &AttributesStore{data: make(map[entityKey]map[attrKey]model.AttributeKvEntry)}
}

// Find returns matches ordered by key, then scope.
func (s *AttributesStore) Find(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) ([]model.AttributeKvEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wanted map[string]struct{}
	if len(keys) > 0 {
		wanted = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			wanted[k] = struct{}{}
		}
	}

	var matched []attrKey
	for ak := range s.data[entityKey{tenantID, entityID}] {
		if !scope.Matches(ak.scope) {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[ak.key]; !ok {
				continue
			}
		}
		matched = append(matched, ak)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].key != matched[j].key {
			return matched[i].key < matched[j].key
		}
		return matched[i].scope < matched[j].scope
	})

	attrs := s.data[entityKey{tenantID, entityID}]
	out := make([]model.AttributeKvEntry, 0, len(matched))
	for _, ak := range matched {
		out = append(out, attrs[ak])
	}
	return out, nil
}

func (s *AttributesStore) Save(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry) error {
	if err := ctx.Err(); err != nil {
		return model.WrapError(err)
	}
	if scope == model.ScopeAny {
		return model.Invalidf("attributes cannot be saved in %s", scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entityKey{tenantID, entityID}
	byKey, ok := s.data[ek]
	if !ok {
		byKey = make(map[attrKey]model.AttributeKvEntry)
		s.data[ek] = byKey
	}
	for _, a := range attrs {
		byKey[attrKey{scope: scope, key: a.Key}] = a
	}
	return nil
}

func (s *AttributesStore) Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) error {
	if err := ctx.Err(); err != nil {
		return model.WrapError(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entityKey{tenantID, entityID}
	byKey := s.data[ek]
	for _, sc := range scope.Concrete() {
		for _, k := range keys {
			delete(byKey, attrKey{scope: sc, key: k})
		}
	}
	if len(byKey) == 0 {
		delete(s.data, ek)
	}
	return nil
}

func (s *AttributesStore) Close(context.Context) error { return nil }
