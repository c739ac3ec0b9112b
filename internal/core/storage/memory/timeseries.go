// Package memory keeps time-series and attributes in process memory. It
// backs standalone deployments and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/syntrixbase/fanout/internal/core/storage/types"
	"github.com/syntrixbase/fanout/pkg/model"
)

type entityKey struct {
	tenant model.TenantID
	entity model.EntityID
}

// series holds the history of one key in ascending ts order.
type series struct {
	history []model.TsKvEntry
	latest  model.TsKvEntry
}

// TimeseriesStore is an in-memory types.TimeseriesStore.
type TimeseriesStore struct {
	mu   sync.RWMutex
	data map[entityKey]map[string]*series
}

var _ types.TimeseriesStore = (*TimeseriesStore)(nil)

func NewTimeseriesStore() *TimeseriesStore {
	return &TimeseriesStore{data: make(map[entityKey]map[string]*series)}
}

func (s *TimeseriesStore) FindLatest(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) ([]model.TsKvEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySeries := s.data[entityKey{tenantID, entityID}]
	if len(keys) == 0 {
		keys = make([]string, 0, len(bySeries))
		for k := range bySeries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	out := make([]model.TsKvEntry, 0, len(keys))
	for _, k := range keys {
		if ser, ok := bySeries[k]; ok {
			out = append(out, ser.latest)
		}
	}
	return out, nil
}

func (s *TimeseriesStore) FindAll(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, queries []types.ReadTsKvQuery) ([]model.TsKvEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySeries := s.data[entityKey{tenantID, entityID}]
	var out []model.TsKvEntry
	for _, q := range queries {
		ser, ok := bySeries[q.Key]
		if !ok {
			continue
		}
		n := 0
		for i := len(ser.history) - 1; i >= 0; i-- {
			e := ser.history[i]
			if e.Ts > q.EndTs {
				continue
			}
			if e.Ts < q.StartTs {
				break
			}
			if q.Limit > 0 && n >= q.Limit {
				break
			}
			out = append(out, e)
			n++
		}
	}
	return out, nil
}

func (s *TimeseriesStore) Save(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, entries []model.TsKvEntry) error {
	if err := ctx.Err(); err != nil {
		return model.WrapError(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entityKey{tenantID, entityID}
	bySeries, ok := s.data[ek]
	if !ok {
		bySeries = make(map[string]*series)
		s.data[ek] = bySeries
	}
	for _, e := range entries {
		ser, ok := bySeries[e.Key]
		if !ok {
			ser = &series{latest: e}
			bySeries[e.Key] = ser
		} else if e.Ts >= ser.latest.Ts {
			ser.latest = e
		}
		// Same (key, ts) overwrites, as a primary key would.
		i, found := slices.BinarySearchFunc(ser.history, e.Ts, func(x model.TsKvEntry, ts int64) int {
			switch {
			case x.Ts < ts:
				return -1
			case x.Ts > ts:
				return 1
			default:
				return 0
			}
		})
		if found {
			ser.history[i] = e
		} else {
			ser.history = slices.Insert(ser.history, i, e)
		}
	}
	return nil
}

func (s *TimeseriesStore) Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) error {
	if err := ctx.Err(); err != nil {
		return model.WrapError(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entityKey{tenantID, entityID}
	bySeries := s.data[ek]
	for _, k := range keys {
		delete(bySeries, k)
	}
	if len(bySeries) == 0 {
		delete(s.data, ek)
	}
	return nil
}

func (s *TimeseriesStore) Close(context.Context) error { return nil }
