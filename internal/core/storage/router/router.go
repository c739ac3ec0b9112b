package router

import (
	"context"

	"github.com/syntrixbase/fanout/internal/core/storage/types"
)

// SingleTimeseriesRouter routes every operation to one store.
type SingleTimeseriesRouter struct {
	store types.TimeseriesStore
}

func NewSingleTimeseriesRouter(store types.TimeseriesStore) types.TimeseriesRouter {
	return &SingleTimeseriesRouter{store: store}
}

func (r *SingleTimeseriesRouter) Select(types.OpKind) types.TimeseriesStore { return r.store }

// SplitTimeseriesRouter routes reads to replica and writes to primary.
type SplitTimeseriesRouter struct {
	primary types.TimeseriesStore
	replica types.TimeseriesStore
}

func NewSplitTimeseriesRouter(primary, replica types.TimeseriesStore) types.TimeseriesRouter {
	return &SplitTimeseriesRouter{primary: primary, replica: replica}
}

func (r *SplitTimeseriesRouter) Select(op types.OpKind) types.TimeseriesStore {
	if op == types.OpRead {
		return r.replica
	}
	return r.primary
}

// SingleAttributesRouter routes every operation to one store.
type SingleAttributesRouter struct {
	store types.AttributesStore
}

func NewSingleAttributesRouter(store types.AttributesStore) types.AttributesRouter {
	return &SingleAttributesRouter{store: store}
}

func (r *SingleAttributesRouter) Select(types.OpKind) types.AttributesStore { return r.store }

// SplitAttributesRouter routes reads to replica and writes to primary.
type SplitAttributesRouter struct {
	primary types.AttributesStore
	replica types.AttributesStore
}

func NewSplitAttributesRouter(primary, replica types.AttributesStore) types.AttributesRouter {
	return &SplitAttributesRouter{primary: primary, replica: replica}
}

func (r *SplitAttributesRouter) Select(op types.OpKind) types.AttributesStore {
	if op == types.OpRead {
		return r.replica
	}
	return r.primary
}

// closeDistinct closes each distinct store once.
func closeDistinct(ctx context.Context, stores ...interface{ Close(context.Context) error }) error {
	seen := make(map[any]struct{}, len(stores))
	var firstErr error
	for _, s := range stores {
		if s == nil {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
