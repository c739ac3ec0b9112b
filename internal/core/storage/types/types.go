// Package types declares the store contracts read by the subscription
// manager and written by the data plane.
package types

import (
	"context"

	"github.com/syntrixbase/fanout/pkg/model"
)

// OpKind distinguishes reads from writes for routing.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
)

// ReadTsKvQuery selects the history of one key. StartTs and EndTs are
// inclusive epoch millis. Results are returned newest first, at most Limit
// per query.
type ReadTsKvQuery struct {
	Key     string
	StartTs int64
	EndTs   int64
	Limit   int
}

// TimeseriesReader reads time-series values.
type TimeseriesReader interface {
	// FindLatest returns the newest value of each key. Empty keys means
	// every key of the entity. Keys without a value are omitted.
	FindLatest(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) ([]model.TsKvEntry, error)
	// FindAll runs every query and concatenates the results.
	FindAll(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, queries []ReadTsKvQuery) ([]model.TsKvEntry, error)
}

// TimeseriesWriter writes time-series values.
type TimeseriesWriter interface {
	// Save appends entries to the history and advances the latest value of
	// each key when the entry is at least as new.
	Save(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, entries []model.TsKvEntry) error
	// Remove deletes the history and latest value of keys.
	Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) error
}

// TimeseriesStore reads and writes time-series values.
type TimeseriesStore interface {
	TimeseriesReader
	TimeseriesWriter
	Close(ctx context.Context) error
}

// AttributesReader reads attributes.
type AttributesReader interface {
	// Find returns attributes of the entity in scope. ScopeAny reads every
	// scope. Empty keys means every key.
	Find(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) ([]model.AttributeKvEntry, error)
}

// AttributesWriter writes attributes.
type AttributesWriter interface {
	// Save upserts attributes in a concrete scope.
	Save(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry) error
	// Remove deletes attributes. ScopeAny removes them from every scope.
	Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) error
}

// AttributesStore reads and writes attributes.
type AttributesStore interface {
	AttributesReader
	AttributesWriter
	Close(ctx context.Context) error
}

// TimeseriesRouter selects the time-series store for an operation.
type TimeseriesRouter interface {
	Select(op OpKind) TimeseriesStore
}

// AttributesRouter selects the attribute store for an operation.
type AttributesRouter interface {
	Select(op OpKind) AttributesStore
}
