package router

import (
	"context"

	"github.com/syntrixbase/fanout/internal/core/storage/types"
	"github.com/syntrixbase/fanout/pkg/model"
)

// RoutedTimeseriesStore implements TimeseriesStore by routing operations.
type RoutedTimeseriesStore struct {
	router types.TimeseriesRouter
}

func NewRoutedTimeseriesStore(router types.TimeseriesRouter) types.TimeseriesStore {
	return &RoutedTimeseriesStore{router: router}
}

func (s *RoutedTimeseriesStore) FindLatest(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) ([]model.TsKvEntry, error) {
	return s.router.Select(types.OpRead).FindLatest(ctx, tenantID, entityID, keys)
}

func (s *RoutedTimeseriesStore) FindAll(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, queries []types.ReadTsKvQuery) ([]model.TsKvEntry, error) {
	return s.router.Select(types.OpRead).FindAll(ctx, tenantID, entityID, queries)
}

func (s *RoutedTimeseriesStore) Save(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, entries []model.TsKvEntry) error {
	return s.router.Select(types.OpWrite).Save(ctx, tenantID, entityID, entries)
}

func (s *RoutedTimeseriesStore) Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) error {
	return s.router.Select(types.OpWrite).Remove(ctx, tenantID, entityID, keys)
}

func (s *RoutedTimeseriesStore) Close(ctx context.Context) error {
	return closeDistinct(ctx, s.router.Select(types.OpWrite), s.router.Select(types.OpRead))
}

// RoutedAttributesStore implements AttributesStore by routing operations.
type RoutedAttributesStore struct {
	router types.AttributesRouter
}

func NewRoutedAttributesStore(router types.AttributesRouter) types.AttributesStore {
	return &RoutedAttributesStore{router: router}
}

func (s *RoutedAttributesStore) Find(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) ([]model.AttributeKvEntry, error) {
	return s.router.Select(types.OpRead).Find(ctx, tenantID, entityID, scope, keys)
}

func (s *RoutedAttributesStore) Save(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry) error {
	return s.router.Select(types.OpWrite).Save(ctx, tenantID, entityID, scope, attrs)
}

func (s *RoutedAttributesStore) Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) error {
	return s.router.Select(types.OpWrite).Remove(ctx, tenantID, entityID, scope, keys)
}

func (s *RoutedAttributesStore) Close(ctx context.Context) error {
	return closeDistinct(ctx, s.router.Select(types.OpWrite), s.router.Select(types.OpRead))
}
