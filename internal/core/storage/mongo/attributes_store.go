package mongo

import (
	"context"
	"fmt"

	"github.com/syntrixbase/fanout/internal/core/storage/types"
	"github.com/syntrixbase/fanout/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type attributesStore struct {
	coll *mongo.Collection
}

func NewAttributesStore(db *mongo.Database, collectionName string) types.AttributesStore {
	if collectionName == "" {
		collectionName = "attribute_kv"
	}
	return &attributesStore{coll: db.Collection(collectionName)}
}

func (s *attributesStore) Find(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) ([]model.AttributeKvEntry, error) {
	filter := attrFilter(tenantID, entityID, scope, keys)
	opts := options.Find().SetSort(bson.D{{Key: "key", Value: 1}, {Key: "scope", Value: 1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, model.WrapError(err)
	}
	defer cursor.Close(ctx)

	var docs []attrDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, model.WrapError(err)
	}
	out := make([]model.AttributeKvEntry, 0, len(docs))
	for _, d := range docs {
		a, err := d.toEntry()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *attributesStore) Save(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry) error {
	if scope == model.ScopeAny {
		return model.Invalidf("attributes cannot be saved in %s", scope)
	}
	if len(attrs) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(attrs))
	for _, a := range attrs {
		doc := newAttrDoc(tenantID, entityID, scope, a)
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := s.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return model.WrapError(err)
	}
	return nil
}

func (s *attributesStore) Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.coll.DeleteMany(ctx, attrFilter(tenantID, entityID, scope, keys))
	return model.WrapError(err)
}

// EnsureIndexes creates the lookup index.
func (s *attributesStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "entity_id", Value: 1}, {Key: "scope", Value: 1}, {Key: "key", Value: 1}},
	})
	return err
}

// Close is a no-op; the provider owns the client.
func (s *attributesStore) Close(context.Context) error { return nil }

func attrFilter(tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) bson.M {
	filter := entityFilter(tenantID, entityID)
	if scope != model.ScopeAny {
		filter["scope"] = string(scope)
	}
	if len(keys) > 0 {
		filter["key"] = bson.M{"$in": keys}
	}
	return filter
}
