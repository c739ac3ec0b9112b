package mongo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/syntrixbase/fanout/internal/core/storage/types"
	"github.com/syntrixbase/fanout/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type timeseriesStore struct {
	history *mongo.Collection
	latest  *mongo.Collection
}

// NewTimeseriesStore stores history in historyColl and the newest value of
// each key in latestColl.
func NewTimeseriesStore(db *mongo.Database, historyColl, latestColl string) types.TimeseriesStore {
	if historyColl == "" {
		historyColl = "ts_kv"
	}
	if latestColl == "" {
		latestColl = "ts_kv_latest"
	}
	return &timeseriesStore{
		history: db.Collection(historyColl),
		latest:  db.Collection(latestColl),
	}
}

func (s *timeseriesStore) FindLatest(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) ([]model.TsKvEntry, error) {
	filter := entityFilter(tenantID, entityID)
	if len(keys) > 0 {
		filter["key"] = bson.M{"$in": keys}
	}
	cursor, err := s.latest.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, model.WrapError(err)
	}
	return decodeTs(ctx, cursor)
}

func (s *timeseriesStore) FindAll(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, queries []types.ReadTsKvQuery) ([]model.TsKvEntry, error) {
	var out []model.TsKvEntry
	for _, q := range queries {
		filter := entityFilter(tenantID, entityID)
		filter["key"] = q.Key
		filter["ts"] = bson.M{"$gte": q.StartTs, "$lte": q.EndTs}
		opts := options.Find().SetSort(bson.D{{Key: "ts", Value: -1}})
		if q.Limit > 0 {
			opts.SetLimit(int64(q.Limit))
		}
		cursor, err := s.history.Find(ctx, filter, opts)
		if err != nil {
			return nil, model.WrapError(err)
		}
		entries, err := decodeTs(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func (s *timeseriesStore) Save(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, entries []model.TsKvEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tenant, entity := tenantID.String(), entityID.ID.String()
	history := make([]mongo.WriteModel, 0, len(entries))
	latest := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		hid := docID(tenant, entity, e.Key, strconv.FormatInt(e.Ts, 10))
		history = append(history, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": hid}).
			SetReplacement(newTsDoc(hid, tenantID, entityID, e)).
			SetUpsert(true))

		// An existing newer value makes the filter miss; the upsert then
		// collides on _id and is ignored.
		lid := docID(tenant, entity, e.Key)
		latest = append(latest, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": lid, "ts": bson.M{"$lte": e.Ts}}).
			SetReplacement(newTsDoc(lid, tenantID, entityID, e)).
			SetUpsert(true))
	}

	unordered := options.BulkWrite().SetOrdered(false)
	if _, err := s.history.BulkWrite(ctx, history, unordered); err != nil {
		return fmt.Errorf("save history: %w", model.WrapError(err))
	}
	if _, err := s.latest.BulkWrite(ctx, latest, unordered); err != nil && !onlyDuplicateKeys(err) {
		return fmt.Errorf("save latest: %w", model.WrapError(err))
	}
	return nil
}

func (s *timeseriesStore) Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	filter := entityFilter(tenantID, entityID)
	filter["key"] = bson.M{"$in": keys}
	if _, err := s.history.DeleteMany(ctx, filter); err != nil {
		return model.WrapError(err)
	}
	if _, err := s.latest.DeleteMany(ctx, filter); err != nil {
		return model.WrapError(err)
	}
	return nil
}

// EnsureIndexes creates the lookup indexes.
func (s *timeseriesStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "entity_id", Value: 1}, {Key: "key", Value: 1}, {Key: "ts", Value: -1}},
	}); err != nil {
		return err
	}
	_, err := s.latest.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "entity_id", Value: 1}, {Key: "key", Value: 1}},
	})
	return err
}

// Close is a no-op; the provider owns the client.
func (s *timeseriesStore) Close(context.Context) error { return nil }

func decodeTs(ctx context.Context, cursor *mongo.Cursor) ([]model.TsKvEntry, error) {
	defer cursor.Close(ctx)
	var docs []tsDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, model.WrapError(err)
	}
	out := make([]model.TsKvEntry, 0, len(docs))
	for _, d := range docs {
		e, err := d.toEntry()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
