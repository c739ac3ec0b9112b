package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/fanout/internal/core/storage/types"
	"github.com/syntrixbase/fanout/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestDocID_StableAndDistinct(t *testing.T) {
	a := docID("t", "e", "temp")
	assert.Equal(t, a, docID("t", "e", "temp"))
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, docID("t", "e", "hum"))
	// The separator keeps part boundaries significant.
	assert.NotEqual(t, docID("ab", "c"), docID("a", "bc"))
}

func TestKvFields_RoundTrip(t *testing.T) {
	entries := []model.KvEntry{
		model.NewBoolEntry("b", false),
		model.NewLongEntry("l", 0),
		model.NewDoubleEntry("d", 1.25),
		model.NewStringEntry("s", ""),
		model.NewJSONEntry("j", `{"a":1}`),
	}
	for _, kv := range entries {
		got, err := fieldsFromKv(kv).toKv(kv.Key)
		require.NoError(t, err, kv.Key)
		assert.Equal(t, kv, got)
	}
}

func TestKvFields_RejectsMismatch(t *testing.T) {
	v := int64(3)
	_, err := KvFields{Type: "DOUBLE", Long: &v}.toKv("k")
	assert.Error(t, err)
	_, err = KvFields{Type: "NOPE"}.toKv("k")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestAttrFilter(t *testing.T) {
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)

	f := attrFilter(tenant, dev, model.ScopeAny, nil)
	assert.Equal(t, bson.M{
		"tenant_id":   tenant.String(),
		"entity_type": "DEVICE",
		"entity_id":   dev.ID.String(),
	}, f)

	f = attrFilter(tenant, dev, model.ScopeServer, []string{"a"})
	assert.Equal(t, "SERVER_SCOPE", f["scope"])
	assert.Equal(t, bson.M{"$in": []string{"a"}}, f["key"])
}

func TestOnlyDuplicateKeys(t *testing.T) {
	dup := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: mongo.WriteError{Code: 11000}}}}
	other := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: mongo.WriteError{Code: 11000}}, {WriteError: mongo.WriteError{Code: 2}}}}
	assert.True(t, onlyDuplicateKeys(dup))
	assert.False(t, onlyDuplicateKeys(other))
	assert.False(t, onlyDuplicateKeys(mongo.BulkWriteException{}))
	assert.False(t, onlyDuplicateKeys(assert.AnError))
}

func tsResponse(ns string, docs ...bson.D) bson.D {
	return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, docs...)
}

func TestTimeseriesStore_Mock(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)
	ctx := context.Background()

	mt.Run("find latest", func(mt *mtest.T) {
		store := NewTimeseriesStore(mt.DB, "", "")
		mt.AddMockResponses(tsResponse(mtest.TestDb+".ts_kv_latest",
			bson.D{{Key: "_id", Value: "x"}, {Key: "key", Value: "temp"}, {Key: "ts", Value: int64(100)}, {Key: "type", Value: "DOUBLE"}, {Key: "dbl_v", Value: 21.5}},
		))

		got, err := store.FindLatest(ctx, tenant, dev, []string{"temp"})
		require.NoError(mt, err)
		require.Len(mt, got, 1)
		assert.Equal(mt, model.TsKvEntry{Ts: 100, KvEntry: model.NewDoubleEntry("temp", 21.5)}, got[0])

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "find", evt.CommandName)
		assert.Equal(mt, "ts_kv_latest", evt.Command.Lookup("find").StringValue())
	})

	mt.Run("find all queries history per key", func(mt *mtest.T) {
		store := NewTimeseriesStore(mt.DB, "", "")
		mt.AddMockResponses(
			tsResponse(mtest.TestDb+".ts_kv",
				bson.D{{Key: "_id", Value: "2"}, {Key: "key", Value: "temp"}, {Key: "ts", Value: int64(20)}, {Key: "type", Value: "LONG"}, {Key: "long_v", Value: int64(2)}},
				bson.D{{Key: "_id", Value: "1"}, {Key: "key", Value: "temp"}, {Key: "ts", Value: int64(10)}, {Key: "type", Value: "LONG"}, {Key: "long_v", Value: int64(1)}},
			),
			tsResponse(mtest.TestDb+".ts_kv"),
		)

		got, err := store.FindAll(ctx, tenant, dev, []types.ReadTsKvQuery{
			{Key: "temp", StartTs: 0, EndTs: 100, Limit: 5},
			{Key: "hum", StartTs: 0, EndTs: 100, Limit: 5},
		})
		require.NoError(mt, err)
		require.Len(mt, got, 2)
		assert.Equal(mt, int64(20), got[0].Ts)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, int64(5), evt.Command.Lookup("limit").AsInt64())
	})

	mt.Run("find latest rejects corrupt document", func(mt *mtest.T) {
		store := NewTimeseriesStore(mt.DB, "", "")
		mt.AddMockResponses(tsResponse(mtest.TestDb+".ts_kv_latest",
			bson.D{{Key: "_id", Value: "bad"}, {Key: "key", Value: "temp"}, {Key: "ts", Value: int64(1)}, {Key: "type", Value: "DOUBLE"}},
		))
		_, err := store.FindLatest(ctx, tenant, dev, nil)
		assert.ErrorContains(mt, err, "decode bad")
	})

	mt.Run("save ignores newer latest", func(mt *mtest.T) {
		store := NewTimeseriesStore(mt.DB, "", "")
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key"}),
		)
		err := store.Save(ctx, tenant, dev, []model.TsKvEntry{{Ts: 5, KvEntry: model.NewLongEntry("temp", 1)}})
		require.NoError(mt, err)
	})

	mt.Run("save surfaces other write errors", func(mt *mtest.T) {
		store := NewTimeseriesStore(mt.DB, "", "")
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 2, Message: "bad value"}),
		)
		err := store.Save(ctx, tenant, dev, []model.TsKvEntry{{Ts: 5, KvEntry: model.NewLongEntry("temp", 1)}})
		assert.ErrorContains(mt, err, "save history")
	})

	mt.Run("remove deletes history and latest", func(mt *mtest.T) {
		store := NewTimeseriesStore(mt.DB, "", "")
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
		)
		require.NoError(mt, store.Remove(ctx, tenant, dev, []string{"temp"}))
		assert.Equal(mt, "delete", mt.GetStartedEvent().CommandName)
		assert.Equal(mt, "delete", mt.GetStartedEvent().CommandName)
		require.NoError(mt, store.Remove(ctx, tenant, dev, nil))
		require.NoError(mt, store.Close(ctx))
	})
}

func TestAttributesStore_Mock(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)
	ctx := context.Background()

	mt.Run("find", func(mt *mtest.T) {
		store := NewAttributesStore(mt.DB, "")
		mt.AddMockResponses(tsResponse(mtest.TestDb+".attribute_kv",
			bson.D{{Key: "_id", Value: "a"}, {Key: "scope", Value: "SERVER_SCOPE"}, {Key: "key", Value: "inactivityTimeout"}, {Key: "last_update_ts", Value: int64(7)}, {Key: "type", Value: "LONG"}, {Key: "long_v", Value: int64(60000)}},
		))
		got, err := store.Find(ctx, tenant, dev, model.ScopeAny, []string{"inactivityTimeout"})
		require.NoError(mt, err)
		require.Len(mt, got, 1)
		assert.Equal(mt, int64(7), got[0].LastUpdateTs)
		assert.Equal(mt, int64(60000), got[0].Long)
	})

	mt.Run("save", func(mt *mtest.T) {
		store := NewAttributesStore(mt.DB, "")
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		require.NoError(mt, store.Save(ctx, tenant, dev, model.ScopeShared, []model.AttributeKvEntry{
			{LastUpdateTs: 1, KvEntry: model.NewStringEntry("fw", "1.0")},
		}))
		assert.Equal(mt, "update", mt.GetStartedEvent().CommandName)

		assert.ErrorIs(mt, store.Save(ctx, tenant, dev, model.ScopeAny, nil), model.ErrInvalidArgument)
	})

	mt.Run("remove", func(mt *mtest.T) {
		store := NewAttributesStore(mt.DB, "")
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		require.NoError(mt, store.Remove(ctx, tenant, dev, model.ScopeAny, []string{"fw"}))
		require.NoError(mt, store.Close(ctx))
	})
}
