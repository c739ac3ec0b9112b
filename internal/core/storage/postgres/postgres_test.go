package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/fanout/internal/core/storage/types"
	"github.com/syntrixbase/fanout/pkg/model"
)

var valueColumns = []string{"bool_v", "long_v", "dbl_v", "str_v", "json_v"}

func setupMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEnsureSchema(t *testing.T) {
	db, mock := setupMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ts_kv`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, EnsureSchema(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValues_ToKv(t *testing.T) {
	for _, kv := range []model.KvEntry{
		model.NewBoolEntry("b", true),
		model.NewLongEntry("l", -1),
		model.NewDoubleEntry("d", 0.5),
		model.NewStringEntry("s", "x"),
		model.NewJSONEntry("j", "[]"),
	} {
		got, err := valuesOf(kv).toKv(kv.Key)
		require.NoError(t, err)
		assert.Equal(t, kv, got)
	}

	_, err := values{}.toKv("empty")
	assert.Error(t, err)
	_, err = values{Bool: sql.NullBool{Valid: true}, Long: sql.NullInt64{Valid: true}}.toKv("two")
	assert.Error(t, err)
}

func TestTimeseriesStore_FindLatest(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewTimeseriesStore(db)
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)

	rows := sqlmock.NewRows(append([]string{"key", "ts"}, valueColumns...)).
		AddRow("hum", int64(10), nil, int64(40), nil, nil, nil).
		AddRow("temp", int64(20), nil, nil, 21.5, nil, nil)
	mock.ExpectQuery(`SELECT key, ts, .* FROM ts_kv_latest\s+WHERE tenant_id = \$1 AND entity_id = \$2 AND entity_type = \$3 AND key = ANY\(\$4\) ORDER BY key`).
		WithArgs(tenant.String(), dev.ID.String(), "DEVICE", pq.Array([]string{"hum", "temp"})).
		WillReturnRows(rows)

	got, err := store.FindLatest(ctx, tenant, dev, []string{"hum", "temp"})
	require.NoError(t, err)
	assert.Equal(t, []model.TsKvEntry{
		{Ts: 10, KvEntry: model.NewLongEntry("hum", 40)},
		{Ts: 20, KvEntry: model.NewDoubleEntry("temp", 21.5)},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeseriesStore_FindLatest_AllKeysAndError(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewTimeseriesStore(db)
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeAsset)

	mock.ExpectQuery(`FROM ts_kv_latest\s+WHERE tenant_id = \$1 AND entity_id = \$2 AND entity_type = \$3 ORDER BY key`).
		WithArgs(tenant.String(), dev.ID.String(), "ASSET").
		WillReturnError(errors.New("connection reset"))

	_, err := store.FindLatest(ctx, tenant, dev, nil)
	assert.EqualError(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeseriesStore_FindAll(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewTimeseriesStore(db)
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)

	mock.ExpectQuery(`FROM ts_kv\s+WHERE .* AND key = \$4 AND ts >= \$5 AND ts <= \$6\s+ORDER BY ts DESC LIMIT \$7`).
		WithArgs(tenant.String(), dev.ID.String(), "DEVICE", "temp", int64(101), int64(500), 100).
		WillReturnRows(sqlmock.NewRows(append([]string{"key", "ts"}, valueColumns...)).
			AddRow("temp", int64(300), nil, nil, 22.0, nil, nil).
			AddRow("temp", int64(200), nil, nil, 21.0, nil, nil))
	mock.ExpectQuery(`FROM ts_kv\s+WHERE .*ORDER BY ts DESC$`).
		WithArgs(tenant.String(), dev.ID.String(), "DEVICE", "state", int64(0), int64(500)).
		WillReturnRows(sqlmock.NewRows(append([]string{"key", "ts"}, valueColumns...)).
			AddRow("state", int64(50), nil, nil, nil, "on", nil))

	got, err := store.FindAll(ctx, tenant, dev, []types.ReadTsKvQuery{
		{Key: "temp", StartTs: 101, EndTs: 500, Limit: 100},
		{Key: "state", StartTs: 0, EndTs: 500},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(300), got[0].Ts)
	assert.Equal(t, model.NewStringEntry("state", "on"), got[2].KvEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeseriesStore_FindAll_CorruptRow(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewTimeseriesStore(db)

	mock.ExpectQuery(`FROM ts_kv`).
		WillReturnRows(sqlmock.NewRows(append([]string{"key", "ts"}, valueColumns...)).
			AddRow("temp", int64(1), nil, nil, nil, nil, nil))

	_, err := store.FindAll(ctx, model.NewTenantID(), model.NewEntityID(model.EntityTypeDevice),
		[]types.ReadTsKvQuery{{Key: "temp", EndTs: 10, Limit: 1}})
	assert.ErrorContains(t, err, "expected one value column")
}

func TestTimeseriesStore_Save(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewTimeseriesStore(db)
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ts_kv \(`).
		WithArgs(tenant.String(), "DEVICE", dev.ID.String(), "inactivityTimeout", int64(1000), nil, int64(60000), nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ts_kv_latest .* WHERE ts_kv_latest.ts <= EXCLUDED.ts`).
		WithArgs(tenant.String(), "DEVICE", dev.ID.String(), "inactivityTimeout", int64(1000), nil, int64(60000), nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Save(ctx, tenant, dev, []model.TsKvEntry{{Ts: 1000, KvEntry: model.NewLongEntry("inactivityTimeout", 60000)}})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, tenant, dev, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeseriesStore_SaveRollsBack(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewTimeseriesStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ts_kv \(`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Save(ctx, model.NewTenantID(), model.NewEntityID(model.EntityTypeDevice),
		[]model.TsKvEntry{{Ts: 1, KvEntry: model.NewBoolEntry("on", true)}})
	assert.ErrorContains(t, err, `save history "on": disk full`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeseriesStore_Remove(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewTimeseriesStore(db)
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM ts_kv WHERE`).
		WithArgs(tenant.String(), dev.ID.String(), pq.Array([]string{"a"})).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM ts_kv_latest WHERE`).
		WithArgs(tenant.String(), dev.ID.String(), pq.Array([]string{"a"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Remove(ctx, tenant, dev, []string{"a"}))
	require.NoError(t, store.Remove(ctx, tenant, dev, nil))
	require.NoError(t, store.Close(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributesStore_Find(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewAttributesStore(db)
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)

	mock.ExpectQuery(`FROM attribute_kv\s+WHERE tenant_id = \$1 AND entity_id = \$2 AND entity_type = \$3 AND scope = \$4 AND key = ANY\(\$5\) ORDER BY key, scope`).
		WithArgs(tenant.String(), dev.ID.String(), "DEVICE", "SERVER_SCOPE", pq.Array([]string{"inactivityTimeout"})).
		WillReturnRows(sqlmock.NewRows(append([]string{"key", "last_update_ts"}, valueColumns...)).
			AddRow("inactivityTimeout", int64(9), nil, int64(30000), nil, nil, nil))

	got, err := store.Find(ctx, tenant, dev, model.ScopeServer, []string{"inactivityTimeout"})
	require.NoError(t, err)
	assert.Equal(t, []model.AttributeKvEntry{{LastUpdateTs: 9, KvEntry: model.NewLongEntry("inactivityTimeout", 30000)}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributesStore_FindAnyScope(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewAttributesStore(db)
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)

	mock.ExpectQuery(`FROM attribute_kv\s+WHERE tenant_id = \$1 AND entity_id = \$2 AND entity_type = \$3 ORDER BY key, scope`).
		WithArgs(tenant.String(), dev.ID.String(), "DEVICE").
		WillReturnRows(sqlmock.NewRows(append([]string{"key", "last_update_ts"}, valueColumns...)))

	got, err := store.Find(ctx, tenant, dev, model.ScopeAny, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributesStore_SaveAndRemove(t *testing.T) {
	ctx := testCtx(t)
	db, mock := setupMock(t)
	store := NewAttributesStore(db)
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO attribute_kv`).
		WithArgs(tenant.String(), "DEVICE", dev.ID.String(), "SHARED_SCOPE", "cfg", int64(5), nil, nil, nil, nil, `{"a":1}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`DELETE FROM attribute_kv`).
		WithArgs(tenant.String(), dev.ID.String(), pq.Array([]string{"CLIENT_SCOPE", "SHARED_SCOPE", "SERVER_SCOPE"}), pq.Array([]string{"cfg"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(ctx, tenant, dev, model.ScopeShared, []model.AttributeKvEntry{
		{LastUpdateTs: 5, KvEntry: model.NewJSONEntry("cfg", `{"a":1}`)},
	}))
	require.NoError(t, store.Remove(ctx, tenant, dev, model.ScopeAny, []string{"cfg"}))
	assert.ErrorIs(t, store.Save(ctx, tenant, dev, model.ScopeAny, nil), model.ErrInvalidArgument)
	require.NoError(t, store.Close(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}
