package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/syntrixbase/fanout/internal/core/storage/types"
	"github.com/syntrixbase/fanout/pkg/model"
)

const (
	upsertHistory = `
		INSERT INTO ts_kv (tenant_id, entity_type, entity_id, key, ts, bool_v, long_v, dbl_v, str_v, json_v)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, entity_id, key, ts) DO UPDATE SET
			bool_v = EXCLUDED.bool_v, long_v = EXCLUDED.long_v, dbl_v = EXCLUDED.dbl_v,
			str_v = EXCLUDED.str_v, json_v = EXCLUDED.json_v`

	upsertLatest = `
		INSERT INTO ts_kv_latest (tenant_id, entity_type, entity_id, key, ts, bool_v, long_v, dbl_v, str_v, json_v)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, entity_id, key) DO UPDATE SET
			ts = EXCLUDED.ts, bool_v = EXCLUDED.bool_v, long_v = EXCLUDED.long_v, dbl_v = EXCLUDED.dbl_v,
			str_v = EXCLUDED.str_v, json_v = EXCLUDED.json_v
		WHERE ts_kv_latest.ts <= EXCLUDED.ts`
)

type timeseriesStore struct {
	db *sql.DB
}

// NewTimeseriesStore creates a PostgreSQL-backed TimeseriesStore.
func NewTimeseriesStore(db *sql.DB) types.TimeseriesStore {
	return &timeseriesStore{db: db}
}

func (s *timeseriesStore) FindLatest(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) ([]model.TsKvEntry, error) {
	query := `SELECT key, ts, bool_v, long_v, dbl_v, str_v, json_v FROM ts_kv_latest
		WHERE tenant_id = $1 AND entity_id = $2 AND entity_type = $3`
	args := []any{tenantID.String(), entityID.ID.String(), string(entityID.Type)}
	if len(keys) > 0 {
		query += ` AND key = ANY($4)`
		args = append(args, pq.Array(keys))
	}
	query += ` ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.WrapError(err)
	}
	return scanTs(rows)
}

func (s *timeseriesStore) FindAll(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, queries []types.ReadTsKvQuery) ([]model.TsKvEntry, error) {
	var out []model.TsKvEntry
	for _, q := range queries {
		query := `SELECT key, ts, bool_v, long_v, dbl_v, str_v, json_v FROM ts_kv
			WHERE tenant_id = $1 AND entity_id = $2 AND entity_type = $3 AND key = $4 AND ts >= $5 AND ts <= $6
			ORDER BY ts DESC`
		args := []any{tenantID.String(), entityID.ID.String(), string(entityID.Type), q.Key, q.StartTs, q.EndTs}
		if q.Limit > 0 {
			query += ` LIMIT $7`
			args = append(args, q.Limit)
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, model.WrapError(err)
		}
		entries, err := scanTs(rows)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	tenant, entity, entityType := tenantID.String(), entityID.ID.String(), string(entityID.Type)
	for _, e := range entries {
		args := append([]any{tenant, entityType, entity, e.Key, e.Ts}, valuesOf(e.KvEntry).args()...)
		if _, err := tx.ExecContext(ctx, upsertHistory, args...); err != nil {
			return fmt.Errorf("save history %q: %w", e.Key, model.WrapError(err))
		}
		if _, err := tx.ExecContext(ctx, upsertLatest, args...); err != nil {
			return fmt.Errorf("save latest %q: %w", e.Key, model.WrapError(err))
		}
	}
	return model.WrapError(tx.Commit())
}

func (s *timeseriesStore) Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{tenantID.String(), entityID.ID.String(), pq.Array(keys)}
	for _, table := range []string{"ts_kv", "ts_kv_latest"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE tenant_id = $1 AND entity_id = $2 AND key = ANY($3)`, args...); err != nil {
			return fmt.Errorf("remove from %s: %w", table, model.WrapError(err))
		}
	}
	return model.WrapError(tx.Commit())
}

// Close is a no-op; the factory owns the connection pool.
func (s *timeseriesStore) Close(context.Context) error { return nil }

func scanTs(rows *sql.Rows) ([]model.TsKvEntry, error) {
	defer rows.Close()
	var out []model.TsKvEntry
	for rows.Next() {
		var (
			key string
			ts  int64
			v   values
		)
		if err := rows.Scan(append([]any{&key, &ts}, v.dest()...)...); err != nil {
			return nil, model.WrapError(err)
		}
		kv, err := v.toKv(key)
		if err != nil {
			return nil, err
		}
		out = append(out, model.TsKvEntry{Ts: ts, KvEntry: kv})
	}
	return out, model.WrapError(rows.Err())
}
