package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/lib/pq"
	"github.com/syntrixbase/fanout/internal/core/storage/types"
	"github.com/syntrixbase/fanout/pkg/model"
)

const upsertAttribute = `
	INSERT INTO attribute_kv (tenant_id, entity_type, entity_id, scope, key, last_update_ts, bool_v, long_v, dbl_v, str_v, json_v)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (tenant_id, entity_id, scope, key) DO UPDATE SET
		last_update_ts = EXCLUDED.last_update_ts, bool_v = EXCLUDED.bool_v, long_v = EXCLUDED.long_v,
		dbl_v = EXCLUDED.dbl_v, str_v = EXCLUDED.str_v, json_v = EXCLUDED.json_v`

type attributesStore struct {
	db *sql.DB
}

// NewAttributesStore creates a PostgreSQL-backed AttributesStore.
func NewAttributesStore(db *sql.DB) types.AttributesStore {
	return &attributesStore{db: db}
}

func (s *attributesStore) Find(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) ([]model.AttributeKvEntry, error) {
	query := `SELECT key, last_update_ts, bool_v, long_v, dbl_v, str_v, json_v FROM attribute_kv
		WHERE tenant_id = $1 AND entity_id = $2 AND entity_type = $3`
	args := []any{tenantID.String(), entityID.ID.String(), string(entityID.Type)}
	if scope != model.ScopeAny {
		args = append(args, string(scope))
		query += ` AND scope = $` + strconv.Itoa(len(args))
	}
	if len(keys) > 0 {
		args = append(args, pq.Array(keys))
		query += ` AND key = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	query += ` ORDER BY key, scope`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.WrapError(err)
	}
	defer rows.Close()

	var out []model.AttributeKvEntry
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
		out = append(out, model.AttributeKvEntry{LastUpdateTs: ts, KvEntry: kv})
	}
	return out, model.WrapError(rows.Err())
}

func (s *attributesStore) Save(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry) error {
	if scope == model.ScopeAny {
		return model.Invalidf("attributes cannot be saved in %s", scope)
	}
	if len(attrs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range attrs {
		args := append([]any{tenantID.String(), string(entityID.Type), entityID.ID.String(), string(scope), a.Key, a.LastUpdateTs},
			valuesOf(a.KvEntry).args()...)
		if _, err := tx.ExecContext(ctx, upsertAttribute, args...); err != nil {
			return fmt.Errorf("save attribute %q: %w", a.Key, model.WrapError(err))
		}
	}
	return model.WrapError(tx.Commit())
}

func (s *attributesStore) Remove(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	scopes := make([]string, 0, 3)
	for _, sc := range scope.Concrete() {
		scopes = append(scopes, string(sc))
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM attribute_kv WHERE tenant_id = $1 AND entity_id = $2 AND scope = ANY($3) AND key = ANY($4)`,
		tenantID.String(), entityID.ID.String(), pq.Array(scopes), pq.Array(keys))
	return model.WrapError(err)
}

// Close is a no-op; the factory owns the connection pool.
func (s *attributesStore) Close(context.Context) error { return nil }
