package postgres

import (
	"database/sql"
	"fmt"

	"github.com/syntrixbase/fanout/pkg/model"
)

// EnsureSchema creates the key-value tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS ts_kv (
    tenant_id    UUID NOT NULL,
    entity_type  VARCHAR(32) NOT NULL,
    entity_id    UUID NOT NULL,
    key          VARCHAR(255) NOT NULL,
    ts           BIGINT NOT NULL,
    bool_v       BOOLEAN,
    long_v       BIGINT,
    dbl_v        DOUBLE PRECISION,
    str_v        TEXT,
    json_v       TEXT,
    PRIMARY KEY (tenant_id, entity_id, key, ts)
);

CREATE TABLE IF NOT EXISTS ts_kv_latest (
    tenant_id    UUID NOT NULL,
    entity_type  VARCHAR(32) NOT NULL,
    entity_id    UUID NOT NULL,
    key          VARCHAR(255) NOT NULL,
    ts           BIGINT NOT NULL,
    bool_v       BOOLEAN,
    long_v       BIGINT,
    dbl_v        DOUBLE PRECISION,
    str_v        TEXT,
    json_v       TEXT,
    PRIMARY KEY (tenant_id, entity_id, key)
);

CREATE TABLE IF NOT EXISTS attribute_kv (
    tenant_id       UUID NOT NULL,
    entity_type     VARCHAR(32) NOT NULL,
    entity_id       UUID NOT NULL,
    scope           VARCHAR(32) NOT NULL,
    key             VARCHAR(255) NOT NULL,
    last_update_ts  BIGINT NOT NULL,
    bool_v          BOOLEAN,
    long_v          BIGINT,
    dbl_v           DOUBLE PRECISION,
    str_v           TEXT,
    json_v          TEXT,
    PRIMARY KEY (tenant_id, entity_id, scope, key)
);
`
	_, err := db.Exec(schema)
	return err
}

// values holds one nullable column per data type.
type values struct {
	Bool   sql.NullBool
	Long   sql.NullInt64
	Double sql.NullFloat64
	Str    sql.NullString
	JSON   sql.NullString
}

func valuesOf(kv model.KvEntry) values {
	var v values
	switch kv.Type {
	case model.DataTypeBoolean:
		v.Bool = sql.NullBool{Bool: kv.Bool, Valid: true}
	case model.DataTypeLong:
		v.Long = sql.NullInt64{Int64: kv.Long, Valid: true}
	case model.DataTypeDouble:
		v.Double = sql.NullFloat64{Float64: kv.Double, Valid: true}
	case model.DataTypeString:
		v.Str = sql.NullString{String: kv.Str, Valid: true}
	case model.DataTypeJSON:
		v.JSON = sql.NullString{String: kv.Str, Valid: true}
	}
	return v
}

// args returns the column values in schema order.
func (v values) args() []any {
	return []any{v.Bool, v.Long, v.Double, v.Str, v.JSON}
}

func (v *values) dest() []any {
	return []any{&v.Bool, &v.Long, &v.Double, &v.Str, &v.JSON}
}

// toKv picks the single non-null column.
func (v values) toKv(key string) (model.KvEntry, error) {
	var (
		kv  model.KvEntry
		set int
	)
	if v.Bool.Valid {
		kv, set = model.NewBoolEntry(key, v.Bool.Bool), set+1
	}
	if v.Long.Valid {
		kv, set = model.NewLongEntry(key, v.Long.Int64), set+1
	}
	if v.Double.Valid {
		kv, set = model.NewDoubleEntry(key, v.Double.Float64), set+1
	}
	if v.Str.Valid {
		kv, set = model.NewStringEntry(key, v.Str.String), set+1
	}
	if v.JSON.Valid {
		kv, set = model.NewJSONEntry(key, v.JSON.String), set+1
	}
	if set != 1 {
		return model.KvEntry{}, fmt.Errorf("key %q: expected one value column, found %d", key, set)
	}
	return kv, nil
}
