package mongo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/syntrixbase/fanout/pkg/model"
	"github.com/zeebo/blake3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const duplicateKeyCode = 11000

// KvFields stores a typed value. Only the field selected by Type is set.
type KvFields struct {
	Type   string   `bson:"type"`
	Bool   *bool    `bson:"bool_v,omitempty"`
	Long   *int64   `bson:"long_v,omitempty"`
	Double *float64 `bson:"dbl_v,omitempty"`
	Str    *string  `bson:"str_v,omitempty"`
	JSON   *string  `bson:"json_v,omitempty"`
}

type tsDoc struct {
	ID         string `bson:"_id"`
	TenantID   string `bson:"tenant_id"`
	EntityType string `bson:"entity_type"`
	EntityID   string `bson:"entity_id"`
	Key        string `bson:"key"`
	Ts         int64  `bson:"ts"`
	KvFields   `bson:",inline"`
}

type attrDoc struct {
	ID           string `bson:"_id"`
	TenantID     string `bson:"tenant_id"`
	EntityType   string `bson:"entity_type"`
	EntityID     string `bson:"entity_id"`
	Scope        string `bson:"scope"`
	Key          string `bson:"key"`
	LastUpdateTs int64  `bson:"last_update_ts"`
	KvFields     `bson:",inline"`
}

// docID derives a compact, stable document id from its natural key.
func docID(parts ...string) string {
	hash := blake3.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(hash[:16])
}

func entityFilter(tenantID model.TenantID, entityID model.EntityID) bson.M {
	return bson.M{
		"tenant_id":   tenantID.String(),
		"entity_type": string(entityID.Type),
		"entity_id":   entityID.ID.String(),
	}
}

func fieldsFromKv(kv model.KvEntry) KvFields {
	f := KvFields{Type: string(kv.Type)}
	switch kv.Type {
	case model.DataTypeBoolean:
		v := kv.Bool
		f.Bool = &v
	case model.DataTypeLong:
		v := kv.Long
		f.Long = &v
	case model.DataTypeDouble:
		v := kv.Double
		f.Double = &v
	case model.DataTypeString:
		v := kv.Str
		f.Str = &v
	case model.DataTypeJSON:
		v := kv.Str
		f.JSON = &v
	}
	return f
}

func (f KvFields) toKv(key string) (model.KvEntry, error) {
	t, err := model.ParseDataType(f.Type)
	if err != nil {
		return model.KvEntry{}, err
	}
	kv := model.KvEntry{Key: key, Type: t}
	var ok bool
	switch t {
	case model.DataTypeBoolean:
		if ok = f.Bool != nil; ok {
			kv.Bool = *f.Bool
		}
	case model.DataTypeLong:
		if ok = f.Long != nil; ok {
			kv.Long = *f.Long
		}
	case model.DataTypeDouble:
		if ok = f.Double != nil; ok {
			kv.Double = *f.Double
		}
	case model.DataTypeString:
		if ok = f.Str != nil; ok {
			kv.Str = *f.Str
		}
	case model.DataTypeJSON:
		if ok = f.JSON != nil; ok {
			kv.Str = *f.JSON
		}
	}
	if !ok {
		return model.KvEntry{}, fmt.Errorf("key %q: missing %s value", key, t)
	}
	return kv, nil
}

func newTsDoc(id string, tenantID model.TenantID, entityID model.EntityID, e model.TsKvEntry) tsDoc {
	return tsDoc{
		ID:         id,
		TenantID:   tenantID.String(),
		EntityType: string(entityID.Type),
		EntityID:   entityID.ID.String(),
		Key:        e.Key,
		Ts:         e.Ts,
		KvFields:   fieldsFromKv(e.KvEntry),
	}
}

func (d tsDoc) toEntry() (model.TsKvEntry, error) {
	kv, err := d.toKv(d.Key)
	if err != nil {
		return model.TsKvEntry{}, err
	}
	return model.TsKvEntry{Ts: d.Ts, KvEntry: kv}, nil
}

func newAttrDoc(tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, a model.AttributeKvEntry) attrDoc {
	tenant, entity := tenantID.String(), entityID.ID.String()
	return attrDoc{
		ID:           docID(tenant, entity, string(scope), a.Key),
		TenantID:     tenant,
		EntityType:   string(entityID.Type),
		EntityID:     entity,
		Scope:        string(scope),
		Key:          a.Key,
		LastUpdateTs: a.LastUpdateTs,
		KvFields:     fieldsFromKv(a.KvEntry),
	}
}

func (d attrDoc) toEntry() (model.AttributeKvEntry, error) {
	kv, err := d.toKv(d.Key)
	if err != nil {
		return model.AttributeKvEntry{}, err
	}
	return model.AttributeKvEntry{LastUpdateTs: d.LastUpdateTs, KvEntry: kv}, nil
}

// onlyDuplicateKeys reports whether every write error of a bulk write is a
// duplicate key error.
func onlyDuplicateKeys(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}
