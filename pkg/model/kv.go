package model

import (
	"math"
	"strconv"
)

// DataType is the type tag of a key-value entry.
type DataType string

const (
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeLong    DataType = "LONG"
	DataTypeDouble  DataType = "DOUBLE"
	DataTypeString  DataType = "STRING"
	DataTypeJSON    DataType = "JSON"
)

// ParseDataType validates a data type tag.
func ParseDataType(s string) (DataType, error) {
	switch t := DataType(s); t {
	case DataTypeBoolean, DataTypeLong, DataTypeDouble, DataTypeString, DataTypeJSON:
		return t, nil
	default:
		return "", Invalidf("unknown data type %q", s)
	}
}

// KvEntry is a typed key-value pair. Exactly one value field is meaningful,
// selected by Type.
type KvEntry struct {
	Key    string
	Type   DataType
	Bool   bool
	Long   int64
	Double float64
	Str    string // STRING and JSON payloads
}

// NewBoolEntry returns a BOOLEAN entry.
func NewBoolEntry(key string, v bool) KvEntry {
	return KvEntry{Key: key, Type: DataTypeBoolean, Bool: v}
}

// NewLongEntry returns a LONG entry.
func NewLongEntry(key string, v int64) KvEntry {
	return KvEntry{Key: key, Type: DataTypeLong, Long: v}
}

// NewDoubleEntry returns a DOUBLE entry.
func NewDoubleEntry(key string, v float64) KvEntry {
	return KvEntry{Key: key, Type: DataTypeDouble, Double: v}
}

// NewStringEntry returns a STRING entry.
func NewStringEntry(key string, v string) KvEntry {
	return KvEntry{Key: key, Type: DataTypeString, Str: v}
}

// NewJSONEntry returns a JSON entry holding the raw document text.
func NewJSONEntry(key string, v string) KvEntry {
	return KvEntry{Key: key, Type: DataTypeJSON, Str: v}
}

// Value returns the populated value as an interface.
func (e KvEntry) Value() any {
	switch e.Type {
	case DataTypeBoolean:
		return e.Bool
	case DataTypeLong:
		return e.Long
	case DataTypeDouble:
		return e.Double
	default:
		return e.Str
	}
}

// ValueAsString renders the value in its canonical string form.
func (e KvEntry) ValueAsString() string {
	switch e.Type {
	case DataTypeBoolean:
		return strconv.FormatBool(e.Bool)
	case DataTypeLong:
		return strconv.FormatInt(e.Long, 10)
	case DataTypeDouble:
		return strconv.FormatFloat(e.Double, 'f', -1, 64)
	default:
		return e.Str
	}
}

// LongValue coerces the value to an int64. Doubles are truncated, strings
// and JSON are parsed and yield 0 when they are not numbers.
func (e KvEntry) LongValue() int64 {
	switch e.Type {
	case DataTypeLong:
		return e.Long
	case DataTypeDouble:
		if math.IsNaN(e.Double) || math.IsInf(e.Double, 0) {
			return 0
		}
		return int64(e.Double)
	case DataTypeString, DataTypeJSON:
		v, err := strconv.ParseInt(e.Str, 10, 64)
		if err != nil {
			return 0
		}
		return v
	case DataTypeBoolean:
		if e.Bool {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// TsKvEntry is a key-value entry observed at a timestamp (epoch millis).
type TsKvEntry struct {
	Ts int64
	KvEntry
}

// AttributeKvEntry is an attribute value with its last update timestamp.
type AttributeKvEntry struct {
	LastUpdateTs int64
	KvEntry
}

// ToTsKvEntry views the attribute as a timestamped entry.
func (a AttributeKvEntry) ToTsKvEntry() TsKvEntry {
	return TsKvEntry{Ts: a.LastUpdateTs, KvEntry: a.KvEntry}
}
