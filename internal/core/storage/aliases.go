package storage

import (
	"github.com/syntrixbase/fanout/internal/core/storage/types"
)

type TimeseriesStore = types.TimeseriesStore
type TimeseriesReader = types.TimeseriesReader
type TimeseriesWriter = types.TimeseriesWriter
type AttributesStore = types.AttributesStore
type AttributesReader = types.AttributesReader
type AttributesWriter = types.AttributesWriter
type ReadTsKvQuery = types.ReadTsKvQuery
type OpKind = types.OpKind

const (
	OpRead  = types.OpRead
	OpWrite = types.OpWrite
)
