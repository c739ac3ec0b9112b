package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"github.com/syntrixbase/fanout/internal/core/storage/config"
	"github.com/syntrixbase/fanout/internal/core/storage/memory"
	"github.com/syntrixbase/fanout/internal/core/storage/mongo"
	"github.com/syntrixbase/fanout/internal/core/storage/postgres"
	"github.com/syntrixbase/fanout/internal/core/storage/router"
	"github.com/syntrixbase/fanout/internal/core/storage/types"
)

// Dependency injection for testing
var newMongoProvider = func(ctx context.Context, cfg config.MongoConfig) (mongoProvider, error) {
	return mongo.Connect(ctx, cfg)
}

// Dependency injection for postgres
var newPostgresDB = func(cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// backend holds the stores of one configured backend.
type backend struct {
	timeseries types.TimeseriesStore
	attributes types.AttributesStore
}

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

type factory struct {
	backends   map[string]backend
	providers  []Provider
	postgresDB []*sql.DB
	tsStore    types.TimeseriesStore
	attrStore  types.AttributesStore
	mu         sync.Mutex
}

func NewFactory(ctx context.Context, cfg config.Config) (StorageFactory, error) {
	f := &factory{
		backends: make(map[string]backend),
	}
	success := false
	defer func() {
		if !success {
			f.Close(context.Background())
		}
	}()

	// 1. Initialize Backends
	for name, backendCfg := range cfg.Backends {
		b, err := f.openBackend(ctx, name, backendCfg)
		if err != nil {
			return nil, err
		}
		f.backends[name] = b
	}

	// 2. Initialize Time-series Store
	tsRouter, err := f.createTimeseriesRouter(cfg.Topology.Timeseries)
	if err != nil {
		return nil, err
	}
	f.tsStore = router.NewRoutedTimeseriesStore(tsRouter)

	// 3. Initialize Attribute Store
	attrRouter, err := f.createAttributesRouter(cfg.Topology.Attributes)
	if err != nil {
		return nil, err
	}
	f.attrStore = router.NewRoutedAttributesStore(attrRouter)

	success = true
	return f, nil
}

func (f *factory) openBackend(ctx context.Context, name string, cfg config.BackendConfig) (backend, error) {
	switch cfg.Type {
	case config.BackendMemory:
		return backend{
			timeseries: memory.NewTimeseriesStore(),
			attributes: memory.NewAttributesStore(),
		}, nil

	case config.BackendMongo:
		p, err := newMongoProvider(ctx, cfg.Mongo)
		if err != nil {
			return backend{}, fmt.Errorf("failed to initialize backend %s: %w", name, err)
		}
		f.providers = append(f.providers, p)
		b := backend{
			timeseries: mongo.NewTimeseriesStore(p.Database(), cfg.Mongo.TimeseriesCollection, cfg.Mongo.LatestCollection),
			attributes: mongo.NewAttributesStore(p.Database(), cfg.Mongo.AttributesCollection),
		}
		if cfg.Mongo.EnsureIndexes {
			for _, s := range []any{b.timeseries, b.attributes} {
				if ix, ok := s.(indexer); ok {
					if err := ix.EnsureIndexes(ctx); err != nil {
						return backend{}, fmt.Errorf("backend %s: failed to ensure indexes: %w", name, err)
					}
				}
			}
		}
		return b, nil

	case config.BackendPostgres:
		if cfg.Postgres.DSN == "" {
			return backend{}, fmt.Errorf("postgres backend %s: DSN is required", name)
		}
		db, err := newPostgresDB(cfg.Postgres)
		if err != nil {
			return backend{}, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		f.postgresDB = append(f.postgresDB, db)
		if err := db.PingContext(ctx); err != nil {
			return backend{}, fmt.Errorf("failed to ping postgres: %w", err)
		}
		if cfg.Postgres.EnsureSchema {
			if err := postgres.EnsureSchema(db); err != nil {
				return backend{}, fmt.Errorf("failed to ensure postgres schema: %w", err)
			}
		}
		return backend{
			timeseries: postgres.NewTimeseriesStore(db),
			attributes: postgres.NewAttributesStore(db),
		}, nil
	}

	return backend{}, fmt.Errorf("unsupported backend type: %s", cfg.Type)
}

func (f *factory) getBackend(name string) (backend, error) {
	b, ok := f.backends[name]
	if !ok {
		return backend{}, fmt.Errorf("backend not found: %s", name)
	}
	return b, nil
}

func (f *factory) createTimeseriesRouter(cfg config.BaseTopology) (types.TimeseriesRouter, error) {
	primary, err := f.getBackend(cfg.Primary)
	if err != nil {
		return nil, err
	}

	switch cfg.Strategy {
	case config.StrategySingle:
		return router.NewSingleTimeseriesRouter(primary.timeseries), nil
	case config.StrategyReadWriteSplit:
		replica, err := f.getBackend(cfg.Replica)
		if err != nil {
			return nil, err
		}
		return router.NewSplitTimeseriesRouter(primary.timeseries, replica.timeseries), nil
	}

	return nil, fmt.Errorf("unsupported strategy: %s", cfg.Strategy)
}

func (f *factory) createAttributesRouter(cfg config.BaseTopology) (types.AttributesRouter, error) {
	primary, err := f.getBackend(cfg.Primary)
	if err != nil {
		return nil, err
	}

	switch cfg.Strategy {
	case config.StrategySingle:
		return router.NewSingleAttributesRouter(primary.attributes), nil
	case config.StrategyReadWriteSplit:
		replica, err := f.getBackend(cfg.Replica)
		if err != nil {
			return nil, err
		}
		return router.NewSplitAttributesRouter(primary.attributes, replica.attributes), nil
	}

	return nil, fmt.Errorf("unsupported strategy: %s", cfg.Strategy)
}

func (f *factory) Timeseries() types.TimeseriesStore {
	return f.tsStore
}

func (f *factory) Attributes() types.AttributesStore {
	return f.attrStore
}

func (f *factory) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, p := range f.providers {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, db := range f.postgresDB {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.providers, f.postgresDB = nil, nil
	if len(errs) > 0 {
		return fmt.Errorf("errors closing providers: %v", errs)
	}
	return nil
}
