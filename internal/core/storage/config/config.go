package config

import (
	"fmt"
	"os"
	"time"

	services "github.com/syntrixbase/fanout/internal/services/config"
)

// Backend types.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Topology strategies.
const (
	StrategySingle         = "single"
	StrategyReadWriteSplit = "read_write_split"
)

type Config struct {
	Backends map[string]BackendConfig `yaml:"backends"`
	Topology TopologyConfig           `yaml:"topology"`
}

type BackendConfig struct {
	Type     string         `yaml:"type"` // "memory", "mongo" or "postgres"
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type MongoConfig struct {
	URI                  string `yaml:"uri"`
	DatabaseName         string `yaml:"database_name"`
	TimeseriesCollection string `yaml:"timeseries_collection"`
	LatestCollection     string `yaml:"latest_collection"`
	AttributesCollection string `yaml:"attributes_collection"`
	EnsureIndexes        bool   `yaml:"ensure_indexes"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	EnsureSchema    bool          `yaml:"ensure_schema"`
}

type TopologyConfig struct {
	Timeseries BaseTopology `yaml:"timeseries"`
	Attributes BaseTopology `yaml:"attributes"`
}

type BaseTopology struct {
	Strategy string `yaml:"strategy"` // "single", "read_write_split"
	Primary  string `yaml:"primary"`
	Replica  string `yaml:"replica"`
}

func DefaultConfig() Config {
	return Config{
		Backends: map[string]BackendConfig{
			"default": {Type: BackendMemory},
		},
		Topology: TopologyConfig{
			Timeseries: BaseTopology{Strategy: StrategySingle, Primary: "default"},
			Attributes: BaseTopology{Strategy: StrategySingle, Primary: "default"},
		},
	}
}

func (c *Config) Validate(mode services.DeploymentMode) error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("storage.backends must not be empty")
	}
	for name, b := range c.Backends {
		switch b.Type {
		case BackendMemory:
			if mode.IsDistributed() {
				return fmt.Errorf("storage backend %q: memory backend is not shared between nodes; use mongo or postgres in distributed mode", name)
			}
		case BackendMongo:
			if b.Mongo.URI == "" || b.Mongo.DatabaseName == "" {
				return fmt.Errorf("storage backend %q: mongo uri and database_name are required", name)
			}
		case BackendPostgres:
			if b.Postgres.DSN == "" {
				return fmt.Errorf("storage backend %q: postgres dsn is required", name)
			}
		default:
			return fmt.Errorf("storage backend %q: unsupported type %q", name, b.Type)
		}
	}
	if err := c.validateTopology("timeseries", c.Topology.Timeseries); err != nil {
		return err
	}
	return c.validateTopology("attributes", c.Topology.Attributes)
}

func (c *Config) validateTopology(name string, t BaseTopology) error {
	if _, ok := c.Backends[t.Primary]; !ok {
		return fmt.Errorf("storage.topology.%s references unknown backend %q", name, t.Primary)
	}
	switch t.Strategy {
	case StrategySingle:
	case StrategyReadWriteSplit:
		if _, ok := c.Backends[t.Replica]; !ok {
			return fmt.Errorf("storage.topology.%s references unknown replica %q", name, t.Replica)
		}
	default:
		return fmt.Errorf("storage.topology.%s: unsupported strategy %q", name, t.Strategy)
	}
	return nil
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Backends == nil {
		c.Backends = defaults.Backends
	}
	for name, b := range c.Backends {
		if b.Type == BackendMongo {
			if b.Mongo.TimeseriesCollection == "" {
				b.Mongo.TimeseriesCollection = "ts_kv"
			}
			if b.Mongo.LatestCollection == "" {
				b.Mongo.LatestCollection = "ts_kv_latest"
			}
			if b.Mongo.AttributesCollection == "" {
				b.Mongo.AttributesCollection = "attribute_kv"
			}
			c.Backends[name] = b
		}
	}
	applyTopologyDefaults(&c.Topology.Timeseries, defaults.Topology.Timeseries)
	applyTopologyDefaults(&c.Topology.Attributes, defaults.Topology.Attributes)
}

func applyTopologyDefaults(t *BaseTopology, d BaseTopology) {
	if t.Strategy == "" {
		t.Strategy = d.Strategy
	}
	if t.Primary == "" {
		t.Primary = d.Primary
	}
}

// ApplyEnvOverrides applies environment variable overrides to the
// "default" backend.
func (c *Config) ApplyEnvOverrides() {
	backend, ok := c.Backends["default"]
	if !ok {
		return
	}
	if val := os.Getenv("FANOUT_STORAGE_TYPE"); val != "" {
		backend.Type = val
	}
	if val := os.Getenv("FANOUT_MONGO_URI"); val != "" {
		backend.Mongo.URI = val
	}
	if val := os.Getenv("FANOUT_MONGO_DB"); val != "" {
		backend.Mongo.DatabaseName = val
	}
	if val := os.Getenv("FANOUT_POSTGRES_DSN"); val != "" {
		backend.Postgres.DSN = val
	}
	c.Backends["default"] = backend
}

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in storage config.
func (c *Config) ResolvePaths(_ string) { _ = c }
