// Package config loads the coordination daemon configuration: a YAML file,
// then COORD_* environment overrides, then validation.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/store"
	"github.com/dd0wney/cluso-coord/pkg/store/memstore"
	"github.com/dd0wney/cluso-coord/pkg/store/pgstore"
	coordtls "github.com/dd0wney/cluso-coord/pkg/tls"
	"github.com/dd0wney/cluso-coord/pkg/validation"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Environment overrides
const (
	EnvStore           = "COORD_STORE"
	EnvIsCluster       = "COORD_IS_CLUSTER"
	EnvConnectionPool  = "COORD_CONNECTION_POOL"
	EnvDatabaseURL     = "COORD_DATABASE_URL"
	EnvRefetchInterval = "COORD_REFETCH_INTERVAL"
	EnvKeepPropertyLog = "COORD_KEEP_PROPERTY_LOG"
	EnvOpsListen       = "COORD_OPS_LISTEN"
	EnvLogLevel        = "COORD_LOG_LEVEL"
	EnvOpsSecret       = "COORD_OPS_SECRET"
)

// ErrUnknownPool is returned when cluster.connection_pool names no pool
var ErrUnknownPool = errors.New("connection pool not configured")

// File is the daemon configuration
type File struct {
	Store   string                        `yaml:"store" validate:"oneof=memory postgres"`
	Cluster cluster.Config                `yaml:"cluster"`
	Pools   map[string]pgstore.PoolConfig `yaml:"pools" validate:"dive"`
	Ops     Ops                           `yaml:"ops"`
	Log     Log                           `yaml:"log"`
}

// Ops configures the operations HTTP endpoint
type Ops struct {
	Listen          string        `yaml:"listen" validate:"required,listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// AuthSecret enables bearer tokens on /v1 (HS256, at least 32 bytes)
	AuthSecret string        `yaml:"auth_secret" validate:"omitempty,min=32"`
	TokenTTL   time.Duration `yaml:"token_ttl" validate:"gte=0"`

	TLS coordtls.Config `yaml:"tls"`
}

// Log configures the process logger
type Log struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns the configuration used for keys the file leaves out
func Default() File {
	return File{
		Store:   StorePostgres,
		Cluster: cluster.DefaultConfig(),
		Pools:   map[string]pgstore.PoolConfig{},
		Ops: Ops{
			Listen:          "127.0.0.1:9470",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			TokenTTL:        time.Hour,
			TLS:             coordtls.DefaultConfig(),
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the file at path (defaults only if path is empty), applies the
// process environment and validates the result
func Load(path string) (File, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return File{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	f, err := Parse(data)
	if err != nil {
		return File{}, err
	}
	if err := f.ApplyEnv(os.LookupEnv); err != nil {
		return File{}, err
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	f := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if f.Pools == nil {
		f.Pools = map[string]pgstore.PoolConfig{}
	}
	return f, nil
}

// ApplyEnv overrides file values with COORD_* variables found by lookup
func (f *File) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvStore); ok {
		f.Store = v
	}
	if v, ok := lookup(EnvIsCluster); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvIsCluster, err)
		}
		f.Cluster.IsCluster = b
	}
	if v, ok := lookup(EnvConnectionPool); ok {
		f.Cluster.ConnectionPool = v
	}
	if v, ok := lookup(EnvDatabaseURL); ok {
		pool, exists := f.Pools[f.Cluster.ConnectionPool]
		if !exists {
			pool = pgstore.DefaultPoolConfig()
		}
		pool.DSN = v
		f.Pools[f.Cluster.ConnectionPool] = pool
	}
	if v, ok := lookup(EnvRefetchInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRefetchInterval, err)
		}
		f.Cluster.RefetchInterval = d
	}
	if v, ok := lookup(EnvKeepPropertyLog); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvKeepPropertyLog, err)
		}
		f.Cluster.KeepPropertyLog = b
	}
	if v, ok := lookup(EnvOpsListen); ok {
		f.Ops.Listen = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		f.Log.Level = v
	}
	if v, ok := lookup(EnvOpsSecret); ok {
		f.Ops.AuthSecret = v
	}
	return nil
}

// Validate checks struct tags first, then rules that span sections
func (f *File) Validate() error {
	if err := validation.Struct(f); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cv := validation.NewConfigValidator("config").
		Custom("cluster", f.Cluster.Validate).
		When(f.Cluster.IsCluster && f.Store == StorePostgres, func(cv *validation.ConfigValidator) {
			cv.Custom("cluster.connection_pool", func() error {
				if _, ok := f.Pools[f.Cluster.ConnectionPool]; !ok {
					return fmt.Errorf("%w: %q", ErrUnknownPool, f.Cluster.ConnectionPool)
				}
				return nil
			})
		})
	if err := cv.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Pool returns the pool selected by cluster.connection_pool
func (f *File) Pool() (pgstore.PoolConfig, error) {
	pool, ok := f.Pools[f.Cluster.ConnectionPool]
	if !ok {
		return pgstore.PoolConfig{}, fmt.Errorf("%w: %q", ErrUnknownPool, f.Cluster.ConnectionPool)
	}
	return pool, nil
}

// OpenStore opens the configured store driver
func (f *File) OpenStore(ctx context.Context) (store.Store, error) {
	switch f.Store {
	case StoreMemory:
		return memstore.New(), nil
	case StorePostgres:
		pool, err := f.Pool()
		if err != nil {
			return nil, err
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", f.Store)
	}
}
