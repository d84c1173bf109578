package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
)

const sampleConfig = `
store: postgres
cluster:
  is_cluster: true
  timeout_running_node: 30s
  timeout_other_node: 10m
  refetch_interval: 5s
  connection_pool: primary
pools:
  primary:
    dsn: postgres://coord@db1/coord
    max_conns: 4
    table_prefix: staging
ops:
  listen: 0.0.0.0:9470
  tls:
    enabled: true
    hosts: [coord1.internal]
log:
  level: debug
`

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestParse_Sample(t *testing.T) {
	f, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.True(t, f.Cluster.IsCluster)
	assert.Equal(t, 30*time.Second, f.Cluster.TimeoutRunningNode)
	assert.Equal(t, 10*time.Minute, f.Cluster.TimeoutOtherNode)
	assert.Equal(t, 5*time.Second, f.Cluster.RefetchInterval)
	// Keys left out keep their defaults
	assert.Equal(t, 3*time.Second, f.Cluster.ConfirmationPollInterval)
	assert.Equal(t, 15*time.Second, f.Ops.ShutdownTimeout)
	assert.Equal(t, "debug", f.Log.Level)
	assert.True(t, f.Ops.TLS.Enabled)
	assert.True(t, f.Ops.TLS.AutoGenerate)
	assert.Equal(t, []string{"coord1.internal"}, f.Ops.TLS.Hosts)

	pool, err := f.Pool()
	require.NoError(t, err)
	assert.Equal(t, "postgres://coord@db1/coord", pool.DSN)
	assert.Equal(t, int32(4), pool.MaxConns)
	assert.Equal(t, "staging", pool.TablePrefix)
}

func TestParse_EmptyIsDefault(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), f)
	require.NoError(t, f.Validate())
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("cluster:\n  refetch: 5s\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*File)
		want   error
	}{
		{"unknown store", func(f *File) { f.Store = "mysql" }, nil},
		{"bad listen address", func(f *File) { f.Ops.Listen = "nowhere" }, nil},
		{"bad log level", func(f *File) { f.Log.Level = "trace" }, nil},
		{"short auth secret", func(f *File) { f.Ops.AuthSecret = "hunter2" }, nil},
		{"tls key without cert", func(f *File) { f.Ops.TLS.KeyFile = "/etc/coordd/ops.key" }, nil},
		{"cluster rule", func(f *File) { f.Cluster.RefetchInterval = time.Hour }, cluster.ErrRefetchTooSlow},
		{"missing pool", func(f *File) { f.Cluster.IsCluster = true }, ErrUnknownPool},
		{"pool without dsn", func(f *File) {
			f.Pools["default"] = f.Pools["default"]
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Default()
			tt.modify(&f)
			err := f.Validate()
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestValidate_MemoryStoreNeedsNoPool(t *testing.T) {
	f := Default()
	f.Store = StoreMemory
	f.Cluster.IsCluster = true
	assert.NoError(t, f.Validate())
}

func TestApplyEnv(t *testing.T) {
	f := Default()
	err := f.ApplyEnv(envMap(map[string]string{
		EnvIsCluster:       "true",
		EnvDatabaseURL:     "postgres://localhost/coord",
		EnvRefetchInterval: "2s",
		EnvKeepPropertyLog: "1",
		EnvOpsListen:       ":9999",
		EnvLogLevel:        "warn",
		EnvOpsSecret:       "0123456789abcdef0123456789abcdef",
	}))
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.True(t, f.Cluster.IsCluster)
	assert.True(t, f.Cluster.KeepPropertyLog)
	assert.Equal(t, 2*time.Second, f.Cluster.RefetchInterval)
	assert.Equal(t, ":9999", f.Ops.Listen)
	assert.Equal(t, "warn", f.Log.Level)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", f.Ops.AuthSecret)

	pool, err := f.Pool()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/coord", pool.DSN)
	assert.Equal(t, int32(10), pool.MaxConns, "a pool created from the environment gets the default tuning")
}

func TestApplyEnv_Invalid(t *testing.T) {
	for _, key := range []string{EnvIsCluster, EnvRefetchInterval, EnvKeepPropertyLog} {
		t.Run(key, func(t *testing.T) {
			f := Default()
			err := f.ApplyEnv(envMap(map[string]string{key: "not-a-value"}))
			assert.ErrorContains(t, err, key)
		})
	}

	f := Default()
	require.NoError(t, f.ApplyEnv(noEnv))
	assert.Equal(t, Default(), f)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	t.Setenv(EnvOpsListen, "127.0.0.1:7000")
	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", f.Ops.Listen)
	assert.Equal(t, "primary", f.Cluster.ConnectionPool)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	f := Default()
	f.Store = StoreMemory

	st, err := f.OpenStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Ping(context.Background()))
	require.NoError(t, st.Close())

	f.Store = StorePostgres
	f.Cluster.ConnectionPool = "missing"
	_, err = f.OpenStore(context.Background())
	assert.ErrorIs(t, err, ErrUnknownPool)

	f.Store = "sqlite"
	_, err = f.OpenStore(context.Background())
	assert.Error(t, err)
}
