package main

import (
	"context"
	"crypto/tls"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-coord/pkg/auth"
	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/opsapi"
	"github.com/dd0wney/cluso-coord/pkg/store/memstore"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func authNode(t *testing.T) *httptest.Server {
	t.Helper()
	st := memstore.New()
	cfg := cluster.DefaultConfig()
	cfg.IsCluster = true
	m, err := cluster.New(st, cfg, cluster.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	require.NoError(t, m.InitNode(context.Background()))

	jwtManager, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)
	api := opsapi.New(m, opsapi.NewHealthChecker(m, st.Ping), nil, logging.NewNopLogger(),
		opsapi.WithAuth(jwtManager))
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenCmd(t *testing.T) {
	srv := authNode(t)
	path := filepath.Join(t.TempDir(), "coordd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ops:\n  auth_secret: "+testSecret+"\n"), 0o600))

	_, err := execute(t, "node", "--addr", srv.URL, "--token", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	out, err := execute(t, "token", "-c", path, "--role", auth.RoleViewer, "--ttl", "5m")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	out, err = execute(t, "node", "--addr", srv.URL, "--token", token)
	require.NoError(t, err)
	assert.Contains(t, out, "WAIT_FOR_STARTUP")

	_, err = execute(t, "state", "running", "--addr", srv.URL, "--token", token)
	require.Error(t, err, "viewer may not change the node state")

	t.Setenv(envOpsToken, token)
	_, err = execute(t, "nodes", "--addr", srv.URL)
	require.NoError(t, err, "token is read from the environment")
}

func TestTokenCmd_NoSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))

	_, err := execute(t, "token", "-c", path)
	assert.ErrorIs(t, err, errNoAuthSecret)
}

func TestCertCmd_CAFile(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ops.crt")
	keyFile := filepath.Join(dir, "ops.key")

	out, err := execute(t, "cert", "--cert-file", certFile, "--key-file", keyFile, "--host", "127.0.0.1", "--valid-for", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "127.0.0.1")

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	_, plain := runningNode(t, memstore.New())
	srv := httptest.NewUnstartedServer(plain.Config.Handler)
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	addr := strings.TrimPrefix(srv.URL, "https://")
	out, err = execute(t, "node", "--addr", addr, "--ca-file", certFile)
	require.NoError(t, err)
	assert.Contains(t, out, "RUNNING")

	_, err = execute(t, "node", "--addr", srv.URL)
	require.Error(t, err, "server certificate is not trusted without the CA file")

	_, err = execute(t, "node", "--addr", addr, "--ca-file", filepath.Join(dir, "missing.crt"))
	require.Error(t, err)
}
