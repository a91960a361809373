package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":50052", cfg.Server.HTTPAddr)
	require.Equal(t, "/ws", cfg.Server.Path)
	require.Equal(t, 10*time.Second, cfg.Server.UnaryTimeout)
	require.Equal(t, 30*time.Second, cfg.Server.StreamTimeout)
	require.Equal(t, "ws://localhost:50052/ws", cfg.Client.URL)
	require.Equal(t, "json", cfg.Client.Codec)
	require.Equal(t, "info", cfg.Log.Level)
	require.Empty(t, cfg.Etcd.Endpoints)
}

func TestFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_addr: ":9000"
  stream_timeout: 1m
client:
  codec: binary
etcd:
  endpoints: ["127.0.0.1:2379"]
  name: edge
`), 0o644))
	t.Setenv("RPCBRIDGE_SERVER_UNARY_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.HTTPAddr)
	require.Equal(t, time.Minute, cfg.Server.StreamTimeout)
	require.Equal(t, 3*time.Second, cfg.Server.UnaryTimeout)
	require.Equal(t, "binary", cfg.Client.Codec)
	require.Equal(t, []string{"127.0.0.1:2379"}, cfg.Etcd.Endpoints)
	require.Equal(t, "edge", cfg.Etcd.Name)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	bad := []func(*Config){
		func(c *Config) { c.Server.HTTPAddr, c.Server.TCPAddr = "", "" },
		func(c *Config) { c.Server.Path = "ws" },
		func(c *Config) { c.Server.UnaryTimeout = -time.Second },
		func(c *Config) { c.Server.RateLimit = 10; c.Server.RateBurst = 0 },
		func(c *Config) { c.Client.Codec = "xml" },
		func(c *Config) { c.Etcd.Endpoints = []string{"x"}; c.Etcd.TTL = 0 },
	}
	for i, mutate := range bad {
		cfg := base
		mutate(&cfg)
		require.Error(t, cfg.Validate(), "case %d", i)
	}
}
