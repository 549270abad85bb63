package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, SessionStoreMemory, cfg.Session.Store)
	require.Equal(t, StorageMemory, cfg.Storage.Kind)
	require.Equal(t, BackendColly, cfg.Backends.Primary)
	require.Equal(t, BackendNoop, cfg.Backends.Fallback)
	require.Equal(t, "waterfall", cfg.Orchestrator.DefaultPolicy)
	require.Equal(t, 500*time.Millisecond, cfg.Orchestrator.BaseDelay)
	require.Equal(t, 2, cfg.Orchestrator.DefaultMaxRetries)
	require.Equal(t, "round_robin", cfg.ProxyPool.Strategy)
	require.Equal(t, 5*time.Minute, cfg.ProxyPool.ValidationInterval)
	require.Equal(t, "workflows", cfg.Workflows.Dir)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offerscout.yaml")
	body := `
server:
  port: 9090
session:
  store: redis
  redis_addr: localhost:6379
storage:
  kind: local
  local:
    base_dir: /tmp/artifacts
backends:
  primary: headless
  fallback: colly
orchestrator:
  default_policy: aggregate
  base_delay: 250ms
proxypool:
  strategy: weighted
  validation_interval: 1m
  static:
    - protocol: http
      host: 10.0.0.1
      port: 8080
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, SessionStoreRedis, cfg.Session.Store)
	require.Equal(t, "localhost:6379", cfg.Session.RedisAddr)
	require.Equal(t, StorageLocal, cfg.Storage.Kind)
	require.Equal(t, "/tmp/artifacts", cfg.Storage.Local.BaseDir)
	require.Equal(t, BackendHeadless, cfg.Backends.Primary)
	require.Equal(t, "aggregate", cfg.Orchestrator.DefaultPolicy)
	require.Equal(t, 250*time.Millisecond, cfg.Orchestrator.BaseDelay)
	require.Equal(t, "weighted", cfg.ProxyPool.Strategy)
	require.Len(t, cfg.ProxyPool.Static, 1)
	require.Equal(t, "10.0.0.1", cfg.ProxyPool.Static[0].Host)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("OFFERSCOUT_SERVER_PORT", "7001")
	t.Setenv("OFFERSCOUT_SESSION_STORE", "blob")
	t.Setenv("OFFERSCOUT_SESSION_SECRET", "hunter2")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7001, cfg.Server.Port)
	require.Equal(t, SessionStoreBlob, cfg.Session.Store)
	require.Equal(t, "hunter2", cfg.Session.Secret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name: "auth enabled without key",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
			},
			wantErr: "auth.api_key",
		},
		{
			name:    "unknown session store",
			mutate:  func(c *Config) { c.Session.Store = "etcd" },
			wantErr: "unknown session store",
		},
		{
			name:    "redis store without addr",
			mutate:  func(c *Config) { c.Session.Store = SessionStoreRedis },
			wantErr: "session.redis_addr",
		},
		{
			name:    "blob store without secret",
			mutate:  func(c *Config) { c.Session.Store = SessionStoreBlob },
			wantErr: "session.secret",
		},
		{
			name:    "postgres store without dsn",
			mutate:  func(c *Config) { c.Session.Store = SessionStorePostgres },
			wantErr: "db.postgres.dsn",
		},
		{
			name:    "local storage without base dir",
			mutate:  func(c *Config) { c.Storage.Kind = StorageLocal },
			wantErr: "storage.local.base_dir",
		},
		{
			name:    "gcs storage without bucket",
			mutate:  func(c *Config) { c.Storage.Kind = StorageGCS },
			wantErr: "storage.bucket",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backends.Primary = "selenium" },
			wantErr: "unknown backend",
		},
		{
			name: "identical primary and fallback",
			mutate: func(c *Config) {
				c.Backends.Primary = BackendColly
				c.Backends.Fallback = BackendColly
			},
			wantErr: "must differ",
		},
		{
			name:    "unknown policy",
			mutate:  func(c *Config) { c.Orchestrator.DefaultPolicy = "exponential" },
			wantErr: "orchestrator.default_policy",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.ProxyPool.Strategy = "sticky" },
			wantErr: "proxypool.strategy",
		},
		{
			name:    "non-positive validation interval",
			mutate:  func(c *Config) { c.ProxyPool.ValidationInterval = 0 },
			wantErr: "proxypool.validation_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
