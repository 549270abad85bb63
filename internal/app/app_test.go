package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/clock/system"
	"github.com/offerscout/offerscout/internal/config"
	"github.com/offerscout/offerscout/internal/id/uuid"
	memorypublisher "github.com/offerscout/offerscout/internal/publisher/memory"
	"github.com/offerscout/offerscout/internal/session"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestApp_NewWithDefaults(t *testing.T) {
	a, err := New(context.Background(), baseConfig(t), system.New(), uuid.New(), prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Sessions)
	require.NotNil(t, a.Blobs)
	require.NotNil(t, a.Hub)
	require.NotNil(t, a.Proxies)
	require.NotNil(t, a.Coordinator)
	require.NotNil(t, a.Engine)
	require.IsType(t, &session.MemoryStore{}, a.Sessions)
	require.IsType(t, &memorypublisher.Publisher{}, a.Publisher)
}

func TestApp_BlobSessionStoreNeedsSecret(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Session.Store = config.SessionStoreBlob
	cfg.Session.Secret = ""

	_, err := New(context.Background(), cfg, system.New(), uuid.New(), prometheus.NewRegistry(), zap.NewNop())
	require.Error(t, err)
}

func TestApp_UnknownBackendFails(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Backends.Primary = "selenium"

	_, err := New(context.Background(), cfg, system.New(), uuid.New(), prometheus.NewRegistry(), zap.NewNop())
	require.Error(t, err)
}
