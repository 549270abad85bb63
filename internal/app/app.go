// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/backend/collyscraper"
	"github.com/offerscout/offerscout/internal/backend/headless"
	"github.com/offerscout/offerscout/internal/backend/noop"
	"github.com/offerscout/offerscout/internal/config"
	"github.com/offerscout/offerscout/internal/dedup"
	"github.com/offerscout/offerscout/internal/events"
	"github.com/offerscout/offerscout/internal/events/sinks"
	"github.com/offerscout/offerscout/internal/orchestrator"
	"github.com/offerscout/offerscout/internal/provider"
	"github.com/offerscout/offerscout/internal/provider/httplist"
	"github.com/offerscout/offerscout/internal/provider/static"
	"github.com/offerscout/offerscout/internal/proxypool"
	memorypublisher "github.com/offerscout/offerscout/internal/publisher/memory"
	pubsubpublisher "github.com/offerscout/offerscout/internal/publisher/pubsub"
	"github.com/offerscout/offerscout/internal/scout"
	"github.com/offerscout/offerscout/internal/securebox"
	"github.com/offerscout/offerscout/internal/session"
	"github.com/offerscout/offerscout/internal/storage"
	gcsstorage "github.com/offerscout/offerscout/internal/storage/gcs"
	localstorage "github.com/offerscout/offerscout/internal/storage/local"
	memorystorage "github.com/offerscout/offerscout/internal/storage/memory"
	"github.com/offerscout/offerscout/internal/workflow"
)

type closer func()

// App holds the shared, long-lived services of the coordination service.
// It is initialized once at startup and passed to the components that need
// it; it fails fast if any critical service cannot be built.
type App struct {
	Sessions    scout.SessionStore
	Blobs       storage.BlobStore
	Publisher   scout.Publisher
	Hub         *events.Hub
	Proxies     *proxypool.Manager
	Coordinator *orchestrator.Orchestrator
	Engine      *workflow.Engine

	logger  *zap.Logger
	reg     prometheus.Registerer
	closers []closer
}

// New builds every service from the configuration. clock, ids, and reg are
// injected so tests can drive deterministic time and IDs through the whole
// container and register collectors in isolation; a nil reg falls back to
// the default Prometheus registry.
func New(ctx context.Context, cfg config.Config, clock scout.Clock, ids scout.IDGenerator, reg prometheus.Registerer, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger, reg: reg}

	if err := a.initBlobs(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initSessions(ctx, cfg, clock); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initHub(cfg); err != nil {
		return nil, err
	}
	if err := a.initProxies(cfg, clock); err != nil {
		return nil, err
	}
	if err := a.initEngine(cfg, clock, ids); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) initBlobs(ctx context.Context, cfg config.Config) error {
	switch cfg.Storage.Kind {
	case config.StorageMemory:
		a.logger.Info("using in-memory blob storage")
		a.Blobs = memorystorage.NewBlobStore()
	case config.StorageNoop:
		a.logger.Info("using no-op blob storage, artifacts will be discarded")
		a.Blobs = storage.NoOpStore{}
	case config.StorageLocal:
		a.logger.Info("using local blob storage", zap.String("dir", cfg.Storage.Local.BaseDir))
		store, err := localstorage.New(cfg.Storage.Local)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Blobs = store
	case config.StorageGCS:
		a.logger.Info("using GCS blob storage", zap.String("bucket", cfg.Storage.Bucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.Blobs = store
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("closing gcs client", zap.Error(err))
			}
		})
	default:
		return fmt.Errorf("unknown storage kind %q", cfg.Storage.Kind)
	}
	return nil
}

func (a *App) initSessions(ctx context.Context, cfg config.Config, clock scout.Clock) error {
	switch cfg.Session.Store {
	case config.SessionStoreMemory:
		a.logger.Info("using in-memory session store")
		a.Sessions = session.NewMemoryStore(clock)
	case config.SessionStoreRedis:
		a.logger.Info("using redis session store", zap.String("addr", cfg.Session.RedisAddr))
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Session.RedisAddr,
			DB:   cfg.Session.RedisDB,
		})
		a.Sessions = session.NewRedisStore(client, clock, cfg.Session.KeyPrefix)
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("closing redis client", zap.Error(err))
			}
		})
	case config.SessionStoreBlob:
		a.logger.Info("using encrypted blob session store")
		box, err := securebox.New(cfg.Session.Secret)
		if err != nil {
			return fmt.Errorf("init session cipher: %w", err)
		}
		a.Sessions = session.NewBlobStore(a.Blobs, box, clock, "")
	case config.SessionStorePostgres:
		a.logger.Info("using postgres session store")
		store, err := session.NewPostgresStore(ctx, cfg.DB.Postgres, clock)
		if err != nil {
			return fmt.Errorf("init postgres session store: %w", err)
		}
		a.Sessions = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config) error {
	if cfg.PubSub.ProjectID == "" {
		a.logger.Info("pubsub project not configured, completion events stay in memory")
		a.Publisher = memorypublisher.New()
		return nil
	}
	a.logger.Info("connecting to pubsub",
		zap.String("project", cfg.PubSub.ProjectID), zap.String("topic", cfg.PubSub.TopicName))
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.Publisher = pub
	a.closers = append(a.closers, func() {
		if err := pub.Close(); err != nil {
			a.logger.Warn("closing pubsub publisher", zap.Error(err))
		}
	})
	return nil
}

func (a *App) initHub(cfg config.Config) error {
	hubSinks := []events.Sink{sinks.NewLogSink(a.logger.Named("events"))}
	promSink, err := sinks.NewPrometheusSink(a.reg)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks = append(hubSinks, promSink)
	a.Hub = events.NewHub(events.Config{Logger: a.logger.Named("hub")}, hubSinks...)
	return nil
}

func (a *App) initProxies(cfg config.Config, clock scout.Clock) error {
	checker := provider.NewChecker(cfg.ProxyPool.CheckURL, cfg.ProxyPool.CheckTimeout, clock)

	var providers []scout.ProxyProvider
	if len(cfg.ProxyPool.Static) > 0 {
		providers = append(providers, static.New("static", cfg.ProxyPool.Static, checker))
	}
	for _, listCfg := range cfg.ProxyPool.HTTPLists {
		p, err := httplist.New(listCfg, checker, a.logger.Named("httplist"))
		if err != nil {
			return fmt.Errorf("init http list provider: %w", err)
		}
		providers = append(providers, p)
	}

	var strategy proxypool.Strategy
	if cfg.ProxyPool.Strategy == proxypool.StrategyWeighted {
		strategy = proxypool.NewWeighted(proxypool.WeightedConfig{
			Initial: cfg.ProxyPool.WeightInitial,
			Min:     cfg.ProxyPool.WeightMin,
			Max:     cfg.ProxyPool.WeightMax,
			Step:    cfg.ProxyPool.WeightStep,
		})
	} else {
		s, err := proxypool.NewStrategy(cfg.ProxyPool.Strategy)
		if err != nil {
			return fmt.Errorf("init rotation strategy: %w", err)
		}
		strategy = s
	}
	a.Proxies = proxypool.New(providers, strategy, clock, a.Hub, proxypool.Config{
		ValidationInterval: cfg.ProxyPool.ValidationInterval,
		ValidationTimeout:  cfg.ProxyPool.CheckTimeout,
	}, a.logger.Named("proxypool"))
	a.closers = append(a.closers, a.Proxies.Stop)
	return nil
}

func (a *App) initEngine(cfg config.Config, clock scout.Clock, ids scout.IDGenerator) error {
	primary, err := a.buildBackend(cfg.Backends.Primary, cfg)
	if err != nil {
		return fmt.Errorf("init primary backend: %w", err)
	}
	fallback, err := a.buildBackend(cfg.Backends.Fallback, cfg)
	if err != nil {
		return fmt.Errorf("init fallback backend: %w", err)
	}

	policy, err := orchestrator.ParsePolicy(cfg.Orchestrator.DefaultPolicy)
	if err != nil {
		return err
	}
	a.Coordinator = orchestrator.New(
		a.Sessions,
		primary,
		fallback,
		[]scout.Backend{primary, fallback},
		dedup.New(0),
		a.Blobs,
		a.Publisher,
		clock,
		ids,
		a.Hub,
		orchestrator.Config{
			BaseDelay:      cfg.Orchestrator.BaseDelay,
			SessionTTL:     cfg.Session.TTL,
			ArtifactPrefix: cfg.Storage.Prefix,
			ContentType:    cfg.Storage.ContentType,
			Topic:          cfg.PubSub.TopicName,
		},
		a.logger.Named("orchestrator"),
	)

	a.Engine = workflow.New(
		workflow.NewLoader(cfg.Workflows.Dir),
		a.Coordinator,
		a.Proxies,
		a.Blobs,
		clock,
		ids,
		a.Hub,
		workflow.Config{
			DefaultPolicy:     policy,
			DefaultMaxRetries: cfg.Orchestrator.DefaultMaxRetries,
			ArtifactPrefix:    cfg.Storage.Prefix,
		},
		a.logger.Named("workflow"),
	)
	return nil
}

func (a *App) buildBackend(kind string, cfg config.Config) (scout.Backend, error) {
	switch kind {
	case config.BackendColly:
		return collyscraper.New(cfg.Backends.Colly, a.logger.Named("colly")), nil
	case config.BackendHeadless:
		return headless.New(cfg.Backends.Headless, a.logger.Named("headless"))
	case config.BackendNoop:
		return noop.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}

// Close gracefully shuts down all services in reverse construction order.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.Hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Hub.Close(ctx); err != nil {
			a.logger.Warn("closing event hub", zap.Error(err))
		}
	}
}
