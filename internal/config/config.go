// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/offerscout/offerscout/internal/backend/collyscraper"
	"github.com/offerscout/offerscout/internal/backend/headless"
	"github.com/offerscout/offerscout/internal/orchestrator"
	"github.com/offerscout/offerscout/internal/provider/httplist"
	"github.com/offerscout/offerscout/internal/proxypool"
	"github.com/offerscout/offerscout/internal/scout"
	"github.com/offerscout/offerscout/internal/session"
	"github.com/offerscout/offerscout/internal/storage/local"
)

// Store and backend kind names accepted by the config surface.
const (
	SessionStoreMemory   = "memory"
	SessionStoreRedis    = "redis"
	SessionStoreBlob     = "blob"
	SessionStorePostgres = "postgres"

	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageNoop   = "noop"

	BackendColly    = "colly"
	BackendHeadless = "headless"
	BackendNoop     = "noop"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Session      SessionConfig      `mapstructure:"session"`
	DB           DBConfig           `mapstructure:"db"`
	Storage      StorageConfig      `mapstructure:"storage"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Backends     BackendsConfig     `mapstructure:"backends"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	ProxyPool    ProxyPoolConfig    `mapstructure:"proxypool"`
	Workflows    WorkflowsConfig    `mapstructure:"workflows"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines admin API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SessionConfig selects and parameterizes the session store.
type SessionConfig struct {
	Store     string        `mapstructure:"store"`
	Secret    string        `mapstructure:"secret"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// DBConfig controls the Postgres connection behind the session store.
type DBConfig struct {
	Postgres session.PostgresConfig `mapstructure:"postgres"`
}

// StorageConfig selects and parameterizes the artifact blob store.
type StorageConfig struct {
	Kind        string       `mapstructure:"kind"`
	Bucket      string       `mapstructure:"bucket"`
	Local       local.Config `mapstructure:"local"`
	Prefix      string       `mapstructure:"prefix"`
	ContentType string       `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BackendsConfig selects primary/fallback extraction backends.
type BackendsConfig struct {
	Primary  string              `mapstructure:"primary"`
	Fallback string              `mapstructure:"fallback"`
	Colly    collyscraper.Config `mapstructure:"colly"`
	Headless headless.Config     `mapstructure:"headless"`
}

// OrchestratorConfig governs retry policy defaults.
type OrchestratorConfig struct {
	DefaultPolicy     string        `mapstructure:"default_policy"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
}

// ProxyPoolConfig governs rotation and validation behavior.
type ProxyPoolConfig struct {
	Strategy           string              `mapstructure:"strategy"`
	ValidationInterval time.Duration       `mapstructure:"validation_interval"`
	WeightInitial      float64             `mapstructure:"weight_initial"`
	WeightMin          float64             `mapstructure:"weight_min"`
	WeightMax          float64             `mapstructure:"weight_max"`
	WeightStep         float64             `mapstructure:"weight_step"`
	CheckURL           string              `mapstructure:"check_url"`
	CheckTimeout       time.Duration       `mapstructure:"check_timeout"`
	Static             []scout.ProxyConfig `mapstructure:"static"`
	HTTPLists          []httplist.Config   `mapstructure:"http_lists"`
}

// WorkflowsConfig locates workflow documents on disk.
type WorkflowsConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load builds a Config from disk and the OFFERSCOUT_* environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OFFERSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("session.store", SessionStoreMemory)
	v.SetDefault("session.key_prefix", "session")
	v.SetDefault("session.ttl", "168h")
	v.SetDefault("storage.kind", StorageMemory)
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("backends.primary", BackendColly)
	v.SetDefault("backends.fallback", BackendNoop)
	v.SetDefault("orchestrator.default_policy", "waterfall")
	v.SetDefault("orchestrator.base_delay", "500ms")
	v.SetDefault("orchestrator.default_max_retries", 2)
	v.SetDefault("proxypool.strategy", "round_robin")
	v.SetDefault("proxypool.validation_interval", "5m")
	v.SetDefault("proxypool.check_timeout", "10s")
	v.SetDefault("workflows.dir", "workflows")
}

// Validate enforces required values and cross-field rules.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be > 0")
	}
	switch c.Session.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr must be set for the redis session store")
		}
	case SessionStoreBlob:
		if c.Session.Secret == "" {
			return fmt.Errorf("session.secret must be set for the blob session store")
		}
	case SessionStorePostgres:
		if c.DB.Postgres.DSN == "" {
			return fmt.Errorf("db.postgres.dsn must be set for the postgres session store")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}

	switch c.Storage.Kind {
	case StorageMemory, StorageNoop:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for local storage")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for gcs storage")
		}
	default:
		return fmt.Errorf("unknown storage kind %q", c.Storage.Kind)
	}

	for _, kind := range []string{c.Backends.Primary, c.Backends.Fallback} {
		switch kind {
		case BackendColly, BackendHeadless, BackendNoop:
		default:
			return fmt.Errorf("unknown backend kind %q", kind)
		}
	}
	if c.Backends.Primary == c.Backends.Fallback {
		return fmt.Errorf("backends.primary and backends.fallback must differ")
	}

	if _, err := orchestrator.ParsePolicy(c.Orchestrator.DefaultPolicy); err != nil {
		return fmt.Errorf("orchestrator.default_policy: %w", err)
	}
	if c.Orchestrator.BaseDelay < 0 {
		return fmt.Errorf("orchestrator.base_delay must be >= 0")
	}
	if c.Orchestrator.DefaultMaxRetries < 0 {
		return fmt.Errorf("orchestrator.default_max_retries must be >= 0")
	}

	if _, err := proxypool.NewStrategy(c.ProxyPool.Strategy); err != nil {
		return fmt.Errorf("proxypool.strategy: %w", err)
	}
	if c.ProxyPool.ValidationInterval <= 0 {
		return fmt.Errorf("proxypool.validation_interval must be > 0")
	}
	return nil
}
