package scout

import (
	"context"
	"time"
)

// Backend performs the actual login and page extraction work. Implementations
// may legitimately fail, time out, or return zero offers; callers own retry
// and fallback policy.
type Backend interface {
	Name() string
	Login(ctx context.Context, req LoginRequest) (LoginResult, error)
	Extract(ctx context.Context, req ExtractRequest) ([]Offer, error)
}

// Resolver is an optional Backend extension for engines that operate by
// element resolution rather than whole-page scraping.
type Resolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error)
}

// SessionStore persists session records keyed by owner identity.
type SessionStore interface {
	Get(ctx context.Context, owner string) (SessionRecord, error)
	Put(ctx context.Context, record SessionRecord) error
	Delete(ctx context.Context, owner string) error
}

// ProxyProvider supplies candidate proxies and validates reachability.
type ProxyProvider interface {
	Name() string
	FetchProxies(ctx context.Context) ([]ProxyConfig, error)
	ValidateProxy(ctx context.Context, proxy ProxyConfig) (ValidationResult, error)
}

// ArtifactStore writes raw extraction artifacts and returns a URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record and execution IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
