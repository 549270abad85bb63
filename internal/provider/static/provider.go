// Package static serves a fixed proxy list from configuration.
package static

import (
	"context"

	"github.com/offerscout/offerscout/internal/provider"
	"github.com/offerscout/offerscout/internal/scout"
)

// Provider returns a configured list of proxies. Validation reuses the
// shared HTTP reachability check.
type Provider struct {
	name    string
	proxies []scout.ProxyConfig
	checker *provider.Checker
}

// New builds a Provider. name defaults to "static".
func New(name string, proxies []scout.ProxyConfig, checker *provider.Checker) *Provider {
	if name == "" {
		name = "static"
	}
	return &Provider{name: name, proxies: proxies, checker: checker}
}

// Name identifies this provider in pool events.
func (p *Provider) Name() string { return p.name }

// FetchProxies returns a copy of the configured list stamped with this
// provider's name.
func (p *Provider) FetchProxies(_ context.Context) ([]scout.ProxyConfig, error) {
	out := make([]scout.ProxyConfig, len(p.proxies))
	for i, proxy := range p.proxies {
		proxy.Provider = p.name
		out[i] = proxy
	}
	return out, nil
}

// ValidateProxy checks reachability through the shared checker.
func (p *Provider) ValidateProxy(ctx context.Context, proxy scout.ProxyConfig) (scout.ValidationResult, error) {
	return p.checker.Check(ctx, proxy)
}
