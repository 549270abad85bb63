// Package httplist fetches proxies from a plain-text list endpoint, one
// host:port entry per line. Many free and commercial pool vendors publish
// this format.
package httplist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/provider"
	"github.com/offerscout/offerscout/internal/scout"
)

// maxListBytes caps how much of a list response is read. Vendor endpoints
// occasionally misbehave and stream unbounded data.
const maxListBytes = 4 << 20

// Config controls the list fetch.
type Config struct {
	Name     string        `mapstructure:"name"`
	ListURL  string        `mapstructure:"list_url"`
	Protocol string        `mapstructure:"protocol"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Provider downloads and parses the proxy list.
type Provider struct {
	cfg     Config
	client  *http.Client
	checker *provider.Checker
	logger  *zap.Logger
}

// New builds a Provider.
func New(cfg Config, checker *provider.Checker, logger *zap.Logger) (*Provider, error) {
	if cfg.ListURL == "" {
		return nil, fmt.Errorf("list url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "httplist"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "http"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		checker: checker,
		logger:  logger,
	}, nil
}

// Name identifies this provider in pool events.
func (p *Provider) Name() string { return p.cfg.Name }

// FetchProxies downloads the list and parses each line. Unparsable lines
// are skipped with a debug log; an unreachable endpoint is an error.
func (p *Provider) FetchProxies(ctx context.Context) ([]scout.ProxyConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ListURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch proxy list: %v: %w", err, scout.ErrProxyProviderFailure)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy list returned %d: %w", resp.StatusCode, scout.ErrProxyProviderFailure)
	}

	var proxies []scout.ProxyConfig
	scanner := bufio.NewScanner(io.LimitReader(resp.Body, maxListBytes))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxy, ok := p.parseLine(line)
		if !ok {
			p.logger.Debug("skipping unparsable proxy line", zap.String("line", line))
			continue
		}
		proxies = append(proxies, proxy)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}

	p.logger.Info("fetched proxy list",
		zap.String("provider", p.cfg.Name), zap.Int("proxies", len(proxies)))
	return proxies, nil
}

// parseLine accepts "host:port" and "protocol://host:port" entries.
func (p *Provider) parseLine(line string) (scout.ProxyConfig, bool) {
	protocol := p.cfg.Protocol
	if idx := strings.Index(line, "://"); idx > 0 {
		protocol = line[:idx]
		line = line[idx+3:]
	}

	host, portStr, err := net.SplitHostPort(line)
	if err != nil {
		return scout.ProxyConfig{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return scout.ProxyConfig{}, false
	}
	return scout.ProxyConfig{
		Host:     host,
		Port:     port,
		Protocol: protocol,
		Provider: p.cfg.Name,
	}, true
}

// ValidateProxy checks reachability through the shared checker.
func (p *Provider) ValidateProxy(ctx context.Context, proxy scout.ProxyConfig) (scout.ValidationResult, error) {
	return p.checker.Check(ctx, proxy)
}
