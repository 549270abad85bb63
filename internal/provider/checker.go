// Package provider hosts proxy source implementations and the shared
// reachability checker they validate against.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/offerscout/offerscout/internal/scout"
)

// DefaultCheckURL is probed through candidate proxies. It must be a
// lightweight endpoint that tolerates frequent automated requests.
const DefaultCheckURL = "https://www.gstatic.com/generate_204"

// Checker validates a proxy by issuing an HTTP GET through it and timing
// the round trip.
type Checker struct {
	checkURL string
	timeout  time.Duration
	clock    scout.Clock
}

// NewChecker builds a Checker. checkURL defaults to DefaultCheckURL and
// timeout to ten seconds.
func NewChecker(checkURL string, timeout time.Duration, clock scout.Clock) *Checker {
	if checkURL == "" {
		checkURL = DefaultCheckURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{checkURL: checkURL, timeout: timeout, clock: clock}
}

// Check probes the target through proxy. A failed probe is a negative
// ValidationResult, not an error; errors are reserved for malformed proxy
// entries.
func (c *Checker) Check(ctx context.Context, proxy scout.ProxyConfig) (scout.ValidationResult, error) {
	if proxy.Host == "" || proxy.Port <= 0 {
		return scout.ValidationResult{}, fmt.Errorf("malformed proxy entry %q", proxy.Key())
	}

	proxyURL := &url.URL{Scheme: proxy.Protocol, Host: proxy.Address()}
	if proxy.Username != "" {
		proxyURL.User = url.UserPassword(proxy.Username, proxy.Password)
	}
	client := &http.Client{
		Timeout:   c.timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.checkURL, nil)
	if err != nil {
		return scout.ValidationResult{}, fmt.Errorf("build check request: %w", err)
	}

	start := c.clock.Now()
	resp, err := client.Do(req)
	latency := c.clock.Now().Sub(start)
	result := scout.ValidationResult{
		Latency:   latency,
		Timestamp: c.clock.Now(),
	}
	if err != nil {
		result.Err = err.Error()
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		result.Err = fmt.Sprintf("check endpoint returned %d", resp.StatusCode)
		return result, nil
	}
	result.Valid = true
	return result, nil
}
