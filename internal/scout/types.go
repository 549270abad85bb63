// Package scout defines core types shared across subsystems.
package scout

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of a stored session.
type SessionStatus string

// Session status values persisted in the session store.
const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusExpired SessionStatus = "expired"
	SessionStatusInvalid SessionStatus = "invalid"
)

// DefaultSessionTTL is applied to new sessions created after a login.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Cookie is a single name/value pair captured from a login.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// SessionRecord is the metadata persisted for each authenticated session.
type SessionRecord struct {
	SessionID   string            `json:"session_id"`
	Owner       string            `json:"owner"`
	Cookies     []Cookie          `json:"cookies"`
	Fingerprint map[string]string `json:"fingerprint,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Status      SessionStatus     `json:"status"`
}

// Usable reports whether the record may be handed to a backend.
func (r SessionRecord) Usable(now time.Time) bool {
	return r.Status == SessionStatusActive && now.Before(r.ExpiresAt)
}

// Availability classifies offer stock state.
type Availability string

// Supported availability values.
const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
	AvailabilityLimited    Availability = "limited"
)

// Offer is a single extracted listing. Offers are immutable once built;
// duplicate detection derives its own identity and never uses ID.
type Offer struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Price         float64      `json:"price"`
	OriginalPrice float64      `json:"original_price,omitempty"`
	DiscountPct   float64      `json:"discount_pct,omitempty"`
	Brand         string       `json:"brand"`
	Category      string       `json:"category,omitempty"`
	URL           string       `json:"url"`
	ImageURL      string       `json:"image_url,omitempty"`
	Availability  Availability `json:"availability"`
	Source        string       `json:"source,omitempty"`
	ObservedAt    time.Time    `json:"observed_at"`
}

// ProxyConfig describes one egress proxy in the pool.
type ProxyConfig struct {
	Host           string    `json:"host"`
	Port           int       `json:"port"`
	Protocol       string    `json:"protocol"`
	Username       string    `json:"username,omitempty"`
	Password       string    `json:"password,omitempty"`
	Country        string    `json:"country,omitempty"`
	AnonymityLevel string    `json:"anonymity_level,omitempty"`
	LastChecked    time.Time `json:"last_checked"`
	HealthScore    float64   `json:"health_score"`
	Active         bool      `json:"active"`
	Provider       string    `json:"provider"`
}

// Key returns the pool identity for the proxy.
func (p ProxyConfig) Key() string {
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

// Address returns host:port without the protocol scheme.
func (p ProxyConfig) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// ProxyStats tracks running usage counters for one pool proxy.
// SuccessRate is always recomputed from the counters.
type ProxyStats struct {
	TotalRequests  int64     `json:"total_requests"`
	FailedRequests int64     `json:"failed_requests"`
	SuccessRate    float64   `json:"success_rate"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	LastUsedAt     time.Time `json:"last_used_at"`
}

// ValidationResult is returned by a provider's liveness check.
type ValidationResult struct {
	Valid     bool          `json:"valid"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
	Err       string        `json:"error,omitempty"`
}

// Credentials carries login secrets for a backend.
type Credentials struct {
	Identity string
	Secret   string
}

// LoginRequest captures everything a backend needs to authenticate.
type LoginRequest struct {
	Identity string
	Secret   string
	Proxy    *ProxyConfig
	Headers  map[string]string
}

// LoginResult is the outcome of a backend login attempt.
type LoginResult struct {
	Success              bool
	SessionID            string
	Cookies              []Cookie
	Fingerprint          map[string]string
	RequiresSecondFactor bool
	ErrorText            string
}

// ExtractRequest captures everything a backend needs to extract offers.
type ExtractRequest struct {
	URL       string
	SessionID string
	Proxy     *ProxyConfig
	Headers   map[string]string
}

// ResolveRequest asks a backend to resolve a single page element.
type ResolveRequest struct {
	URL       string
	Selector  string
	SessionID string
}

// ResolveResult is the outcome of an element resolution.
type ResolveResult struct {
	Success   bool
	Data      string
	ErrorText string
}

// Artifact is the persisted record of one non-empty scrape.
type Artifact struct {
	URL        string    `json:"url"`
	Offers     []Offer   `json:"offers"`
	Policy     string    `json:"policy"`
	ObservedAt time.Time `json:"observed_at"`
}
