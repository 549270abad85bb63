// Package noop provides an inert backend for dry runs and wiring tests.
package noop

import (
	"context"
	"fmt"

	"github.com/offerscout/offerscout/internal/scout"
)

// Backend implements scout.Backend but refuses every call, signalling that
// no real extraction engine is configured in the current build.
type Backend struct{}

// New creates a Backend.
func New() *Backend { return &Backend{} }

// Name identifies the backend in logs and events.
func (Backend) Name() string { return "noop" }

// Login always fails.
func (Backend) Login(context.Context, scout.LoginRequest) (scout.LoginResult, error) {
	return scout.LoginResult{}, fmt.Errorf("noop backend cannot authenticate: %w", scout.ErrBackendFailure)
}

// Extract always fails.
func (Backend) Extract(context.Context, scout.ExtractRequest) ([]scout.Offer, error) {
	return nil, fmt.Errorf("noop backend cannot extract: %w", scout.ErrBackendFailure)
}
