// Package orchestrator owns session acquisition and drives extraction
// backends under a retry/fallback or aggregation policy.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/dedup"
	"github.com/offerscout/offerscout/internal/events"
	"github.com/offerscout/offerscout/internal/scout"
)

// Policy selects how registered backends are driven for one scrape.
type Policy string

// Supported scrape policies. Which one is the default is deliberately a
// configuration choice, not a constant.
const (
	PolicyWaterfall Policy = "waterfall"
	PolicyAggregate Policy = "aggregate"
)

// ParsePolicy maps a config string onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyWaterfall, PolicyAggregate:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown scrape policy %q", s)
	}
}

// Config controls Orchestrator behavior.
type Config struct {
	BaseDelay      time.Duration
	SessionTTL     time.Duration
	ArtifactPrefix string
	ContentType    string
	Topic          string
}

// ScrapeRequest captures one scrape call.
type ScrapeRequest struct {
	SessionID  string
	URL        string
	MaxRetries int
	Policy     Policy
}

// Orchestrator coordinates the session store, the registered backends, and
// the deduplication engine.
type Orchestrator struct {
	sessions  scout.SessionStore
	primary   scout.Backend
	fallback  scout.Backend
	backends  []scout.Backend
	dedup     *dedup.Engine
	artifacts scout.ArtifactStore
	publisher scout.Publisher
	clock     scout.Clock
	ids       scout.IDGenerator
	emitter   events.Emitter
	logger    *zap.Logger
	cfg       Config
}

// New constructs an Orchestrator. The primary backend handles logins and
// waterfall scrapes; backends is the full registered set used by the
// aggregation policy. fallback, artifacts, and publisher may be nil.
func New(
	sessions scout.SessionStore,
	primary scout.Backend,
	fallback scout.Backend,
	backends []scout.Backend,
	dedupEngine *dedup.Engine,
	artifacts scout.ArtifactStore,
	publisher scout.Publisher,
	clock scout.Clock,
	ids scout.IDGenerator,
	emitter events.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = scout.DefaultSessionTTL
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Orchestrator{
		sessions:  sessions,
		primary:   primary,
		fallback:  fallback,
		backends:  backends,
		dedup:     dedupEngine,
		artifacts: artifacts,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		emitter:   emitter,
		logger:    logger,
		cfg:       cfg,
	}
}

// EnsureSession returns a usable session for the owner, reusing a stored one
// when possible. A stored record that is expired or invalid is treated as
// absent. When allowLogin is set and credentials are supplied, a fresh login
// is attempted; exactly one store write happens on success, zero otherwise.
func (o *Orchestrator) EnsureSession(
	ctx context.Context,
	owner string,
	creds *scout.Credentials,
	allowLogin bool,
) (scout.SessionRecord, error) {
	now := o.clock.Now()
	record, err := o.sessions.Get(ctx, owner)
	if err == nil && record.Usable(now) {
		return record, nil
	}
	if err != nil {
		o.logger.Debug("session lookup missed", zap.String("owner", owner), zap.Error(err))
	}

	if !allowLogin || creds == nil {
		return scout.SessionRecord{}, fmt.Errorf("owner %s: %w", owner, scout.ErrSessionUnavailable)
	}

	result, err := o.primary.Login(ctx, scout.LoginRequest{
		Identity: creds.Identity,
		Secret:   creds.Secret,
	})
	if err != nil {
		o.logger.Warn("login failed",
			zap.String("owner", owner), zap.String("backend", o.primary.Name()), zap.Error(err))
		return scout.SessionRecord{}, fmt.Errorf("owner %s: login: %w", owner, scout.ErrSessionUnavailable)
	}
	if result.RequiresSecondFactor {
		return scout.SessionRecord{}, fmt.Errorf("owner %s: %w", owner, scout.ErrSecondFactorRequired)
	}
	if !result.Success {
		return scout.SessionRecord{}, fmt.Errorf("owner %s: %s: %w", owner, result.ErrorText, scout.ErrSessionUnavailable)
	}

	sessionID := result.SessionID
	if sessionID == "" {
		sessionID, err = o.ids.NewID()
		if err != nil {
			return scout.SessionRecord{}, fmt.Errorf("owner %s: session id: %w", owner, err)
		}
	}
	record = scout.SessionRecord{
		SessionID:   sessionID,
		Owner:       owner,
		Cookies:     result.Cookies,
		Fingerprint: result.Fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(o.cfg.SessionTTL),
		Status:      scout.SessionStatusActive,
	}
	if err := o.sessions.Put(ctx, record); err != nil {
		return scout.SessionRecord{}, fmt.Errorf("owner %s: persist session: %w", owner, err)
	}
	return record, nil
}

// Logout flips the owner's stored session to invalid.
func (o *Orchestrator) Logout(ctx context.Context, owner string) error {
	record, err := o.sessions.Get(ctx, owner)
	if err != nil {
		return fmt.Errorf("owner %s: %w", owner, scout.ErrSessionUnavailable)
	}
	record.Status = scout.SessionStatusInvalid
	if err := o.sessions.Put(ctx, record); err != nil {
		return fmt.Errorf("owner %s: persist logout: %w", owner, err)
	}
	return nil
}

// Scrape extracts offers from the target URL under the requested policy and
// returns them deduplicated. On a non-empty result an artifact is persisted;
// persistence failure is logged but never fails the call.
func (o *Orchestrator) Scrape(ctx context.Context, req ScrapeRequest) ([]scout.Offer, error) {
	if req.MaxRetries < 0 {
		req.MaxRetries = 0
	}
	var (
		offers []scout.Offer
		err    error
	)
	switch req.Policy {
	case PolicyWaterfall:
		offers, err = o.scrapeWaterfall(ctx, req)
	case PolicyAggregate:
		offers, err = o.scrapeAggregate(ctx, req)
	default:
		return nil, fmt.Errorf("unknown scrape policy %q", req.Policy)
	}
	if err != nil {
		return nil, err
	}
	o.persistArtifact(ctx, req, offers)
	return offers, nil
}

// scrapeWaterfall retries the primary backend with a linear inter-attempt
// delay, then falls back exactly once. An attempt that errors or returns an
// empty list counts as a failure.
func (o *Orchestrator) scrapeWaterfall(ctx context.Context, req ScrapeRequest) ([]scout.Offer, error) {
	var lastErr error
	attempts := req.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := o.wait(ctx, o.cfg.BaseDelay*time.Duration(attempt-1)); err != nil {
				return nil, err
			}
		}
		offers, err := o.extract(ctx, o.primary, req)
		if err != nil {
			lastErr = err
			continue
		}
		return o.dedup.Deduplicate(offers), nil
	}

	if o.fallback != nil {
		offers, err := o.extract(ctx, o.fallback, req)
		if err == nil {
			return o.dedup.Deduplicate(offers), nil
		}
		o.logger.Warn("fallback backend failed",
			zap.String("backend", o.fallback.Name()), zap.String("url", req.URL), zap.Error(err))
	}
	return nil, lastErr
}

// scrapeAggregate invokes every registered backend exactly once; individual
// failures contribute zero offers and never abort the others. Offers are
// tagged with backend provenance and deduplicated once at the end.
func (o *Orchestrator) scrapeAggregate(ctx context.Context, req ScrapeRequest) ([]scout.Offer, error) {
	var union []scout.Offer
	for _, backend := range o.backends {
		offers, err := o.extract(ctx, backend, req)
		if err != nil {
			o.logger.Warn("aggregation backend failed",
				zap.String("backend", backend.Name()), zap.String("url", req.URL), zap.Error(err))
			continue
		}
		union = append(union, offers...)
	}
	if len(union) == 0 {
		return nil, fmt.Errorf("url %s: all backends: %w", req.URL, scout.ErrEmptyResult)
	}
	return o.dedup.Deduplicate(union), nil
}

// extract runs one backend attempt, tags provenance, and normalizes empty
// results into ErrEmptyResult.
func (o *Orchestrator) extract(ctx context.Context, backend scout.Backend, req ScrapeRequest) ([]scout.Offer, error) {
	start := o.clock.Now()
	offers, err := backend.Extract(ctx, scout.ExtractRequest{
		URL:       req.URL,
		SessionID: req.SessionID,
	})
	dur := o.clock.Now().Sub(start)

	if err != nil {
		o.emitExtraction(backend.Name(), events.OutcomeError, dur, err.Error())
		return nil, fmt.Errorf("backend %s: %v: %w", backend.Name(), err, scout.ErrBackendFailure)
	}
	if len(offers) == 0 {
		o.emitExtraction(backend.Name(), events.OutcomeError, dur, "empty result")
		return nil, fmt.Errorf("backend %s: %w", backend.Name(), scout.ErrEmptyResult)
	}

	tagged := make([]scout.Offer, len(offers))
	for i, offer := range offers {
		offer.Source = backend.Name()
		if offer.ObservedAt.IsZero() {
			offer.ObservedAt = start
		}
		tagged[i] = offer
	}
	o.emitExtraction(backend.Name(), events.OutcomeOK, dur, "")
	return tagged, nil
}

// persistArtifact writes the scrape result and publishes a completion event.
// Both are best-effort.
func (o *Orchestrator) persistArtifact(ctx context.Context, req ScrapeRequest, offers []scout.Offer) {
	if len(offers) == 0 {
		return
	}
	now := o.clock.Now()
	artifact := scout.Artifact{
		URL:        req.URL,
		Offers:     offers,
		Policy:     string(req.Policy),
		ObservedAt: now,
	}

	uri := ""
	if o.artifacts != nil {
		data, err := json.Marshal(artifact)
		if err != nil {
			o.logger.Error("marshal artifact failed", zap.String("url", req.URL), zap.Error(err))
			return
		}
		id, err := o.ids.NewID()
		if err != nil {
			o.logger.Error("artifact id failed", zap.Error(err))
			return
		}
		path := fmt.Sprintf("%s.json", id)
		if o.cfg.ArtifactPrefix != "" {
			path = fmt.Sprintf("%s/%s", o.cfg.ArtifactPrefix, path)
		}
		uri, err = o.artifacts.PutObject(ctx, path, o.cfg.ContentType, data)
		if err != nil {
			o.logger.Warn("persist artifact failed", zap.String("url", req.URL), zap.Error(err))
			return
		}
	}

	if o.publisher != nil && o.cfg.Topic != "" {
		payload := map[string]any{
			"url":       req.URL,
			"policy":    string(req.Policy),
			"offers":    len(offers),
			"uri":       uri,
			"timestamp": now.Format(time.RFC3339),
		}
		if _, err := o.publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
			o.logger.Warn("publish scrape completion failed", zap.String("url", req.URL), zap.Error(err))
		}
	}
}

func (o *Orchestrator) emitExtraction(backend string, outcome events.Outcome, dur time.Duration, note string) {
	o.emitter.Emit(events.Event{
		TS:       o.clock.Now(),
		Source:   events.SourceExtraction,
		Provider: backend,
		Outcome:  outcome,
		Dur:      dur,
		Note:     note,
	})
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
