package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/offerscout/offerscout/internal/orchestrator"
	"github.com/offerscout/offerscout/internal/scout"
)

// runAction dispatches one attempt of the closed action set and returns the
// context updates the attempt produced. The match is exhaustive; documents
// are validated at load so the default branch only fires for actions added
// to the enum but not wired here.
func (e *Engine) runAction(ctx context.Context, exec *Execution, action Action, params map[string]any) (map[string]any, error) {
	switch action {
	case ActionAcquireSession:
		return e.actionAcquireSession(ctx, params)
	case ActionExtract:
		return e.actionExtract(ctx, exec, params)
	case ActionRotateProxy:
		return e.actionRotateProxy()
	case ActionFilterResults:
		return e.actionFilterResults(exec, params)
	case ActionPersistResults:
		return e.actionPersistResults(ctx, exec, params)
	case ActionDelay:
		return e.actionDelay(ctx, params)
	default:
		return nil, fmt.Errorf("%w: %q", scout.ErrUnknownAction, action)
	}
}

func (e *Engine) actionAcquireSession(ctx context.Context, params map[string]any) (map[string]any, error) {
	owner := paramString(params, "owner")
	if owner == "" {
		return nil, fmt.Errorf("acquire_session: owner param is required")
	}
	var creds *scout.Credentials
	if identity := paramString(params, "identity"); identity != "" {
		creds = &scout.Credentials{
			Identity: identity,
			Secret:   paramString(params, "secret"),
		}
	}
	allowLogin := paramBool(params, "allow_login")

	record, err := e.coord.EnsureSession(ctx, owner, creds, allowLogin)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		ContextSessionID:    record.SessionID,
		ContextSessionOwner: record.Owner,
	}, nil
}

func (e *Engine) actionExtract(ctx context.Context, exec *Execution, params map[string]any) (map[string]any, error) {
	url := paramString(params, "url")
	if url == "" {
		return nil, fmt.Errorf("extract: url param is required")
	}
	policy := e.cfg.DefaultPolicy
	if name := paramString(params, "policy"); name != "" {
		parsed, err := orchestrator.ParsePolicy(name)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		policy = parsed
	}

	e.mu.Lock()
	sessionID, _ := exec.Context[ContextSessionID].(string)
	e.mu.Unlock()
	if fromParams := paramString(params, "session_id"); fromParams != "" {
		sessionID = fromParams
	}

	maxRetries := e.cfg.DefaultMaxRetries
	if _, ok := params["max_retries"]; ok {
		maxRetries = paramInt(params, "max_retries")
	}

	offers, err := e.coord.Scrape(ctx, orchestrator.ScrapeRequest{
		SessionID:  sessionID,
		URL:        url,
		MaxRetries: maxRetries,
		Policy:     policy,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		ContextOffers:     offers,
		ContextOfferCount: len(offers),
	}, nil
}

func (e *Engine) actionRotateProxy() (map[string]any, error) {
	if e.rotator == nil {
		return nil, fmt.Errorf("rotate_proxy: no proxy pool configured")
	}
	proxy, ok := e.rotator.NextProxy()
	if !ok {
		return nil, fmt.Errorf("rotate_proxy: active pool is empty")
	}
	return map[string]any{ContextCurrentProxy: proxy.Key()}, nil
}

func (e *Engine) actionFilterResults(exec *Execution, params map[string]any) (map[string]any, error) {
	e.mu.Lock()
	offers, _ := exec.Context[ContextOffers].([]scout.Offer)
	e.mu.Unlock()

	minPrice, hasMin := paramFloat(params, "min_price")
	maxPrice, hasMax := paramFloat(params, "max_price")
	brand := strings.ToLower(paramString(params, "brand"))
	availability := paramString(params, "availability")

	filtered := make([]scout.Offer, 0, len(offers))
	for _, offer := range offers {
		if hasMin && offer.Price < minPrice {
			continue
		}
		if hasMax && offer.Price > maxPrice {
			continue
		}
		if brand != "" && strings.ToLower(offer.Brand) != brand {
			continue
		}
		if availability != "" && string(offer.Availability) != availability {
			continue
		}
		filtered = append(filtered, offer)
	}
	return map[string]any{
		ContextOffers:     filtered,
		ContextOfferCount: len(filtered),
	}, nil
}

func (e *Engine) actionPersistResults(ctx context.Context, exec *Execution, params map[string]any) (map[string]any, error) {
	if e.artifacts == nil {
		return nil, fmt.Errorf("persist_results: no artifact store configured")
	}
	e.mu.Lock()
	offers, _ := exec.Context[ContextOffers].([]scout.Offer)
	execID := exec.ID
	e.mu.Unlock()

	name := paramString(params, "name")
	if name == "" {
		name = "results"
	}
	path := fmt.Sprintf("%s/%s.json", execID, name)
	if e.cfg.ArtifactPrefix != "" {
		path = fmt.Sprintf("%s/%s", e.cfg.ArtifactPrefix, path)
	}

	data, err := json.Marshal(offers)
	if err != nil {
		return nil, fmt.Errorf("persist_results: marshal: %w", err)
	}
	uri, err := e.artifacts.PutObject(ctx, path, "application/json", data)
	if err != nil {
		return nil, fmt.Errorf("persist_results: %w", err)
	}
	return map[string]any{ContextArtifactURI: uri}, nil
}

func (e *Engine) actionDelay(ctx context.Context, params map[string]any) (map[string]any, error) {
	ms := paramInt(params, "duration_ms")
	if ms <= 0 {
		return nil, fmt.Errorf("delay: duration_ms param is required")
	}
	if err := sleepCtx(ctx, time.Duration(ms)*time.Millisecond); err != nil {
		return nil, err
	}
	return nil, nil
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, isString := v.(string); isString {
			return s
		}
	}
	return ""
}

func paramBool(params map[string]any, key string) bool {
	if v, ok := params[key]; ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
	}
	return false
}

func paramInt(params map[string]any, key string) int {
	if f, ok := paramFloat(params, key); ok {
		return int(f)
	}
	return 0
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}
