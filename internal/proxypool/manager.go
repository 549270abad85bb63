// Package proxypool owns the live proxy pool, its rotation strategy, and the
// periodic health-validation loop.
package proxypool

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/events"
	"github.com/offerscout/offerscout/internal/scout"
)

// DefaultValidationInterval spaces the repeating validation passes.
const DefaultValidationInterval = 5 * time.Minute

// Config controls Manager behavior.
type Config struct {
	ValidationInterval time.Duration
	ValidationTimeout  time.Duration
}

// PoolStats is the aggregate read model returned by Stats.
type PoolStats struct {
	TotalProxies   int     `json:"total_proxies"`
	ActiveProxies  int     `json:"active_proxies"`
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	SuccessRate    float64 `json:"success_rate"`
}

// Manager keeps the pool healthy. Provider failures never propagate to
// callers; they surface as emitted events and the pool keeps operating with
// whatever remains active.
type Manager struct {
	mu        sync.RWMutex
	proxies   map[string]*scout.ProxyConfig
	stats     map[string]*scout.ProxyStats
	providers map[string]scout.ProxyProvider

	strategy Strategy
	clock    scout.Clock
	emitter  events.Emitter
	logger   *zap.Logger
	cfg      Config

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// New constructs a Manager. The strategy is chosen explicitly at startup;
// see NewStrategy.
func New(
	providers []scout.ProxyProvider,
	strategy Strategy,
	clock scout.Clock,
	emitter events.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.ValidationInterval <= 0 {
		cfg.ValidationInterval = DefaultValidationInterval
	}
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	byName := make(map[string]scout.ProxyProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Manager{
		proxies:   make(map[string]*scout.ProxyConfig),
		stats:     make(map[string]*scout.ProxyStats),
		providers: byName,
		strategy:  strategy,
		clock:     clock,
		emitter:   emitter,
		logger:    logger,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Initialize refreshes the pool from every provider, runs one immediate
// validation pass, and schedules the repeating pass until Stop is called.
func (m *Manager) Initialize(ctx context.Context) error {
	m.Refresh(ctx)
	m.ValidateAll(ctx)

	m.mu.Lock()
	alreadyStarted := m.started
	m.started = true
	m.mu.Unlock()
	if alreadyStarted {
		return nil
	}

	m.wg.Add(1)
	go m.validationLoop()
	return nil
}

// Refresh fetches from every registered provider concurrently and replaces
// the pool. A single provider's failure is emitted as an event; the other
// providers still populate the pool. Stats survive for proxies whose key is
// unchanged.
func (m *Manager) Refresh(ctx context.Context) {
	type fetchResult struct {
		provider string
		proxies  []scout.ProxyConfig
		err      error
	}

	results := make(chan fetchResult, len(m.providers))
	var wg sync.WaitGroup
	for name, provider := range m.providers {
		wg.Add(1)
		go func(name string, provider scout.ProxyProvider) {
			defer wg.Done()
			proxies, err := provider.FetchProxies(ctx)
			results <- fetchResult{provider: name, proxies: proxies, err: err}
		}(name, provider)
	}
	wg.Wait()
	close(results)

	next := make(map[string]*scout.ProxyConfig)
	for res := range results {
		if res.err != nil {
			m.logger.Warn("provider refresh failed",
				zap.String("provider", res.provider), zap.Error(res.err))
			m.emitter.Emit(events.Event{
				TS:       m.clock.Now(),
				Source:   events.SourceRefresh,
				Provider: res.provider,
				Outcome:  events.OutcomeError,
				Note:     res.err.Error(),
			})
			continue
		}
		for _, proxy := range res.proxies {
			p := proxy
			p.Provider = res.provider
			// Fresh entries start active until the first validation pass
			// says otherwise.
			p.Active = true
			next[p.Key()] = &p
		}
		m.emitter.Emit(events.Event{
			TS:       m.clock.Now(),
			Source:   events.SourceRefresh,
			Provider: res.provider,
			Outcome:  events.OutcomeOK,
		})
	}

	m.mu.Lock()
	stats := make(map[string]*scout.ProxyStats, len(next))
	for key := range next {
		if prev, ok := m.stats[key]; ok {
			stats[key] = prev
		} else {
			stats[key] = &scout.ProxyStats{}
		}
	}
	m.proxies = next
	m.stats = stats
	m.mu.Unlock()
}

// NextProxy returns one proxy from the active subset per the rotation
// strategy, or false if the active subset is empty.
func (m *Manager) NextProxy() (scout.ProxyConfig, bool) {
	active := m.activeSnapshot()
	proxy, ok := m.strategy.Next(active)
	if !ok {
		m.emitter.Emit(events.Event{
			TS:      m.clock.Now(),
			Source:  events.SourceRotation,
			Outcome: events.OutcomeError,
			Note:    "active pool is empty",
		})
		return scout.ProxyConfig{}, false
	}

	m.mu.Lock()
	if st, found := m.stats[proxy.Key()]; found {
		st.LastUsedAt = m.clock.Now()
	}
	m.mu.Unlock()

	m.emitter.Emit(events.Event{
		TS:      m.clock.Now(),
		Source:  events.SourceRotation,
		Key:     proxy.Key(),
		Outcome: events.OutcomeOK,
	})
	return proxy, true
}

// RecordUse feeds a usage outcome back into the proxy's stats and the
// rotation strategy's weights.
func (m *Manager) RecordUse(key string, success bool, latency time.Duration) {
	m.mu.Lock()
	if st, ok := m.stats[key]; ok {
		applyResult(st, success, latency, m.clock.Now())
	}
	m.mu.Unlock()
	m.strategy.RecordResult(key, success)
}

// ValidateProxy delegates to the proxy's owning provider and applies the
// result. Provider-not-found and validation errors are emitted as events,
// never returned.
func (m *Manager) ValidateProxy(ctx context.Context, key string) {
	m.mu.RLock()
	proxyPtr, ok := m.proxies[key]
	var proxy scout.ProxyConfig
	if ok {
		proxy = *proxyPtr
	}
	provider, haveProvider := m.providers[proxy.Provider]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if !haveProvider {
		m.emitter.Emit(events.Event{
			TS:       m.clock.Now(),
			Source:   events.SourceValidation,
			Provider: proxy.Provider,
			Key:      key,
			Outcome:  events.OutcomeError,
			Note:     "provider not registered",
		})
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ValidationTimeout)
	defer cancel()
	result, err := provider.ValidateProxy(callCtx, proxy)
	now := m.clock.Now()

	if err != nil {
		m.applyValidation(key, false, 0, now)
		m.emitter.Emit(events.Event{
			TS:       now,
			Source:   events.SourceValidation,
			Provider: proxy.Provider,
			Key:      key,
			Outcome:  events.OutcomeError,
			Note:     err.Error(),
		})
		return
	}

	m.applyValidation(key, result.Valid, result.Latency, now)
	outcome := events.OutcomeOK
	if !result.Valid {
		outcome = events.OutcomeError
	}
	m.emitter.Emit(events.Event{
		TS:       now,
		Source:   events.SourceValidation,
		Provider: proxy.Provider,
		Key:      key,
		Outcome:  outcome,
		Dur:      result.Latency,
		Note:     result.Err,
	})
}

// ValidateAll fires a validation for every pool proxy concurrently and waits
// for the pass to finish. Reads through NextProxy are not blocked and may
// observe pool state mid-pass.
func (m *Manager) ValidateAll(ctx context.Context) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.proxies))
	for key := range m.proxies {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			m.ValidateProxy(ctx, key)
		}(key)
	}
	wg.Wait()
}

// Stats returns aggregate pool-wide counters. Pure read, no mutation.
func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := PoolStats{TotalProxies: len(m.proxies)}
	for _, proxy := range m.proxies {
		if proxy.Active {
			out.ActiveProxies++
		}
	}
	for _, st := range m.stats {
		out.TotalRequests += st.TotalRequests
		out.FailedRequests += st.FailedRequests
	}
	if out.TotalRequests > 0 {
		out.SuccessRate = float64(out.TotalRequests-out.FailedRequests) /
			float64(out.TotalRequests) * 100
	}
	return out
}

// ProxyStats returns a copy of one proxy's running counters.
func (m *Manager) ProxyStats(key string) (scout.ProxyStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stats[key]
	if !ok {
		return scout.ProxyStats{}, false
	}
	return *st, true
}

// Stop cancels the periodic validation loop. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Manager) validationLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ValidationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.ValidateAll(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// activeSnapshot returns the active subset sorted by key so strategies see a
// stable order.
func (m *Manager) activeSnapshot() []scout.ProxyConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := make([]scout.ProxyConfig, 0, len(m.proxies))
	for _, proxy := range m.proxies {
		if proxy.Active {
			active = append(active, *proxy)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Key() < active[j].Key()
	})
	return active
}

func (m *Manager) applyValidation(key string, valid bool, latency time.Duration, now time.Time) {
	m.mu.Lock()
	st, haveStats := m.stats[key]
	if haveStats {
		applyResult(st, valid, latency, now)
	}
	if proxy, ok := m.proxies[key]; ok {
		proxy.Active = valid
		proxy.LastChecked = now
		if haveStats {
			proxy.HealthScore = st.SuccessRate
		}
	}
	m.mu.Unlock()
	m.strategy.RecordResult(key, valid)
}

// applyResult updates one stats record. SuccessRate is always recomputed from
// the counters.
func applyResult(st *scout.ProxyStats, success bool, latency time.Duration, now time.Time) {
	st.TotalRequests++
	if !success {
		st.FailedRequests++
	}
	st.SuccessRate = float64(st.TotalRequests-st.FailedRequests) /
		float64(st.TotalRequests) * 100
	if latency > 0 {
		ms := float64(latency.Milliseconds())
		if st.AvgLatencyMs == 0 {
			st.AvgLatencyMs = ms
		} else {
			st.AvgLatencyMs += (ms - st.AvgLatencyMs) / float64(st.TotalRequests)
		}
	}
	st.LastUsedAt = now
}
