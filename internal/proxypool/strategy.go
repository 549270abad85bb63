package proxypool

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/offerscout/offerscout/internal/scout"
)

// Strategy selects the next proxy from the currently-active pool subset. The
// active slice passed to Next is always sorted by proxy key, so strategies
// that keep positional state degrade gracefully as the subset shrinks or
// grows. RecordResult feeds usage outcomes back for weight adjustments.
type Strategy interface {
	Name() string
	Next(active []scout.ProxyConfig) (scout.ProxyConfig, bool)
	RecordResult(key string, success bool)
}

// Strategy names accepted by NewStrategy.
const (
	StrategyRoundRobin = "round_robin"
	StrategyWeighted   = "weighted"
	StrategyRandom     = "random"
)

// NewStrategy builds a strategy by config name. Every strategy is first-class
// and independently constructible; an unknown name is a startup error.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyRoundRobin, "":
		return NewRoundRobin(), nil
	case StrategyWeighted:
		return NewWeighted(WeightedConfig{}), nil
	case StrategyRandom:
		return NewRandom(), nil
	default:
		return nil, fmt.Errorf("unknown rotation strategy %q", name)
	}
}

// RoundRobin cycles deterministically over the active list. The cursor
// persists across calls and wraps by modulo, so removing or adding proxies
// only shifts which entry comes up next.
type RoundRobin struct {
	mu     sync.Mutex
	cursor int
}

// NewRoundRobin builds a RoundRobin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Name returns the config name of the strategy.
func (r *RoundRobin) Name() string { return StrategyRoundRobin }

// Next returns the proxy at the current cursor position and advances it.
func (r *RoundRobin) Next(active []scout.ProxyConfig) (scout.ProxyConfig, bool) {
	if len(active) == 0 {
		return scout.ProxyConfig{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	proxy := active[r.cursor%len(active)]
	r.cursor++
	return proxy, true
}

// RecordResult is a no-op for round-robin.
func (r *RoundRobin) RecordResult(string, bool) {}

// WeightedConfig clamps per-proxy weights.
type WeightedConfig struct {
	Initial float64
	Min     float64
	Max     float64
	Step    float64
}

// Weighted picks proxies proportionally to a per-proxy weight. Successful use
// raises the weight by Step, failure lowers it, clamped to [Min, Max].
type Weighted struct {
	cfg     WeightedConfig
	mu      sync.Mutex
	weights map[string]float64
	rng     *rand.Rand
}

// NewWeighted builds a Weighted strategy, filling zero config fields with
// defaults.
func NewWeighted(cfg WeightedConfig) *Weighted {
	if cfg.Initial <= 0 {
		cfg.Initial = 1
	}
	if cfg.Min <= 0 {
		cfg.Min = 0.1
	}
	if cfg.Max <= 0 {
		cfg.Max = 10
	}
	if cfg.Step <= 0 {
		cfg.Step = 0.25
	}
	return &Weighted{
		cfg:     cfg,
		weights: make(map[string]float64),
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}
}

// Name returns the config name of the strategy.
func (w *Weighted) Name() string { return StrategyWeighted }

// Next samples the active list proportionally to current weights.
func (w *Weighted) Next(active []scout.ProxyConfig) (scout.ProxyConfig, bool) {
	if len(active) == 0 {
		return scout.ProxyConfig{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0.0
	for _, p := range active {
		total += w.weightLocked(p.Key())
	}
	target := w.rng.Float64() * total
	for _, p := range active {
		target -= w.weightLocked(p.Key())
		if target <= 0 {
			return p, true
		}
	}
	return active[len(active)-1], true
}

// RecordResult adjusts the proxy's weight inside the configured clamp.
func (w *Weighted) RecordResult(key string, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	weight := w.weightLocked(key)
	if success {
		weight += w.cfg.Step
	} else {
		weight -= w.cfg.Step
	}
	if weight < w.cfg.Min {
		weight = w.cfg.Min
	}
	if weight > w.cfg.Max {
		weight = w.cfg.Max
	}
	w.weights[key] = weight
}

// Weight reports the current weight for a proxy key.
func (w *Weighted) Weight(key string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.weightLocked(key)
}

func (w *Weighted) weightLocked(key string) float64 {
	if weight, ok := w.weights[key]; ok {
		return weight
	}
	return w.cfg.Initial
}

// Random picks uniformly from the active list.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom builds a Random strategy.
func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// Name returns the config name of the strategy.
func (r *Random) Name() string { return StrategyRandom }

// Next returns a uniformly random active proxy.
func (r *Random) Next(active []scout.ProxyConfig) (scout.ProxyConfig, bool) {
	if len(active) == 0 {
		return scout.ProxyConfig{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return active[r.rng.Intn(len(active))], true
}

// RecordResult is a no-op for random selection.
func (r *Random) RecordResult(string, bool) {}
