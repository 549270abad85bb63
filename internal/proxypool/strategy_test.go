package proxypool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offerscout/offerscout/internal/scout"
)

func activeList(hosts ...string) []scout.ProxyConfig {
	out := make([]scout.ProxyConfig, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, proxyConfig(h))
	}
	return out
}

func TestNewStrategy(t *testing.T) {
	t.Parallel()

	for _, name := range []string{StrategyRoundRobin, StrategyWeighted, StrategyRandom, ""} {
		s, err := NewStrategy(name)
		require.NoError(t, err)
		require.NotNil(t, s)
	}

	_, err := NewStrategy("sticky")
	require.Error(t, err)
}

func TestRoundRobin_CursorPersistsAcrossShrink(t *testing.T) {
	t.Parallel()

	rr := NewRoundRobin()

	full := activeList("a", "b", "c")
	first, ok := rr.Next(full)
	require.True(t, ok)
	require.Equal(t, "a", first.Host)

	// The list shrinks between calls; the cursor wraps by modulo instead of
	// stalling or panicking.
	small := activeList("a")
	for i := 0; i < 3; i++ {
		proxy, ok := rr.Next(small)
		require.True(t, ok)
		require.Equal(t, "a", proxy.Host)
	}

	_, ok = rr.Next(nil)
	require.False(t, ok)
}

func TestWeighted_ClampAndAdjust(t *testing.T) {
	t.Parallel()

	w := NewWeighted(WeightedConfig{Initial: 1, Min: 0.5, Max: 2, Step: 1})
	key := "http://a:8080"

	w.RecordResult(key, true)
	require.InDelta(t, 2.0, w.Weight(key), 1e-9)
	w.RecordResult(key, true)
	require.InDelta(t, 2.0, w.Weight(key), 1e-9, "weight clamps at max")

	w.RecordResult(key, false)
	w.RecordResult(key, false)
	w.RecordResult(key, false)
	require.InDelta(t, 0.5, w.Weight(key), 1e-9, "weight clamps at min")
}

func TestWeighted_NextPrefersHeavierProxy(t *testing.T) {
	t.Parallel()

	w := NewWeighted(WeightedConfig{Initial: 1, Min: 0.1, Max: 100, Step: 10})
	active := activeList("heavy", "light")
	// Push "heavy" to the max weight and "light" to the min.
	for i := 0; i < 10; i++ {
		w.RecordResult("http://heavy:8080", true)
		w.RecordResult("http://light:8080", false)
	}

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		proxy, ok := w.Next(active)
		require.True(t, ok)
		counts[proxy.Host]++
	}
	require.Greater(t, counts["heavy"], counts["light"])
}

func TestRandom_DrawsFromActiveSet(t *testing.T) {
	t.Parallel()

	r := NewRandom()
	active := activeList("a", "b")
	for i := 0; i < 50; i++ {
		proxy, ok := r.Next(active)
		require.True(t, ok)
		require.Contains(t, []string{"a", "b"}, proxy.Host)
	}

	_, ok := r.Next(nil)
	require.False(t, ok)
}
