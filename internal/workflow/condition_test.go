package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offerscout/offerscout/internal/scout"
)

func evalCondition(t *testing.T, src string, ctx map[string]any) bool {
	t.Helper()
	cond, err := ParseCondition(src)
	require.NoError(t, err)
	ok, err := cond.Eval(ctx)
	require.NoError(t, err)
	return ok
}

func TestCondition_Comparisons(t *testing.T) {
	t.Parallel()

	ctx := map[string]any{
		"offerCount": 3,
		"avgPrice":   99.5,
		"region":     "eu",
	}

	require.True(t, evalCondition(t, "offerCount > 0", ctx))
	require.True(t, evalCondition(t, "offerCount >= 3", ctx))
	require.False(t, evalCondition(t, "offerCount < 3", ctx))
	require.True(t, evalCondition(t, "avgPrice <= 100", ctx))
	require.True(t, evalCondition(t, `region == "eu"`, ctx))
	require.True(t, evalCondition(t, `region != 'us'`, ctx))
}

func TestCondition_BooleanOperators(t *testing.T) {
	t.Parallel()

	ctx := map[string]any{"offerCount": 0, "retryBudget": 2}

	require.True(t, evalCondition(t, "offerCount == 0 && retryBudget > 0", ctx))
	require.True(t, evalCondition(t, "offerCount > 0 || retryBudget > 0", ctx))
	require.True(t, evalCondition(t, "!(offerCount > 0)", ctx))
	require.False(t, evalCondition(t, "offerCount > 0 && retryBudget > 0", ctx))
}

func TestCondition_TruthinessOfBareFields(t *testing.T) {
	t.Parallel()

	require.True(t, evalCondition(t, "sessionId", map[string]any{"sessionId": "abc"}))
	require.False(t, evalCondition(t, "sessionId", map[string]any{"sessionId": ""}))
	require.False(t, evalCondition(t, "sessionId", map[string]any{}))
	require.True(t, evalCondition(t, "enabled", map[string]any{"enabled": true}))

	// Typed slices report their length, not mere presence.
	require.False(t, evalCondition(t, "offers", map[string]any{"offers": []scout.Offer{}}))
	require.True(t, evalCondition(t, "offers", map[string]any{"offers": []scout.Offer{{Title: "x"}}}))
}

func TestCondition_MixedOperandComparison(t *testing.T) {
	t.Parallel()

	// Two numbers compare numerically, even across int and float types.
	require.True(t, evalCondition(t, "offerCount > 2.5", map[string]any{"offerCount": 10}))
	// A string operand forces lexical comparison.
	require.True(t, evalCondition(t, `region < "zz"`, map[string]any{"region": "eu"}))
	require.False(t, evalCondition(t, `offerCount == "10"`, map[string]any{"offerCount": 3}))
}

func TestCondition_ParseErrors(t *testing.T) {
	t.Parallel()

	for _, src := range []string{
		"offerCount >",
		"(offerCount > 0",
		"offerCount ~ 1",
		"",
		`region == "unterminated`,
	} {
		_, err := ParseCondition(src)
		require.Error(t, err, "source %q", src)
	}
}
