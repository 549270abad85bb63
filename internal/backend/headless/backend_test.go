package headless

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_LimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	backend, err := New(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	defer backend.Close()
	require.Equal(t, 2, cap(backend.limiter))
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 45*time.Second, cfg.NavigationTimeout)
	require.Equal(t, `input[name="email"]`, cfg.IdentitySelector)
	require.Equal(t, `button[type="submit"]`, cfg.SubmitSelector)

	custom := Config{
		NavigationTimeout: time.Second,
		IdentitySelector:  "#user",
	}.withDefaults()
	require.Equal(t, time.Second, custom.NavigationTimeout)
	require.Equal(t, "#user", custom.IdentitySelector)
	require.Equal(t, `input[name="password"]`, custom.SecretSelector)
}

func TestSelectorVisibleScript_QuotesSelector(t *testing.T) {
	t.Parallel()

	script := selectorVisibleScript(`input[name="otp"]`)
	require.Contains(t, script, `document.querySelector("input[name=\"otp\"]")`)
}
