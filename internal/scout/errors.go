package scout

import "errors"

// Coordination error taxonomy. Callers branch with errors.Is; the API layer
// maps each entry to a distinct status.
var (
	// ErrSessionUnavailable means no usable session could be loaded and a
	// login was either not permitted or failed.
	ErrSessionUnavailable = errors.New("session unavailable")

	// ErrSecondFactorRequired means the login reached a second-factor
	// challenge; no usable record was persisted.
	ErrSecondFactorRequired = errors.New("second factor required")

	// ErrBackendFailure means a backend call threw or the underlying driver
	// was unavailable.
	ErrBackendFailure = errors.New("backend failure")

	// ErrEmptyResult means a call succeeded but produced zero offers.
	ErrEmptyResult = errors.New("empty result")

	// ErrProxyProviderFailure means a provider fetch or validation call
	// failed; it is surfaced as an event, never returned to pool callers.
	ErrProxyProviderFailure = errors.New("proxy provider failure")

	// ErrStepTimeout means a workflow step attempt exceeded its timeout.
	ErrStepTimeout = errors.New("workflow step timeout")

	// ErrStepExhausted means a workflow step failed on every attempt.
	ErrStepExhausted = errors.New("workflow step retries exhausted")

	// ErrUnknownAction means a workflow document names an action that does
	// not exist. This is a configuration error, never retried.
	ErrUnknownAction = errors.New("unknown workflow action")
)
