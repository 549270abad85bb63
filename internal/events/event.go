// Package events defines the coordination events emitted by the proxy pool
// and the workflow engine.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Source identifies which subsystem activity produced an Event.
type Source string

// Supported event sources.
const (
	SourceRefresh    Source = "refresh"
	SourceValidation Source = "validation"
	SourceRotation   Source = "rotation"
	SourceExtraction Source = "extraction"
	SourceWorkflow   Source = "workflow"
)

// Outcome is a coarse success/failure grouping.
type Outcome string

// Supported outcomes.
const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
	OutcomeTimeout Outcome = "timeout"
)

// Event captures a single coordination milestone.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Source denotes the subsystem activity that produced the event.
	Source Source
	// Provider optionally names the proxy provider involved.
	Provider string
	// Key optionally identifies the subject (proxy key, execution id,
	// step name).
	Key string
	// Outcome groups the event for counting.
	Outcome Outcome
	// Dur captures execution latency where one applies.
	Dur time.Duration
	// Note carries low-volume debug context, typically error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Source {
	case SourceRefresh, SourceValidation, SourceRotation, SourceExtraction, SourceWorkflow:
	default:
		return fmt.Errorf("unknown source %q", e.Source)
	}
	switch e.Outcome {
	case OutcomeOK, OutcomeError, OutcomeSkipped, OutcomeTimeout:
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
