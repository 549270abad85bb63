package workflow

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a workflow execution.
type Status string

// Execution status values. Running is the only non-terminal state.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Execution is the run state for one workflow. It is mutated only by the
// engine's own execution loop; once a terminal status is set no field
// changes again. CurrentStep is monotonically non-decreasing within a run.
type Execution struct {
	ID          string         `json:"id"`
	Workflow    string         `json:"workflow"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	Context     map[string]any `json:"context"`
	Errors      []string       `json:"errors,omitempty"`
	Log         []string       `json:"log,omitempty"`
}

// StatusView is the admin-facing read model: progress and recent log lines
// with sensitive context fields stripped.
type StatusView struct {
	ID          string         `json:"id"`
	Workflow    string         `json:"workflow"`
	Status      Status         `json:"status"`
	ProgressPct int            `json:"progress_pct"`
	CurrentStep int            `json:"current_step"`
	Results     map[string]any `json:"results"`
	Errors      []string       `json:"errors,omitempty"`
	RecentLog   []string       `json:"recent_log,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

const recentLogLines = 10

// sensitive context keys are never exposed through the status surface.
var sensitiveKeys = []string{"secret", "password", "credential", "token", "cookie"}

// view builds the admin status model from an execution snapshot.
func (e Execution) view(now time.Time) StatusView {
	progress := 0
	if e.TotalSteps > 0 {
		progress = e.CurrentStep * 100 / e.TotalSteps
	}
	end := now
	if e.EndedAt != nil {
		end = *e.EndedAt
	}

	results := make(map[string]any, len(e.Context))
	for key, value := range e.Context {
		if isSensitiveKey(key) {
			continue
		}
		if key == ContextSessionID {
			if s, ok := value.(string); ok {
				results[key] = truncateID(s)
				continue
			}
		}
		results[key] = value
	}

	logLines := e.Log
	if len(logLines) > recentLogLines {
		logLines = logLines[len(logLines)-recentLogLines:]
	}

	return StatusView{
		ID:          e.ID,
		Workflow:    e.Workflow,
		Status:      e.Status,
		ProgressPct: progress,
		CurrentStep: e.CurrentStep,
		Results:     results,
		Errors:      append([]string(nil), e.Errors...),
		RecentLog:   append([]string(nil), logLines...),
		DurationMs:  end.Sub(e.StartedAt).Milliseconds(),
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveKeys {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// snapshot deep-copies the mutable collections so callers can read freely.
func (e Execution) snapshot() Execution {
	out := e
	out.Context = make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		out.Context[k] = v
	}
	out.Errors = append([]string(nil), e.Errors...)
	out.Log = append([]string(nil), e.Log...)
	if e.EndedAt != nil {
		t := *e.EndedAt
		out.EndedAt = &t
	}
	return out
}
