package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/events"
	"github.com/offerscout/offerscout/internal/orchestrator"
	"github.com/offerscout/offerscout/internal/scout"
)

// Well-known context keys written by actions.
const (
	ContextSessionID    = "sessionId"
	ContextSessionOwner = "sessionOwner"
	ContextOffers       = "offers"
	ContextOfferCount   = "offerCount"
	ContextCurrentProxy = "currentProxy"
	ContextArtifactURI  = "artifactUri"
)

// Coordinator is the orchestration surface the engine drives by name.
type Coordinator interface {
	EnsureSession(ctx context.Context, owner string, creds *scout.Credentials, allowLogin bool) (scout.SessionRecord, error)
	Scrape(ctx context.Context, req orchestrator.ScrapeRequest) ([]scout.Offer, error)
}

// Rotator hands out proxies from the active pool.
type Rotator interface {
	NextProxy() (scout.ProxyConfig, bool)
}

// Config controls Engine behavior.
type Config struct {
	// DefaultPolicy applies to extract steps that do not name one.
	DefaultPolicy orchestrator.Policy
	// DefaultMaxRetries applies to extract steps that do not set a
	// max_retries param.
	DefaultMaxRetries int
	// ArtifactPrefix prefixes persist_results object paths.
	ArtifactPrefix string
}

// Engine interprets workflow documents. Steps run strictly sequentially;
// cancellation is cooperative and only takes effect at step boundaries, so
// an in-flight step always finishes.
type Engine struct {
	loader    *Loader
	coord     Coordinator
	rotator   Rotator
	artifacts scout.ArtifactStore
	clock     scout.Clock
	ids       scout.IDGenerator
	emitter   events.Emitter
	logger    *zap.Logger
	cfg       Config

	mu         sync.Mutex
	executions map[string]*Execution
}

// New constructs an Engine. rotator and artifacts may be nil when the
// corresponding actions are unused by the deployment's workflows.
func New(
	loader *Loader,
	coord Coordinator,
	rotator Rotator,
	artifacts scout.ArtifactStore,
	clock scout.Clock,
	ids scout.IDGenerator,
	emitter events.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = orchestrator.PolicyWaterfall
	}
	return &Engine{
		loader:     loader,
		coord:      coord,
		rotator:    rotator,
		artifacts:  artifacts,
		clock:      clock,
		ids:        ids,
		emitter:    emitter,
		logger:     logger,
		cfg:        cfg,
		executions: make(map[string]*Execution),
	}
}

// Execute loads the named workflow and runs it to a terminal state, seeding
// the results context with the document variables overlaid by initialParams.
// The returned snapshot reflects the terminal execution; the error carries
// the failing step's cause when the run failed.
func (e *Engine) Execute(ctx context.Context, name string, initialParams map[string]any) (Execution, error) {
	doc, err := e.loader.Load(name)
	if err != nil {
		return Execution{}, err
	}
	return e.ExecuteDocument(ctx, doc, initialParams)
}

// ExecuteDocument runs an already-loaded document.
func (e *Engine) ExecuteDocument(ctx context.Context, doc Document, initialParams map[string]any) (Execution, error) {
	if err := doc.Validate(); err != nil {
		return Execution{}, err
	}
	id, err := e.ids.NewID()
	if err != nil {
		return Execution{}, fmt.Errorf("execution id: %w", err)
	}

	seed := make(map[string]any, len(doc.Variables)+len(initialParams))
	for k, v := range doc.Variables {
		seed[k] = v
	}
	for k, v := range initialParams {
		seed[k] = v
	}

	exec := &Execution{
		ID:         id,
		Workflow:   doc.Name,
		Status:     StatusRunning,
		StartedAt:  e.clock.Now(),
		TotalSteps: len(doc.Steps),
		Context:    seed,
	}
	e.mu.Lock()
	e.executions[id] = exec
	e.mu.Unlock()

	runErr := e.run(ctx, exec, doc)
	return e.mustSnapshot(id), runErr
}

// Cancel flips a running execution to cancelled. It does not interrupt a
// step already in flight; the next step simply never starts.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[id]
	if !ok || exec.Status != StatusRunning {
		return false
	}
	exec.Status = StatusCancelled
	now := e.clock.Now()
	exec.EndedAt = &now
	exec.Log = append(exec.Log, "execution cancelled")
	return true
}

// Execution returns a snapshot of one execution.
func (e *Engine) Execution(id string) (Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[id]
	if !ok {
		return Execution{}, false
	}
	return exec.snapshot(), true
}

// Status returns the admin-facing view of one execution.
func (e *Engine) Status(id string) (StatusView, bool) {
	exec, ok := e.Execution(id)
	if !ok {
		return StatusView{}, false
	}
	return exec.view(e.clock.Now()), true
}

func (e *Engine) run(ctx context.Context, exec *Execution, doc Document) error {
	for i, step := range doc.Steps {
		if cancelled := e.beginStep(exec, i); cancelled {
			return nil
		}

		skip, err := e.shouldSkip(exec, step)
		if err != nil {
			return e.fail(exec, step, err)
		}
		if skip {
			e.appendLog(exec, fmt.Sprintf("step %s skipped", step.Name))
			e.emitStep(step.Name, events.OutcomeSkipped, 0)
			e.advance(exec, i+1)
			continue
		}

		start := e.clock.Now()
		updates, err := e.runStepWithRetry(ctx, exec, step)
		if err != nil {
			outcome := events.OutcomeError
			if errors.Is(err, scout.ErrStepTimeout) {
				outcome = events.OutcomeTimeout
			}
			e.emitStep(step.Name, outcome, e.clock.Now().Sub(start))
			return e.fail(exec, step, err)
		}

		e.applyUpdates(exec, updates)
		e.appendLog(exec, fmt.Sprintf("step %s completed", step.Name))
		e.emitStep(step.Name, events.OutcomeOK, e.clock.Now().Sub(start))
		e.advance(exec, i+1)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if exec.Status == StatusRunning {
		exec.Status = StatusCompleted
		now := e.clock.Now()
		exec.EndedAt = &now
	}
	return nil
}

// beginStep reports true when the execution was cancelled before the step
// could start.
func (e *Engine) beginStep(exec *Execution, index int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec.Status != StatusRunning {
		return true
	}
	if index > exec.CurrentStep {
		exec.CurrentStep = index
	}
	return false
}

func (e *Engine) shouldSkip(exec *Execution, step Step) (bool, error) {
	if step.Condition == "" {
		return false, nil
	}
	cond, err := ParseCondition(step.Condition)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	contextCopy := make(map[string]any, len(exec.Context))
	for k, v := range exec.Context {
		contextCopy[k] = v
	}
	e.mu.Unlock()

	ok, err := cond.Eval(contextCopy)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// runStepWithRetry runs the step's attempts. Each attempt races the action
// against the step timeout; a timed-out attempt counts as failed even though
// the action goroutine may still be draining. Context updates from a losing
// attempt are discarded.
func (e *Engine) runStepWithRetry(ctx context.Context, exec *Execution, step Step) (map[string]any, error) {
	attempts := 1
	var delay time.Duration
	if step.Retry != nil {
		attempts = step.Retry.Attempts
		delay = step.Retry.Delay
	}

	params := e.resolveParams(exec, step.Params)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, delay*time.Duration(attempt-1)); err != nil {
				return nil, err
			}
		}
		e.appendLog(exec, fmt.Sprintf("step %s attempt %d", step.Name, attempt))

		updates, err := e.runAttempt(ctx, exec, step, params)
		if err == nil {
			return updates, nil
		}
		lastErr = err
		if errors.Is(err, scout.ErrUnknownAction) || ctx.Err() != nil {
			return nil, err
		}
		e.appendLog(exec, fmt.Sprintf("step %s attempt %d failed: %v", step.Name, attempt, err))
	}
	return nil, fmt.Errorf("step %s: %w: %w", step.Name, lastErr, scout.ErrStepExhausted)
}

func (e *Engine) runAttempt(ctx context.Context, exec *Execution, step Step, params map[string]any) (map[string]any, error) {
	if step.Timeout <= 0 {
		return e.runAction(ctx, exec, step.Action, params)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	type outcome struct {
		updates map[string]any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		updates, err := e.runAction(attemptCtx, exec, step.Action, params)
		done <- outcome{updates: updates, err: err}
	}()

	select {
	case out := <-done:
		return out.updates, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("step %s after %s: %w", step.Name, step.Timeout, scout.ErrStepTimeout)
	}
}

func (e *Engine) fail(exec *Execution, step Step, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec.Status == StatusRunning {
		exec.Status = StatusFailed
		now := e.clock.Now()
		exec.EndedAt = &now
	}
	exec.Errors = append(exec.Errors, err.Error())
	exec.Log = append(exec.Log, fmt.Sprintf("step %s failed: %v", step.Name, err))
	return err
}

func (e *Engine) advance(exec *Execution, next int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if next > exec.CurrentStep {
		exec.CurrentStep = next
	}
}

func (e *Engine) applyUpdates(exec *Execution, updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range updates {
		exec.Context[k] = v
	}
}

func (e *Engine) appendLog(exec *Execution, line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec.Log = append(exec.Log, line)
}

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// resolveParams substitutes ${name} placeholders in string params against the
// current results context. A placeholder that is the entire value keeps the
// referenced value's type.
func (e *Engine) resolveParams(exec *Execution, params map[string]any) map[string]any {
	e.mu.Lock()
	contextCopy := make(map[string]any, len(exec.Context))
	for k, v := range exec.Context {
		contextCopy[k] = v
	}
	e.mu.Unlock()

	out := make(map[string]any, len(params))
	for key, value := range params {
		out[key] = resolveValue(value, contextCopy)
	}
	return out
}

func resolveValue(value any, ctx map[string]any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if m := placeholderRe.FindStringSubmatch(s); m != nil && m[0] == s {
		if v, found := ctx[m[1]]; found {
			return v
		}
		return ""
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		return toString(ctx[name])
	})
}

func (e *Engine) emitStep(step string, outcome events.Outcome, dur time.Duration) {
	e.emitter.Emit(events.Event{
		TS:      e.clock.Now(),
		Source:  events.SourceWorkflow,
		Key:     step,
		Outcome: outcome,
		Dur:     dur,
	})
}

func (e *Engine) mustSnapshot(id string) Execution {
	exec, _ := e.Execution(id)
	return exec
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
