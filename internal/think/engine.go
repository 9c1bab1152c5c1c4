// Package think runs the plan, act and verify loop of a reasoning session
// against an LLM and records every step in a ledger.
package think

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fentz26/cortex/internal/ledger"
	"github.com/fentz26/cortex/internal/llm"
	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
)

// Completer sends a prompt to an LLM. *llm.Client implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config tunes an Engine.
type Config struct {
	// PromptWindow is the number of recent steps included in planning prompts.
	PromptWindow int `yaml:"prompt_window"`
	// MaxPlanRetries is the number of re-issued planning prompts after the
	// first invalid response.
	MaxPlanRetries int `yaml:"max_plan_retries"`
	// MaxIterations is used when Think is called with a non-positive limit.
	MaxIterations int `yaml:"max_iterations"`
	// SystemPrompt is recorded as the session's first step when set.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		PromptWindow:   10,
		MaxPlanRetries: 3,
		MaxIterations:  10,
	}
}

// Engine runs think sessions. An Engine owns one ledger and one context
// and must not run two sessions at once.
type Engine struct {
	llm       Completer
	executors *Executors
	ledger    *ledger.Ledger
	cctx      *Context
	listener  Listener
	cfg       Config
	sessionID string
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedger sets the ledger steps are recorded in.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithContext sets the chain-of-thought context.
func WithContext(c *Context) Option {
	return func(e *Engine) { e.cctx = c }
}

// WithListener adds an event listener.
func WithListener(l Listener) Option {
	return func(e *Engine) {
		if e.listener == nil {
			e.listener = l
			return
		}
		e.listener = Listeners{e.listener, l}
	}
}

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithSessionID tags emitted events with id.
func WithSessionID(id string) Option {
	return func(e *Engine) { e.sessionID = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine.
func NewEngine(client Completer, executors *Executors, opts ...Option) *Engine {
	e := &Engine{
		llm:       client,
		executors: executors,
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.executors == nil {
		e.executors = NewExecutors()
	}
	if e.ledger == nil {
		e.ledger = ledger.New(ledger.WithLogger(e.logger))
	}
	if e.cctx == nil {
		e.cctx = NewContext("", "", "")
	}
	if e.listener == nil {
		e.listener = Listeners(nil)
	}
	defaults := DefaultConfig()
	if e.cfg.PromptWindow <= 0 {
		e.cfg.PromptWindow = defaults.PromptWindow
	}
	if e.cfg.MaxPlanRetries < 0 {
		e.cfg.MaxPlanRetries = 0
	}
	if e.cfg.MaxIterations <= 0 {
		e.cfg.MaxIterations = defaults.MaxIterations
	}
	e.logger = logging.Component(e.logger, "think")
	if e.sessionID != "" {
		e.logger = e.logger.With("session", e.sessionID)
	}
	return e
}

// Ledger returns the engine's step ledger.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Context returns the engine's chain-of-thought context.
func (e *Engine) Context() *Context {
	return e.cctx
}

func (e *Engine) emit(ev Event) {
	ev.SessionID = e.sessionID
	ev.Time = time.Now()
	e.listener.OnEvent(ev)
}

func (e *Engine) record(s models.Step) models.Step {
	stored := e.ledger.AddStep(s)
	e.emit(Event{Type: EventStep, Step: &stored})
	return stored
}

// Think runs one session for query. It returns nil when the session
// completes or hits maxIterations; fatal errors are returned wrapped in
// one of the package sentinels.
func (e *Engine) Think(ctx context.Context, query string, maxIterations int) error {
	if maxIterations <= 0 {
		maxIterations = e.cfg.MaxIterations
	}
	start := time.Now()
	e.logger.Info("think started", "query", query, "max_iterations", maxIterations)
	e.emit(Event{Type: EventStart, Query: query})

	if e.cfg.SystemPrompt != "" && e.ledger.Len() == 0 {
		e.record(models.Step{
			Type:    models.StepSystem,
			Content: e.cfg.SystemPrompt,
			System:  &models.SystemDetail{SystemPrompt: e.cfg.SystemPrompt},
		})
	}
	e.record(models.Step{
		Type:    models.StepTask,
		Content: query,
		Task:    &models.TaskDetail{Task: query},
	})

	plan, err := e.plan(ctx, query)
	if err != nil {
		return e.fail(query, err)
	}
	e.record(models.Step{
		Type:     models.StepPlanning,
		Content:  plan.Plan,
		Planning: &models.PlanningDetail{Plan: plan.Plan},
	})

	queue := append([]Action(nil), plan.Actions...)
	iteration := 0
	for iteration < maxIterations && len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return e.fail(query, err)
		}
		action := queue[0]
		queue = queue[1:]
		iteration++

		if err := action.Validate(); err != nil {
			return e.fail(query, err)
		}

		result, err := e.act(ctx, iteration, action)
		if err != nil {
			return e.fail(query, fmt.Errorf("%w: %s: %w", ErrActionExecution, action.Type, err))
		}

		v, err := e.verify(ctx, query, result)
		if err != nil {
			if errors.Is(err, ErrVerificationParse) {
				e.logger.Error("verification unparseable, ending session", "iteration", iteration, "error", err)
				e.emit(Event{Type: EventComplete, Query: query, Iteration: iteration, Completed: false, Reason: "verification unparseable", Err: err, Duration: time.Since(start)})
				return err
			}
			return e.fail(query, err)
		}

		e.record(models.Step{
			Type:    models.StepSystem,
			Content: v.Reason,
			System:  &models.SystemDetail{},
			Meta:    map[string]string{"verification": "true", "complete": fmt.Sprint(v.Complete)},
		})

		if v.Complete || !v.ShouldContinue {
			e.logger.Info("think complete", "iterations", iteration, "complete", v.Complete, "duration", time.Since(start))
			e.emit(Event{Type: EventComplete, Query: query, Iteration: iteration, Completed: v.Complete, Reason: v.Reason, Duration: time.Since(start)})
			return nil
		}
		queue = append(append([]Action(nil), v.NewActions...), queue...)
	}

	if iteration >= maxIterations {
		e.logger.Warn("think reached iteration limit", "iterations", iteration)
		e.emit(Event{Type: EventTimeout, Query: query, Iteration: iteration, Duration: time.Since(start)})
		return nil
	}

	e.logger.Info("think ran out of actions", "iterations", iteration)
	e.emit(Event{Type: EventComplete, Query: query, Iteration: iteration, Completed: false, Reason: "no pending actions", Duration: time.Since(start)})
	return nil
}

func (e *Engine) fail(query string, err error) error {
	e.logger.Error("think failed", "query", query, "error", err)
	e.emit(Event{Type: EventError, Query: query, Err: err})
	return err
}

func (e *Engine) plan(ctx context.Context, query string) (Plan, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxPlanRetries; attempt++ {
		prompt := planPrompt(query, e.ledger.Last(e.cfg.PromptWindow), e.cctx.State(), e.executors.Kinds())
		text, err := e.llm.Complete(ctx, prompt)
		if err != nil {
			var perr *llm.ProviderError
			if errors.As(err, &perr) || ctx.Err() != nil {
				return Plan{}, fmt.Errorf("%w: %w", ErrPlanningFailed, err)
			}
			lastErr = err
			continue
		}

		raw, err := llm.ExtractJSON(text)
		if err == nil {
			var p Plan
			if p, err = decodePlan(raw); err == nil {
				return p, nil
			}
		}
		lastErr = err
		e.logger.Warn("invalid plan response", "attempt", attempt+1, "error", err)
	}
	return Plan{}, fmt.Errorf("%w after %d attempt(s): %v", ErrPlanningFailed, e.cfg.MaxPlanRetries+1, lastErr)
}

func (e *Engine) act(ctx context.Context, iteration int, action Action) (string, error) {
	e.emit(Event{Type: EventActionStart, Iteration: iteration, Action: &action})
	start := time.Now()
	result, execErr := e.executors.Execute(ctx, action)
	d := time.Since(start)

	observations := stringify(result)
	detail := &models.ActionDetail{
		ToolCall:     &models.ToolCall{Type: action.Type, Payload: action.Payload},
		Observations: observations,
		Duration:     d,
	}
	content := fmt.Sprintf("executed %s", action.Type)
	if execErr != nil {
		detail.Error = execErr.Error()
		content = fmt.Sprintf("%s failed: %v", action.Type, execErr)
	}
	e.record(models.Step{Type: models.StepAction, Content: content, Action: detail})
	e.cctx.Record(action, observations, execErr)

	if execErr != nil {
		e.logger.Warn("action failed", "type", action.Type, "duration", d, "error", execErr)
		e.emit(Event{Type: EventActionError, Iteration: iteration, Action: &action, Err: execErr, Duration: d})
		return "", execErr
	}
	e.logger.Debug("action complete", "type", action.Type, "duration", d)
	e.emit(Event{Type: EventActionComplete, Iteration: iteration, Action: &action, Result: result, Duration: d})
	return observations, nil
}

func (e *Engine) verify(ctx context.Context, query, lastResult string) (Verification, error) {
	text, err := e.llm.Complete(ctx, verifyPrompt(query, e.ledger.Steps(), lastResult))
	if err != nil {
		return Verification{}, fmt.Errorf("verification request: %w", err)
	}
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return Verification{}, fmt.Errorf("%w: %v", ErrVerificationParse, err)
	}
	v, err := decodeVerification(raw)
	if err != nil {
		return Verification{}, fmt.Errorf("%w: %v", ErrVerificationParse, err)
	}
	return v, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
