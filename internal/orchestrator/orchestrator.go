// Package orchestrator drives ready goals through think sessions until no
// goal is ready.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fentz26/cortex/internal/goals"
	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/think"
)

// ErrGoalFailed is returned when a goal's session does not complete and
// the policy stops on errors.
var ErrGoalFailed = errors.New("goal failed")

// Policy controls how a run reacts to failed goals.
type Policy struct {
	// ContinueOnError keeps running other ready goals after one fails.
	ContinueOnError bool
}

// GoalStore persists goal snapshots. *store.Store implements it.
type GoalStore interface {
	SaveGoals(ctx context.Context, goals []models.Goal) error
	LoadGoals(ctx context.Context) ([]models.Goal, error)
}

// Outcome records how one goal ended.
type Outcome struct {
	GoalID    string              `json:"goal_id"`
	SessionID string              `json:"session_id,omitempty"`
	Status    models.GoalStatus   `json:"status"`
	Session   think.SessionStatus `json:"session_status,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Config configures an Orchestrator.
type Config struct {
	Goals     *goals.Manager
	Sessions  *think.Sessions
	Client    think.Completer
	Executors *think.Executors
	// Store is optional; when set, goals are saved after every transition.
	Store         GoalStore
	Policy        Policy
	MaxIterations int
	// Options are passed to every think engine.
	Options []think.Option
	Logger  *slog.Logger
}

// Orchestrator runs goals one at a time in priority order.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Goals == nil || cfg.Client == nil || cfg.Executors == nil {
		return nil, fmt.Errorf("orchestrator requires goals, client and executors")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = think.NewSessions(nil)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = think.DefaultConfig().MaxIterations
	}
	return &Orchestrator{cfg: cfg, logger: logging.Component(cfg.Logger, "orchestrator")}, nil
}

// Restore loads persisted goals into the manager.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	if o.cfg.Store == nil {
		return 0, nil
	}
	saved, err := o.cfg.Store.LoadGoals(ctx)
	if err != nil {
		return 0, fmt.Errorf("load goals: %w", err)
	}
	o.cfg.Goals.Import(saved)
	return len(saved), nil
}

// Run executes ready goals, highest priority first, re-evaluating
// readiness after every goal so completed dependencies unblock their
// dependents. It returns when nothing is ready or ctx ends.
func (o *Orchestrator) Run(ctx context.Context) ([]Outcome, error) {
	var outcomes []Outcome
	attempted := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		next, ok := o.nextReady(attempted)
		if !ok {
			o.logger.Info("no ready goals", "executed", len(outcomes))
			return outcomes, nil
		}
		attempted[next.ID] = true

		out, err := o.RunGoal(ctx, next)
		outcomes = append(outcomes, out)
		if err != nil && !o.cfg.Policy.ContinueOnError {
			return outcomes, err
		}
	}
}

func (o *Orchestrator) nextReady(attempted map[string]bool) (models.Goal, bool) {
	for _, g := range o.cfg.Goals.Ready() {
		if !attempted[g.ID] {
			return g, true
		}
	}
	return models.Goal{}, false
}

// RunGoal runs one goal through a think session and records the result.
// A session that does not complete marks the goal failed.
func (o *Orchestrator) RunGoal(ctx context.Context, g models.Goal) (Outcome, error) {
	log := o.logger.With("goal_id", g.ID, "priority", g.Priority)
	out := Outcome{GoalID: g.ID}

	if _, err := o.transition(ctx, g.ID, models.GoalActive); err != nil {
		out.Status = g.Status
		out.Error = err.Error()
		return out, err
	}
	log.Info("goal started", "description", g.Description)

	session, runErr := o.cfg.Sessions.Run(ctx, o.cfg.Client, o.cfg.Executors, Query(g), o.cfg.MaxIterations, nil, o.cfg.Options...)
	if session != nil {
		out.SessionID = session.ID
		out.Session = session.Status()
	}

	final := models.GoalCompleted
	if runErr != nil || out.Session != think.SessionCompleted {
		final = models.GoalFailed
		if runErr == nil {
			runErr = fmt.Errorf("%w: %s: session ended %s", ErrGoalFailed, g.ID, out.Session)
		} else {
			runErr = fmt.Errorf("%w: %s: %w", ErrGoalFailed, g.ID, runErr)
		}
		out.Error = runErr.Error()
	}

	// the outcome is recorded even when ctx was cancelled mid-session
	if _, err := o.transition(context.WithoutCancel(ctx), g.ID, final); err != nil {
		return out, errors.Join(runErr, err)
	}
	out.Status = final
	if final == models.GoalFailed {
		log.Warn("goal failed", "session_status", out.Session, "error", runErr)
	} else {
		log.Info("goal completed", "session_id", out.SessionID)
	}
	return out, runErr
}

func (o *Orchestrator) transition(ctx context.Context, id string, status models.GoalStatus) (models.Goal, error) {
	g, err := o.cfg.Goals.UpdateStatus(id, status)
	if err != nil {
		return g, err
	}
	if o.cfg.Store != nil {
		if err := o.cfg.Store.SaveGoals(ctx, o.cfg.Goals.Export()); err != nil {
			return g, fmt.Errorf("save goals: %w", err)
		}
	}
	return g, nil
}

// Query builds the think query for a goal.
func Query(g models.Goal) string {
	if len(g.SuccessCriteria) == 0 {
		return g.Description
	}
	var b strings.Builder
	b.WriteString(g.Description)
	b.WriteString("\n\nSuccess criteria:")
	for _, c := range g.SuccessCriteria {
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	return b.String()
}
