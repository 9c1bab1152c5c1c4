// Package controlplane provides the HTTP API and service layer for cortex.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/cortex/internal/goals"
	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/memory"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/orchestrator"
	"github.com/fentz26/cortex/internal/router"
	"github.com/fentz26/cortex/internal/scheduler"
	"github.com/fentz26/cortex/internal/think"
)

// Pinger reports storage health. *store.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ContextLogReader reads mirrored ledger entries. *store.Store implements it.
type ContextLogReader interface {
	ContextLog(ctx context.Context, trigger string, limit int) ([]models.ContextLogEntry, error)
}

// Deps are the components a Service exposes. Optional ones may be nil; the
// matching endpoints then answer ErrUnavailable.
type Deps struct {
	Goals     *goals.Manager
	GoalStore orchestrator.GoalStore
	Scheduler *scheduler.Scheduler
	Tasks     scheduler.TaskStore
	Router    *router.Router

	Sessions      *think.Sessions
	Client        think.Completer
	Executors     *think.Executors
	ThinkOptions  []think.Option
	MaxIterations int

	Orchestrator *orchestrator.Orchestrator
	Memory       memory.Memory
	ContextLog   ContextLogReader
	Health       Pinger
}

// Service provides the control plane business logic.
type Service struct {
	deps   Deps
	logger *slog.Logger
}

// NewService creates a new control plane service.
func NewService(deps Deps, logger *slog.Logger) *Service {
	if deps.Goals == nil {
		deps.Goals = goals.NewManager(logger)
	}
	if deps.Sessions == nil {
		deps.Sessions = think.NewSessions(nil)
	}
	return &Service{deps: deps, logger: logging.Component(logger, "controlplane")}
}

// --- Task Operations ---

// ScheduleTask persists a deferred or recurring handler invocation.
func (s *Service) ScheduleTask(ctx context.Context, owner, handler string, data any, interval time.Duration) (models.ScheduledTask, error) {
	if s.deps.Scheduler == nil || s.deps.Tasks == nil {
		return models.ScheduledTask{}, fmt.Errorf("%w: scheduler", ErrUnavailable)
	}
	if strings.TrimSpace(handler) == "" {
		return models.ScheduledTask{}, fmt.Errorf("%w: handler is required", ErrBadRequest)
	}
	if interval < 0 {
		return models.ScheduledTask{}, fmt.Errorf("%w: interval cannot be negative", ErrBadRequest)
	}
	id, err := s.deps.Scheduler.ScheduleTask(ctx, owner, handler, data, interval)
	if err != nil {
		return models.ScheduledTask{}, err
	}
	return s.deps.Tasks.GetTask(ctx, id)
}

// ListTasks returns tasks, optionally filtered by status.
func (s *Service) ListTasks(ctx context.Context, status string) ([]models.ScheduledTask, error) {
	if s.deps.Tasks == nil {
		return nil, fmt.Errorf("%w: scheduler", ErrUnavailable)
	}
	switch models.TaskStatus(status) {
	case "", models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusCompleted:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, status)
	}
	return s.deps.Tasks.ListTasks(ctx, models.TaskStatus(status))
}

// GetTask returns one task.
func (s *Service) GetTask(ctx context.Context, id string) (models.ScheduledTask, error) {
	if s.deps.Tasks == nil {
		return models.ScheduledTask{}, fmt.Errorf("%w: scheduler", ErrUnavailable)
	}
	return s.deps.Tasks.GetTask(ctx, id)
}

// PollTasks runs one scheduler cycle immediately.
func (s *Service) PollTasks(ctx context.Context) (scheduler.Stats, error) {
	if s.deps.Scheduler == nil {
		return scheduler.Stats{}, fmt.Errorf("%w: scheduler", ErrUnavailable)
	}
	if err := s.deps.Scheduler.PollTasks(ctx); err != nil {
		return scheduler.Stats{}, err
	}
	return s.deps.Scheduler.GetStats(), nil
}

// SchedulerStats returns the scheduler counters.
func (s *Service) SchedulerStats() (scheduler.Stats, error) {
	if s.deps.Scheduler == nil {
		return scheduler.Stats{}, fmt.Errorf("%w: scheduler", ErrUnavailable)
	}
	return s.deps.Scheduler.GetStats(), nil
}

// Handlers lists the registered router handlers.
func (s *Service) Handlers() []router.Info {
	if s.deps.Router == nil {
		return []router.Info{}
	}
	return s.deps.Router.List()
}

// --- Goal Operations ---

// AddGoal adds a goal and persists the goal set.
func (s *Service) AddGoal(ctx context.Context, spec goals.Spec) (models.Goal, error) {
	g, err := s.deps.Goals.Add(spec)
	if err != nil {
		return models.Goal{}, err
	}
	if err := s.saveGoals(ctx); err != nil {
		return g, err
	}
	return g, nil
}

// ListGoals returns every goal in insertion order.
func (s *Service) ListGoals() []models.Goal {
	return s.deps.Goals.All()
}

// ReadyGoals returns goals whose dependencies are satisfied.
func (s *Service) ReadyGoals() []models.Goal {
	return s.deps.Goals.Ready()
}

// GetGoal returns a goal with its derived view.
func (s *Service) GetGoal(id string) (models.Goal, models.GoalStatus, error) {
	g, err := s.deps.Goals.Get(id)
	if err != nil {
		return models.Goal{}, "", err
	}
	view, err := s.deps.Goals.View(id)
	return g, view, err
}

// UpdateGoalStatus moves a goal to status and persists the goal set.
func (s *Service) UpdateGoalStatus(ctx context.Context, id string, status models.GoalStatus) (models.Goal, error) {
	g, err := s.deps.Goals.UpdateStatus(id, status)
	if err != nil {
		return models.Goal{}, err
	}
	if err := s.saveGoals(ctx); err != nil {
		return g, err
	}
	return g, nil
}

// RunGoals drives ready goals through think sessions.
func (s *Service) RunGoals(ctx context.Context) ([]orchestrator.Outcome, error) {
	if s.deps.Orchestrator == nil {
		return nil, fmt.Errorf("%w: orchestrator", ErrUnavailable)
	}
	return s.deps.Orchestrator.Run(ctx)
}

func (s *Service) saveGoals(ctx context.Context) error {
	if s.deps.GoalStore == nil {
		return nil
	}
	if err := s.deps.GoalStore.SaveGoals(ctx, s.deps.Goals.Export()); err != nil {
		return fmt.Errorf("save goals: %w", err)
	}
	return nil
}

// --- Think Operations ---

// ThinkRequest starts a think session.
type ThinkRequest struct {
	Query            string `json:"query"`
	MaxIterations    int    `json:"max_iterations,omitempty"`
	WorldState       string `json:"world_state,omitempty"`
	QueriesAvailable string `json:"queries_available,omitempty"`
	AvailableActions string `json:"available_actions,omitempty"`
}

// Think runs a session to the end and returns it. A session that fails is
// returned together with its error.
func (s *Service) Think(ctx context.Context, req ThinkRequest) (*think.Session, error) {
	if s.deps.Client == nil || s.deps.Executors == nil {
		return nil, fmt.Errorf("%w: llm", ErrUnavailable)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrBadRequest)
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = s.deps.MaxIterations
	}
	c := think.NewContext(req.WorldState, req.QueriesAvailable, req.AvailableActions)
	session, err := s.deps.Sessions.Run(ctx, s.deps.Client, s.deps.Executors, req.Query, maxIter, c, s.deps.ThinkOptions...)
	if err != nil {
		s.logger.Warn("think session failed", "session_id", session.ID, "error", err)
	}
	return session, err
}

// Sessions lists think sessions, newest first.
func (s *Service) Sessions() []think.SessionInfo {
	return s.deps.Sessions.List()
}

// Session returns one think session.
func (s *Service) Session(id string) (*think.Session, error) {
	return s.deps.Sessions.Get(id)
}

// RemoveSession drops a session from memory. Its context log is kept.
func (s *Service) RemoveSession(id string) error {
	return s.deps.Sessions.Remove(id)
}

// SessionLog returns the durable context log of a session.
func (s *Service) SessionLog(ctx context.Context, id string, limit int) ([]models.ContextLogEntry, error) {
	if s.deps.ContextLog == nil {
		return nil, fmt.Errorf("%w: context log", ErrUnavailable)
	}
	return s.deps.ContextLog.ContextLog(ctx, id, limit)
}

// --- Memory Operations ---

// AddMemory stores content in semantic memory.
func (s *Service) AddMemory(ctx context.Context, content string, meta map[string]string) (string, error) {
	if s.deps.Memory == nil {
		return "", fmt.Errorf("%w: memory", ErrUnavailable)
	}
	return s.deps.Memory.Store(ctx, content, meta)
}

// SearchMemory finds memories similar to query.
func (s *Service) SearchMemory(ctx context.Context, query string, limit int, meta map[string]string) ([]memory.Match, error) {
	if s.deps.Memory == nil {
		return nil, fmt.Errorf("%w: memory", ErrUnavailable)
	}
	return s.deps.Memory.FindSimilar(ctx, query, limit, meta)
}

// --- Health ---

// Health checks storage.
func (s *Service) Health(ctx context.Context) error {
	if s.deps.Health == nil {
		return nil
	}
	return s.deps.Health.Ping(ctx)
}
