// Package ledger provides the ordered, append-mostly log of reasoning steps
// recorded during one think session.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
	"github.com/oklog/ulid/v2"
)

// Mutation kinds passed to a Mirror.
const (
	OpAdd    = "add"
	OpInsert = "insert"
	OpUpdate = "update"
	OpRemove = "remove"
)

// mirrorTimeout bounds each mirror write so a slow sink cannot stall the ledger.
const mirrorTimeout = 2 * time.Second

// Mirror receives a copy of every ledger mutation for offline audit.
type Mirror interface {
	Append(ctx context.Context, trigger, op string, step models.Step) error
}

// StepPatch describes a partial step update. Nil fields are left unchanged.
// Type is accepted for symmetry with Step but is never applied.
type StepPatch struct {
	Type     *models.StepType
	Content  *string
	Tags     []string
	Meta     map[string]string
	Action   *models.ActionDetail
	Planning *models.PlanningDetail
	System   *models.SystemDetail
	Task     *models.TaskDetail
}

// Ledger is a concurrency-safe ordered list of steps.
type Ledger struct {
	mu      sync.RWMutex
	steps   []models.Step
	logger  *slog.Logger
	mirror  Mirror
	trigger string
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMirror mirrors every mutation to m under the given trigger label.
func WithMirror(m Mirror, trigger string) Option {
	return func(l *Ledger) {
		l.mirror = m
		l.trigger = trigger
	}
}

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logging.Component(logger, "ledger")
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		logger: logging.Component(nil, "ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) newStep(content string, typ models.StepType, tags []string, meta map[string]string) models.Step {
	return models.Step{
		ID:        ulid.Make().String(),
		Type:      typ,
		Content:   content,
		Timestamp: l.now().UTC(),
		Tags:      dedupe(tags),
		Meta:      copyMeta(meta),
	}
}

// Add appends a step of the given type.
func (l *Ledger) Add(content string, typ models.StepType, tags []string, meta map[string]string) models.Step {
	return l.AddStep(l.newStep(content, typ, tags, meta))
}

// AddStep appends a prepared step, assigning a fresh ID and timestamp.
// Detail pointers on s are kept, which lets callers attach typed payloads.
func (l *Ledger) AddStep(s models.Step) models.Step {
	fresh := l.newStep(s.Content, s.Type, s.Tags, s.Meta)
	fresh.Action, fresh.Planning, fresh.System, fresh.Task = s.Action, s.Planning, s.System, s.Task

	l.mu.Lock()
	l.steps = append(l.steps, fresh)
	l.mu.Unlock()

	out := fresh.Clone()
	l.mirrorOp(OpAdd, out)
	return out
}

// Insert places a system step at index, shifting later steps.
// index must be within [0, Len()].
func (l *Ledger) Insert(index int, content string, tags []string, meta map[string]string) (models.Step, error) {
	l.mu.Lock()
	if index < 0 || index > len(l.steps) {
		n := len(l.steps)
		l.mu.Unlock()
		return models.Step{}, fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, index, n)
	}
	step := l.newStep(content, models.StepSystem, tags, meta)
	l.steps = append(l.steps, models.Step{})
	copy(l.steps[index+1:], l.steps[index:])
	l.steps[index] = step
	l.mu.Unlock()

	out := step.Clone()
	l.mirrorOp(OpInsert, out)
	return out, nil
}

// UpdateContent replaces a step's content. Unknown IDs are logged and ignored.
func (l *Ledger) UpdateContent(id, content string) {
	if _, err := l.Update(id, StepPatch{Content: &content}); err != nil {
		l.logger.Warn("update content on unknown step", "step_id", id)
	}
}

// Update applies patch to the step with id. The step type is preserved
// and the timestamp refreshed.
func (l *Ledger) Update(id string, patch StepPatch) (models.Step, error) {
	l.mu.Lock()
	idx := l.indexLocked(id)
	if idx < 0 {
		l.mu.Unlock()
		return models.Step{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s := &l.steps[idx]
	if patch.Type != nil && *patch.Type != s.Type {
		l.logger.Warn("ignoring step type change", "step_id", id, "type", s.Type, "requested", *patch.Type)
	}
	if patch.Content != nil {
		s.Content = *patch.Content
	}
	if patch.Tags != nil {
		s.Tags = dedupe(patch.Tags)
	}
	if patch.Meta != nil {
		if s.Meta == nil {
			s.Meta = make(map[string]string, len(patch.Meta))
		}
		for k, v := range patch.Meta {
			s.Meta[k] = v
		}
	}
	switch s.Type {
	case models.StepAction:
		if patch.Action != nil {
			a := *patch.Action
			s.Action = &a
		}
	case models.StepPlanning:
		if patch.Planning != nil {
			p := *patch.Planning
			s.Planning = &p
		}
	case models.StepSystem:
		if patch.System != nil {
			sys := *patch.System
			s.System = &sys
		}
	case models.StepTask:
		if patch.Task != nil {
			t := *patch.Task
			s.Task = &t
		}
	}
	s.Timestamp = l.now().UTC()
	out := s.Clone()
	l.mu.Unlock()

	l.mirrorOp(OpUpdate, out)
	return out, nil
}

// Remove deletes the step with id.
func (l *Ledger) Remove(id string) error {
	l.mu.Lock()
	idx := l.indexLocked(id)
	if idx < 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := l.steps[idx]
	l.steps = append(l.steps[:idx], l.steps[idx+1:]...)
	l.mu.Unlock()

	l.mirrorOp(OpRemove, removed)
	return nil
}

// Steps returns a copy of all steps in order.
func (l *Ledger) Steps() []models.Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSteps(l.steps)
}

// Last returns a copy of the final n steps.
func (l *Ledger) Last(n int) []models.Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(l.steps) {
		n = len(l.steps)
	}
	return cloneSteps(l.steps[len(l.steps)-n:])
}

// Step looks up a step by ID.
func (l *Ledger) Step(id string) (models.Step, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.indexLocked(id)
	if idx < 0 {
		return models.Step{}, false
	}
	return l.steps[idx].Clone(), true
}

// Len returns the number of steps.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.steps)
}

func (l *Ledger) indexLocked(id string) int {
	for i := range l.steps {
		if l.steps[i].ID == id {
			return i
		}
	}
	return -1
}

// mirrorOp forwards a mutation to the mirror. Failures never reach the caller.
func (l *Ledger) mirrorOp(op string, step models.Step) {
	if l.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("context log mirror panicked", "op", op, "step_id", step.ID, "panic", r)
		}
	}()
	if err := l.mirror.Append(ctx, l.trigger, op, step); err != nil {
		l.logger.Warn("context log mirror failed", "op", op, "step_id", step.ID, "error", err)
	}
}

func cloneSteps(in []models.Step) []models.Step {
	out := make([]models.Step, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
