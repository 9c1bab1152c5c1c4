// Package goals tracks goals across planning horizons and computes which of
// them are ready to run based on their dependencies.
package goals

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
	"github.com/google/uuid"
)

// Spec describes a goal to add. ID, status and timestamps are assigned by the manager.
type Spec struct {
	Horizon         models.Horizon
	Description     string
	Priority        int
	Dependencies    []string
	ParentGoal      string
	SuccessCriteria []string
}

// transitions lists the stored statuses each status may move to.
var transitions = map[models.GoalStatus][]models.GoalStatus{
	models.GoalPending: {models.GoalActive, models.GoalFailed},
	models.GoalActive:  {models.GoalCompleted, models.GoalFailed, models.GoalPending},
	models.GoalFailed:  {models.GoalPending},
}

// Manager stores goals and answers readiness queries. It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	goals  map[string]*models.Goal
	order  []string
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates an empty goal manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		goals:  make(map[string]*models.Goal),
		logger: logging.Component(logger, "goals"),
		now:    time.Now,
	}
}

// Add validates spec and stores a new pending goal.
// A goal whose dependencies would close a cycle is rejected with ErrCycle.
// Dependencies on unknown goals are accepted and keep the goal blocked.
func (m *Manager) Add(spec Spec) (models.Goal, error) {
	if strings.TrimSpace(spec.Description) == "" {
		return models.Goal{}, fmt.Errorf("%w: description is required", ErrInvalidGoal)
	}
	if spec.Horizon == "" {
		spec.Horizon = models.HorizonShort
	}
	if !spec.Horizon.Valid() {
		return models.Goal{}, fmt.Errorf("%w: unknown horizon %q", ErrInvalidGoal, spec.Horizon)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g := &models.Goal{
		ID:              uuid.New().String(),
		Horizon:         spec.Horizon,
		Description:     spec.Description,
		Priority:        spec.Priority,
		Status:          models.GoalPending,
		Dependencies:    uniqueIDs(spec.Dependencies),
		ParentGoal:      spec.ParentGoal,
		SuccessCriteria: append([]string(nil), spec.SuccessCriteria...),
		CreatedAt:       m.now().UTC(),
	}
	if spec.ParentGoal != "" {
		if _, ok := m.goals[spec.ParentGoal]; !ok {
			return models.Goal{}, fmt.Errorf("%w: parent %s", ErrNotFound, spec.ParentGoal)
		}
	}
	if path := m.cyclePathLocked(g.ID, g.Dependencies); path != nil {
		return models.Goal{}, fmt.Errorf("%w: %s", ErrCycle, strings.Join(path, " -> "))
	}

	m.goals[g.ID] = g
	m.order = append(m.order, g.ID)
	if parent, ok := m.goals[g.ParentGoal]; ok {
		parent.Subgoals = append(parent.Subgoals, g.ID)
	}
	m.logger.Debug("goal added", "goal_id", g.ID, "horizon", g.Horizon, "priority", g.Priority)
	return g.Clone(), nil
}

// AddDependency makes id depend on dependsOn, rejecting cycles.
func (m *Manager) AddDependency(id, dependsOn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.goals[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, d := range g.Dependencies {
		if d == dependsOn {
			return nil
		}
	}
	deps := append(append([]string(nil), g.Dependencies...), dependsOn)
	if path := m.cyclePathLocked(id, deps); path != nil {
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(path, " -> "))
	}
	g.Dependencies = deps
	return nil
}

// UpdateStatus moves a goal to status. A goal with unfinished dependencies
// cannot become active (ErrBlocked). CompletedAt is set only on the first
// transition into completed.
func (m *Manager) UpdateStatus(id string, status models.GoalStatus) (models.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.goals[id]
	if !ok {
		return models.Goal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if status == models.GoalReady || status == models.GoalBlocked {
		return models.Goal{}, fmt.Errorf("%w: %s is derived and cannot be stored", ErrInvalidTransition, status)
	}
	if g.Status == status {
		return g.Clone(), nil
	}
	if !allowed(g.Status, status) {
		return models.Goal{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, status)
	}
	if status == models.GoalActive {
		if blocking := m.blockingLocked(g); len(blocking) > 0 {
			return models.Goal{}, fmt.Errorf("%w: %s waits on %s", ErrBlocked, id, strings.Join(blocking, ", "))
		}
	}

	g.Status = status
	if status == models.GoalCompleted && g.CompletedAt == nil {
		t := m.now().UTC()
		g.CompletedAt = &t
	}
	m.logger.Info("goal status updated", "goal_id", id, "status", status)
	return g.Clone(), nil
}

// Get returns the goal with id.
func (m *Manager) Get(id string) (models.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[id]
	if !ok {
		return models.Goal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return g.Clone(), nil
}

// All returns every goal in insertion order.
func (m *Manager) All() []models.Goal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Goal, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.goals[id].Clone())
	}
	return out
}

// Active returns active goals, optionally limited to horizons, by descending priority.
func (m *Manager) Active(horizons ...models.Horizon) []models.Goal {
	return m.filter(func(g *models.Goal) bool {
		return g.Status == models.GoalActive && inHorizon(g.Horizon, horizons)
	})
}

// Pending returns pending goals, optionally limited to horizons, by descending priority.
func (m *Manager) Pending(horizons ...models.Horizon) []models.Goal {
	return m.filter(func(g *models.Goal) bool {
		return g.Status == models.GoalPending && inHorizon(g.Horizon, horizons)
	})
}

// Ready returns pending goals whose dependencies are all completed.
func (m *Manager) Ready() []models.Goal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(g *models.Goal) bool {
		return g.Status == models.GoalPending && len(m.blockingLocked(g)) == 0
	})
}

// Blocking returns the IDs of id's dependencies that are not yet completed.
func (m *Manager) Blocking(id string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.blockingLocked(g), nil
}

// IsBlocked reports whether id has dependencies that are not completed.
func (m *Manager) IsBlocked(id string) (bool, error) {
	blocking, err := m.Blocking(id)
	if err != nil {
		return false, err
	}
	return len(blocking) > 0, nil
}

// View returns the status a caller should see: ready or blocked for pending
// goals, otherwise the stored status.
func (m *Manager) View(id string) (models.GoalStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if g.Status != models.GoalPending {
		return g.Status, nil
	}
	if len(m.blockingLocked(g)) > 0 {
		return models.GoalBlocked, nil
	}
	return models.GoalReady, nil
}

// Children returns the direct subgoals of id.
func (m *Manager) Children(id string) ([]models.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := make([]models.Goal, 0, len(g.Subgoals))
	for _, sid := range g.Subgoals {
		if c, ok := m.goals[sid]; ok {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// Remove deletes a goal. Subgoals are kept and lose their parent link.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.goals[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, sid := range g.Subgoals {
		if c, ok := m.goals[sid]; ok {
			c.ParentGoal = ""
		}
	}
	if parent, ok := m.goals[g.ParentGoal]; ok {
		parent.Subgoals = removeID(parent.Subgoals, id)
	}
	delete(m.goals, id)
	m.order = removeID(m.order, id)
	return nil
}

// DetectCycles reports every dependency cycle in the current graph.
// Cycles can only appear through Import of externally produced data.
func (m *Manager) DetectCycles() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(m.goals))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		state[id] = visiting
		stack = append(stack, id)
		if g, ok := m.goals[id]; ok {
			for _, dep := range g.Dependencies {
				if _, known := m.goals[dep]; !known {
					continue
				}
				switch state[dep] {
				case unvisited:
					visit(dep)
				case visiting:
					for i := len(stack) - 1; i >= 0; i-- {
						if stack[i] == dep {
							cycle := append(append([]string(nil), stack[i:]...), dep)
							cycles = append(cycles, cycle)
							break
						}
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, id := range m.order {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return cycles
}

// Export returns a snapshot of every goal for persistence.
func (m *Manager) Export() []models.Goal {
	return m.All()
}

// Import replaces the manager's contents with goals, preserving their order.
func (m *Manager) Import(goals []models.Goal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals = make(map[string]*models.Goal, len(goals))
	m.order = m.order[:0]
	for _, g := range goals {
		c := g.Clone()
		m.goals[c.ID] = &c
		m.order = append(m.order, c.ID)
	}
	if n := len(m.order); n > 0 {
		m.logger.Debug("goals imported", "count", n)
	}
}

func (m *Manager) filter(keep func(*models.Goal) bool) []models.Goal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(keep)
}

func (m *Manager) filterLocked(keep func(*models.Goal) bool) []models.Goal {
	out := make([]models.Goal, 0)
	for _, id := range m.order {
		g := m.goals[id]
		if keep(g) {
			out = append(out, g.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func (m *Manager) blockingLocked(g *models.Goal) []string {
	var blocking []string
	for _, dep := range g.Dependencies {
		d, ok := m.goals[dep]
		if !ok || d.Status != models.GoalCompleted {
			blocking = append(blocking, dep)
		}
	}
	return blocking
}

// cyclePathLocked returns a dependency path leading from deps back to id,
// or nil when adding those edges keeps the graph acyclic.
func (m *Manager) cyclePathLocked(id string, deps []string) []string {
	visited := make(map[string]bool)
	var path []string

	var walk func(cur string) bool
	walk = func(cur string) bool {
		if cur == id {
			path = append(path, cur)
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		g, ok := m.goals[cur]
		if !ok {
			return false
		}
		path = append(path, cur)
		for _, next := range g.Dependencies {
			if walk(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	for _, d := range deps {
		path = path[:0]
		if walk(d) {
			return append([]string{id}, path...)
		}
	}
	return nil
}

func allowed(from, to models.GoalStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func inHorizon(h models.Horizon, horizons []models.Horizon) bool {
	if len(horizons) == 0 {
		return true
	}
	for _, x := range horizons {
		if x == h {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
