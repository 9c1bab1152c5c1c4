package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/cortex/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound is returned by MemoryStore for unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotClaimable is returned by MemoryStore when a task is not pending.
	ErrTaskNotClaimable = errors.New("task not claimable")
)

// TaskStore persists scheduled tasks. Each method is atomic for one task.
type TaskStore interface {
	CreateTask(ctx context.Context, ownerID, handlerName, data string, nextRunAt time.Time, interval time.Duration) (string, error)
	GetTask(ctx context.Context, id string) (models.ScheduledTask, error)
	ListTasks(ctx context.Context, status models.TaskStatus) ([]models.ScheduledTask, error)
	FindDueTasks(ctx context.Context, now time.Time) ([]models.ScheduledTask, error)
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, runErr error) error
	UpdateNextRun(ctx context.Context, id string, next time.Time, runErr error) error
	RecoverStale(ctx context.Context, olderThan time.Time) (int, error)
}

// MemoryStore is an in-memory TaskStore for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*models.ScheduledTask
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.ScheduledTask), now: time.Now}
}

// CreateTask implements TaskStore.
func (m *MemoryStore) CreateTask(ctx context.Context, ownerID, handlerName, data string, nextRunAt time.Time, interval time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	t := &models.ScheduledTask{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		HandlerName: handlerName,
		TaskData:    data,
		NextRunAt:   nextRunAt.UTC(),
		Interval:    interval,
		Status:      models.TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.tasks[t.ID] = t
	return t.ID, nil
}

// GetTask implements TaskStore.
func (m *MemoryStore) GetTask(ctx context.Context, id string) (models.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.ScheduledTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *t, nil
}

// ListTasks implements TaskStore.
func (m *MemoryStore) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.ScheduledTask, error) {
	return m.collect(func(t *models.ScheduledTask) bool {
		return status == "" || t.Status == status
	}, func(a, b models.ScheduledTask) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}), nil
}

// FindDueTasks implements TaskStore.
func (m *MemoryStore) FindDueTasks(ctx context.Context, now time.Time) ([]models.ScheduledTask, error) {
	return m.collect(func(t *models.ScheduledTask) bool {
		return t.Status == models.TaskStatusPending && !t.NextRunAt.After(now)
	}, func(a, b models.ScheduledTask) bool {
		return a.NextRunAt.Before(b.NextRunAt)
	}), nil
}

func (m *MemoryStore) collect(keep func(*models.ScheduledTask) bool, less func(a, b models.ScheduledTask) bool) []models.ScheduledTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScheduledTask
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// MarkRunning implements TaskStore.
func (m *MemoryStore) MarkRunning(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.TaskStatusPending {
		return fmt.Errorf("%w: %s", ErrTaskNotClaimable, id)
	}
	t.Status = models.TaskStatusRunning
	t.UpdatedAt = m.now().UTC()
	return nil
}

// MarkCompleted implements TaskStore.
func (m *MemoryStore) MarkCompleted(ctx context.Context, id string, runErr error) error {
	return m.finish(id, func(t *models.ScheduledTask) {
		t.Status = models.TaskStatusCompleted
	}, runErr)
}

// UpdateNextRun implements TaskStore.
func (m *MemoryStore) UpdateNextRun(ctx context.Context, id string, next time.Time, runErr error) error {
	return m.finish(id, func(t *models.ScheduledTask) {
		t.Status = models.TaskStatusPending
		t.NextRunAt = next.UTC()
	}, runErr)
}

func (m *MemoryStore) finish(id string, apply func(*models.ScheduledTask), runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	apply(t)
	t.RunCount++
	t.LastError = ""
	if runErr != nil {
		t.LastError = runErr.Error()
	}
	t.UpdatedAt = m.now().UTC()
	return nil
}

// RecoverStale implements TaskStore.
func (m *MemoryStore) RecoverStale(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.Status == models.TaskStatusRunning && t.UpdatedAt.Before(olderThan) {
			t.Status = models.TaskStatusPending
			t.UpdatedAt = m.now().UTC()
			n++
		}
	}
	return n, nil
}
