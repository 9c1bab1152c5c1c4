package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/router"
	"github.com/fentz26/cortex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ TaskStore = (*store.Store)(nil)

func newTestScheduler(t *testing.T, cfg *Config) (*Scheduler, *MemoryStore, *router.Router) {
	t.Helper()
	ms := NewMemoryStore()
	r := router.New(logging.Discard())
	sch := New(ms, r, cfg, logging.Discard())
	t.Cleanup(sch.Stop)
	return sch, ms, r
}

func registerAction(t *testing.T, r *router.Router, name string, fn router.ExecuteFunc) {
	t.Helper()
	require.NoError(t, r.Register(router.Handler{Name: name, Role: router.RoleAction, Execute: fn}))
}

func TestScheduleTaskValidation(t *testing.T) {
	sch, _, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	_, err := sch.ScheduleTask(ctx, "owner", "", nil, 0)
	assert.Error(t, err)

	_, err = sch.ScheduleTask(ctx, "owner", "h", nil, -time.Second)
	assert.Error(t, err)

	_, err = sch.ScheduleTask(ctx, "owner", "h", func() {}, 0)
	assert.Error(t, err)
}

func TestRecurringTaskRoundTrip(t *testing.T) {
	sch, ms, r := newTestScheduler(t, nil)
	ctx := context.Background()

	var got atomic.Value
	registerAction(t, r, "ping", func(ctx context.Context, content any) (any, error) {
		got.Store(content)
		return nil, nil
	})

	id, err := sch.ScheduleTask(ctx, "agent-1", "ping", map[string]any{"n": 1}, time.Hour)
	require.NoError(t, err)

	task, err := ms.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.WithinDuration(t, time.Now().Add(time.Hour), task.NextRunAt, 5*time.Second)

	// not yet due
	require.NoError(t, sch.PollTasks(ctx))
	assert.Nil(t, got.Load())

	base := time.Now()
	sch.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, sch.PollTasks(ctx))

	assert.Equal(t, map[string]any{"n": float64(1)}, got.Load())
	task, err = ms.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, 1, task.RunCount)
	assert.Empty(t, task.LastError)
	assert.WithinDuration(t, base.Add(3*time.Hour), task.NextRunAt, 5*time.Second)
}

func TestOneShotTaskCompletes(t *testing.T) {
	sch, ms, r := newTestScheduler(t, nil)
	ctx := context.Background()

	var calls atomic.Int32
	registerAction(t, r, "once", func(ctx context.Context, content any) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	id, err := sch.ScheduleTask(ctx, "", "once", nil, 0)
	require.NoError(t, err)

	require.NoError(t, sch.PollTasks(ctx))
	require.NoError(t, sch.PollTasks(ctx))

	assert.Equal(t, int32(1), calls.Load())
	task, err := ms.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 1, task.RunCount)
}

func TestMissingHandlerCompletesTask(t *testing.T) {
	sch, ms, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	id, err := sch.ScheduleTask(ctx, "", "ghost", nil, 0)
	require.NoError(t, err)
	require.NoError(t, sch.PollTasks(ctx))

	task, err := ms.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Contains(t, task.LastError, "handler not found")
	assert.Contains(t, task.LastError, "ghost")
}

func TestMissingHandlerStopsRecurringTask(t *testing.T) {
	sch, ms, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	id, err := sch.ScheduleTask(ctx, "", "ghost", nil, time.Minute)
	require.NoError(t, err)
	sch.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, sch.PollTasks(ctx))

	task, err := ms.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
}

func TestFailedRecurringTaskIsRescheduled(t *testing.T) {
	sch, ms, r := newTestScheduler(t, nil)
	ctx := context.Background()

	registerAction(t, r, "flaky", func(ctx context.Context, content any) (any, error) {
		return nil, errors.New("upstream down")
	})

	id, err := sch.ScheduleTask(ctx, "", "flaky", nil, time.Minute)
	require.NoError(t, err)
	sch.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, sch.PollTasks(ctx))

	task, err := ms.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, "upstream down", task.LastError)
	assert.Equal(t, int64(1), sch.GetStats().Failed)
}

func TestMissingProcessorKeepsRecurringTaskPending(t *testing.T) {
	sch, ms, r := newTestScheduler(t, nil)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, r.Register(router.Handler{
		Name: "tick",
		Role: router.RoleAction,
		Execute: func(ctx context.Context, content any) (any, error) {
			calls.Add(1)
			return "tock", nil
		},
		Processors: []router.ProcessorMapping{{ProcessorName: "gone"}},
	}))

	id, err := sch.ScheduleTask(ctx, "", "tick", nil, time.Second)
	require.NoError(t, err)
	base := time.Now().Add(time.Hour)
	sch.now = func() time.Time { return base }
	require.NoError(t, sch.PollTasks(ctx))

	task, err := ms.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Contains(t, task.LastError, "route result")
	assert.NotContains(t, task.LastError, ErrNoHandler.Error())
	assert.WithinDuration(t, base.Add(time.Second), task.NextRunAt, time.Second)

	// runs again on the next due poll
	sch.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, sch.PollTasks(ctx))
	assert.Equal(t, int32(2), calls.Load())
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	sch, ms, r := newTestScheduler(t, nil)
	ctx := context.Background()

	registerAction(t, r, "boom", func(ctx context.Context, content any) (any, error) {
		panic("kaboom")
	})
	var ran atomic.Bool
	registerAction(t, r, "fine", func(ctx context.Context, content any) (any, error) {
		ran.Store(true)
		return nil, nil
	})

	boomID, err := sch.ScheduleTask(ctx, "", "boom", nil, 0)
	require.NoError(t, err)
	_, err = sch.ScheduleTask(ctx, "", "fine", nil, 0)
	require.NoError(t, err)

	require.NoError(t, sch.PollTasks(ctx))

	assert.True(t, ran.Load())
	task, err := ms.GetTask(ctx, boomID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Contains(t, task.LastError, "kaboom")
}

func TestResultIsRoutedThroughProcessors(t *testing.T) {
	sch, _, r := newTestScheduler(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Register(router.Handler{
		Name: "source",
		Role: router.RoleInput,
		Execute: func(ctx context.Context, content any) (any, error) {
			return "report ready", nil
		},
		Processors: []router.ProcessorMapping{{ProcessorName: "sink"}},
	}))
	got := make(chan any, 1)
	require.NoError(t, r.Register(router.Handler{
		Name: "sink",
		Role: router.RoleOutput,
		Execute: func(ctx context.Context, content any) (any, error) {
			got <- content
			return nil, nil
		},
	}))

	_, err := sch.ScheduleTask(ctx, "", "source", nil, 0)
	require.NoError(t, err)
	require.NoError(t, sch.PollTasks(ctx))

	select {
	case v := <-got:
		assert.Equal(t, "report ready", v)
	default:
		t.Fatal("result was not routed")
	}
}

func TestRecoverStale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleAfter = time.Minute
	sch, ms, _ := newTestScheduler(t, cfg)
	ctx := context.Background()

	id, err := ms.CreateTask(ctx, "", "h", "", time.Now(), 0)
	require.NoError(t, err)
	require.NoError(t, ms.MarkRunning(ctx, id))

	n, err := sch.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sch.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = sch.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := ms.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
}

func TestStopIsIdempotent(t *testing.T) {
	sch, _, _ := newTestScheduler(t, nil)
	sch.Start(10 * time.Millisecond)
	sch.Start(10 * time.Millisecond)
	sch.Stop()
	sch.Stop()
}

func TestStartRunsDueTasks(t *testing.T) {
	sch, _, r := newTestScheduler(t, nil)
	ctx := context.Background()

	done := make(chan struct{})
	registerAction(t, r, "tick", func(ctx context.Context, content any) (any, error) {
		close(done)
		return nil, nil
	})
	_, err := sch.ScheduleTask(ctx, "", "tick", nil, 0)
	require.NoError(t, err)

	sch.Start(10 * time.Millisecond)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestSQLiteStoreIntegration(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "cortex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := router.New(logging.Discard())
	var calls atomic.Int32
	registerAction(t, r, "count", func(ctx context.Context, content any) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	sch := New(s, r, nil, logging.Discard())
	t.Cleanup(sch.Stop)
	ctx := context.Background()

	id, err := sch.ScheduleTask(ctx, "agent", "count", []int{1, 2}, 0)
	require.NoError(t, err)
	require.NoError(t, sch.PollTasks(ctx))

	assert.Equal(t, int32(1), calls.Load())
	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
}
