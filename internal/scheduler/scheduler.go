// Package scheduler runs durable deferred and recurring tasks.
//
// Each poll cycle claims due tasks, executes their handlers through the
// router and then reschedules or completes them. Execution is
// at-least-once: a crash between claiming a task and recording its outcome
// leaves it running, and RecoverStale returns it to pending on the next
// start, so the handler may run again. Handlers that need exactly-once
// effects must carry an idempotency key in their payload.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/router"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrPollInProgress is returned by PollTasks when another cycle is running.
	ErrPollInProgress = errors.New("poll already in progress")
	// ErrNoHandler is recorded on a task whose handler is not registered.
	ErrNoHandler = errors.New("task handler not registered")
)

// Dispatcher executes handlers and routes their results. *router.Router
// implements it.
type Dispatcher interface {
	Get(name string) (router.Handler, bool)
	Execute(ctx context.Context, name string, content any) (any, error)
	Process(ctx context.Context, source string, content any) ([]any, error)
}

// Observer receives task outcomes, typically for metrics.
type Observer interface {
	ObserveTask(handler string, d time.Duration, err error)
	ObservePoll(due int, d time.Duration)
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Active        int   `json:"active"`
	MaxConcurrent int   `json:"max_concurrent"`
	Polls         int64 `json:"polls"`
	SkippedPolls  int64 `json:"skipped_polls"`
	Executed      int64 `json:"executed"`
	Failed        int64 `json:"failed"`
}

// Scheduler polls a TaskStore for due tasks and runs them.
type Scheduler struct {
	store    TaskStore
	router   Dispatcher
	config   *Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	polling atomic.Bool

	mu           sync.Mutex
	active       int
	handlerSlots map[string]chan struct{}
	polls        int64
	skipped      int64
	executed     int64
	failed       int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a new scheduler.
func New(s TaskStore, r Dispatcher, cfg *Config, logger *slog.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:        s,
		router:       r,
		config:       cfg,
		logger:       logging.Component(logger, "scheduler"),
		now:          time.Now,
		handlerSlots: make(map[string]chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetObserver installs an observer for task and poll outcomes.
func (sch *Scheduler) SetObserver(o Observer) {
	sch.observer = o
}

// ScheduleTask persists a pending task that first runs after interval.
// A zero interval schedules a one-shot task that is due immediately.
func (sch *Scheduler) ScheduleTask(ctx context.Context, ownerID, handlerName string, data any, interval time.Duration) (string, error) {
	if handlerName == "" {
		return "", fmt.Errorf("handler name cannot be empty")
	}
	if interval < 0 {
		return "", fmt.Errorf("interval cannot be negative")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode task data: %w", err)
	}
	id, err := sch.store.CreateTask(ctx, ownerID, handlerName, string(payload), sch.now().Add(interval), interval)
	if err != nil {
		return "", err
	}
	sch.logger.Info("task scheduled", "task_id", id, "handler", handlerName, "interval", interval)
	return id, nil
}

// Start begins polling every pollInterval, or Config.PollInterval when
// pollInterval is not positive. Calling Start again has no effect.
func (sch *Scheduler) Start(pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = sch.config.PollInterval
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	sch.startOnce.Do(func() {
		sch.wg.Add(1)
		go sch.schedulerLoop(pollInterval)
		sch.logger.Info("scheduler started", "poll_interval", pollInterval, "max_concurrent", sch.config.MaxConcurrent)
	})
}

// Stop cancels polling and waits for running tasks. It is idempotent.
func (sch *Scheduler) Stop() {
	sch.stopOnce.Do(func() {
		sch.cancel()
		sch.wg.Wait()
		sch.logger.Info("scheduler stopped")
	})
}

// schedulerLoop polls on every tick until the scheduler is stopped.
func (sch *Scheduler) schedulerLoop(interval time.Duration) {
	defer sch.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.safePoll()
		}
	}
}

// safePoll keeps the timer alive whatever a poll cycle does.
func (sch *Scheduler) safePoll() {
	defer func() {
		if r := recover(); r != nil {
			sch.logger.Error("poll cycle panicked", "panic", r)
		}
	}()
	if err := sch.PollTasks(sch.ctx); err != nil && !errors.Is(err, ErrPollInProgress) && !errors.Is(err, context.Canceled) {
		sch.logger.Error("poll cycle failed", "error", err)
	}
}

// RecoverStale returns tasks left running for longer than
// Config.StaleAfter to pending.
func (sch *Scheduler) RecoverStale(ctx context.Context) (int, error) {
	n, err := sch.store.RecoverStale(ctx, sch.now().Add(-sch.config.StaleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		sch.logger.Warn("recovered stale tasks", "count", n)
	}
	return n, nil
}

// PollTasks runs every due task once. Overlapping calls return
// ErrPollInProgress without touching the store. Task failures are logged
// and recorded on the task; only store lookup failures are returned.
func (sch *Scheduler) PollTasks(ctx context.Context) error {
	if !sch.polling.CompareAndSwap(false, true) {
		sch.mu.Lock()
		sch.skipped++
		sch.mu.Unlock()
		sch.logger.Debug("poll skipped, previous cycle still running")
		return ErrPollInProgress
	}
	defer sch.polling.Store(false)

	start := time.Now()
	sch.mu.Lock()
	sch.polls++
	sch.mu.Unlock()

	due, err := sch.store.FindDueTasks(ctx, sch.now())
	if err != nil {
		return fmt.Errorf("find due tasks: %w", err)
	}
	if len(due) > 0 {
		sch.logger.Debug("due tasks found", "count", len(due))
	}

	var g errgroup.Group
	g.SetLimit(sch.config.MaxConcurrent)
	for _, task := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			sch.runTask(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	if sch.observer != nil {
		sch.observer.ObservePoll(len(due), time.Since(start))
	}
	return ctx.Err()
}

func (sch *Scheduler) runTask(ctx context.Context, task models.ScheduledTask) {
	log := sch.logger.With("task_id", task.ID, "handler", task.HandlerName)

	release, err := sch.acquire(ctx, task.HandlerName)
	if err != nil {
		return
	}
	defer release()

	if err := sch.store.MarkRunning(ctx, task.ID); err != nil {
		log.Debug("task not claimed", "error", err)
		return
	}

	start := time.Now()
	runErr := sch.execute(ctx, task)
	d := time.Since(start)

	sch.mu.Lock()
	sch.executed++
	if runErr != nil {
		sch.failed++
	}
	sch.mu.Unlock()
	if sch.observer != nil {
		sch.observer.ObserveTask(task.HandlerName, d, runErr)
	}

	// record the outcome even if the scheduler is stopping
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch {
	case errors.Is(runErr, ErrNoHandler):
		log.Warn("handler not registered, skipping task")
		err = sch.store.MarkCompleted(finishCtx, task.ID, runErr)
	case task.Recurring():
		next := sch.now().Add(task.Interval)
		if runErr != nil {
			log.Error("task failed, rescheduling", "error", runErr, "next_run_at", next)
		}
		err = sch.store.UpdateNextRun(finishCtx, task.ID, next, runErr)
	default:
		if runErr != nil {
			log.Error("task failed", "error", runErr)
		}
		err = sch.store.MarkCompleted(finishCtx, task.ID, runErr)
	}
	if err != nil {
		log.Error("record task outcome", "error", err)
		return
	}
	if runErr == nil {
		log.Info("task executed", "duration", d, "recurring", task.Recurring())
	}
}

// execute runs the handler and routes its result, converting panics into
// errors. Only a missing task handler yields ErrNoHandler; routing failures
// are ordinary task errors.
func (sch *Scheduler) execute(ctx context.Context, task models.ScheduledTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	if _, ok := sch.router.Get(task.HandlerName); !ok {
		return fmt.Errorf("%w: %w: %s", ErrNoHandler, router.ErrHandlerNotFound, task.HandlerName)
	}

	var data any
	if task.TaskData != "" {
		if err := json.Unmarshal([]byte(task.TaskData), &data); err != nil {
			return fmt.Errorf("decode task data: %w", err)
		}
	}

	result, err := sch.router.Execute(ctx, task.HandlerName, data)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if _, err := sch.router.Process(ctx, task.HandlerName, result); err != nil {
		return fmt.Errorf("route result: %w", err)
	}
	return nil
}

// acquire reserves a slot under the handler's concurrency limit.
func (sch *Scheduler) acquire(ctx context.Context, handler string) (func(), error) {
	limit := sch.config.GetHandlerLimit(handler)

	sch.mu.Lock()
	slots, ok := sch.handlerSlots[handler]
	if !ok && limit > 0 {
		slots = make(chan struct{}, limit)
		sch.handlerSlots[handler] = slots
	}
	sch.mu.Unlock()

	if slots != nil {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sch.mu.Lock()
	sch.active++
	sch.mu.Unlock()

	return func() {
		sch.mu.Lock()
		sch.active--
		sch.mu.Unlock()
		if slots != nil {
			<-slots
		}
	}, nil
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return Stats{
		Active:        sch.active,
		MaxConcurrent: sch.config.MaxConcurrent,
		Polls:         sch.polls,
		SkippedPolls:  sch.skipped,
		Executed:      sch.executed,
		Failed:        sch.failed,
	}
}
