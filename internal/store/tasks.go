package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/cortex/internal/models"
	"github.com/google/uuid"
)

const taskColumns = `id, owner_id, handler_name, task_data, next_run_at, interval_ms, status, run_count, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.ScheduledTask, error) {
	var (
		t                     models.ScheduledTask
		next, created, update int64
		intervalMS            int64
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.HandlerName, &t.TaskData, &next, &intervalMS, &t.Status, &t.RunCount, &t.LastError, &created, &update)
	if err != nil {
		return t, err
	}
	t.NextRunAt = time.UnixMilli(next).UTC()
	t.Interval = time.Duration(intervalMS) * time.Millisecond
	t.CreatedAt = time.UnixMilli(created).UTC()
	t.UpdatedAt = time.UnixMilli(update).UTC()
	return t, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// CreateTask inserts a pending scheduled task and returns its ID.
func (s *Store) CreateTask(ctx context.Context, ownerID, handlerName, data string, nextRunAt time.Time, interval time.Duration) (string, error) {
	id := uuid.New().String()
	now := s.now().UTC().UnixMilli()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (id, owner_id, handler_name, task_data, next_run_at, interval_ms, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ownerID, handlerName, data, nextRunAt.UTC().UnixMilli(), interval.Milliseconds(), models.TaskStatusPending, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (models.ScheduledTask, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks, optionally filtered by status, newest first.
func (s *Store) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`
	return s.queryTasks(ctx, query, args...)
}

// FindDueTasks returns pending tasks whose next run time has passed,
// earliest first.
func (s *Store) FindDueTasks(ctx context.Context, now time.Time) ([]models.ScheduledTask, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE status = ? AND next_run_at <= ? ORDER BY next_run_at, id`,
		models.TaskStatusPending, now.UTC().UnixMilli(),
	)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]models.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkRunning atomically claims a pending task. It fails with
// ErrTaskNotClaimable when the task is missing or already claimed.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TaskStatusRunning, s.now().UTC().UnixMilli(), id, models.TaskStatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return requireRow(res, id, ErrTaskNotClaimable)
}

// MarkCompleted finishes a task, recording runErr when the run failed.
func (s *Store) MarkCompleted(ctx context.Context, id string, runErr error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ?, run_count = run_count + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		models.TaskStatusCompleted, errText(runErr), s.now().UTC().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRow(res, id, ErrNotFound)
}

// UpdateNextRun returns a recurring task to pending with a new run time.
func (s *Store) UpdateNextRun(ctx context.Context, id string, next time.Time, runErr error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ?, next_run_at = ?, run_count = run_count + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		models.TaskStatusPending, next.UTC().UnixMilli(), errText(runErr), s.now().UTC().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("update next run: %w", err)
	}
	return requireRow(res, id, ErrNotFound)
}

// RecoverStale resets tasks left running since before olderThan back to
// pending and returns how many were reset.
func (s *Store) RecoverStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		models.TaskStatusPending, s.now().UTC().UnixMilli(), models.TaskStatusRunning, olderThan.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

func requireRow(res sql.Result, id string, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, sentinel)
	}
	return nil
}
