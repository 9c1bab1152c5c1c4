// Package store provides SQLite-backed persistence for cortex.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTaskNotClaimable indicates the task is missing or not pending.
	ErrTaskNotClaimable = errors.New("task not found or not claimable")
)

// Store provides access to the cortex SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	// WAL mode for concurrent readers
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
// Scheduling times are unix milliseconds so they compare numerically.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		handler_name TEXT NOT NULL,
		task_data TEXT NOT NULL DEFAULT '',
		next_run_at INTEGER NOT NULL,
		interval_ms INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		run_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS context_log (
		id TEXT PRIMARY KEY,
		trigger TEXT NOT NULL,
		op TEXT NOT NULL,
		step_id TEXT NOT NULL,
		step_type TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		payload TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		doc TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_items (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		meta TEXT,
		embedding BLOB,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks(status, next_run_at);
	CREATE INDEX IF NOT EXISTS idx_context_log_trigger ON context_log(trigger);
	CREATE INDEX IF NOT EXISTS idx_context_log_step ON context_log(step_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
