package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/fentz26/cortex/internal/models"
	"github.com/google/uuid"
)

// --- Context Log Operations ---

// AppendContextLog writes one mirrored ledger mutation.
func (s *Store) AppendContextLog(ctx context.Context, e models.ContextLogEntry) (models.ContextLogEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO context_log (id, trigger, op, step_id, step_type, inputs_hash, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Trigger, e.Op, e.StepID, e.StepType, e.InputsHash, e.Payload, e.Timestamp,
	)
	if err != nil {
		return e, fmt.Errorf("insert context log: %w", err)
	}
	return e, nil
}

// ContextLog returns the entries written under trigger in write order.
// An empty trigger returns every entry; limit <= 0 means no limit.
func (s *Store) ContextLog(ctx context.Context, trigger string, limit int) ([]models.ContextLogEntry, error) {
	query := `SELECT id, trigger, op, step_id, step_type, inputs_hash, payload, timestamp FROM context_log`
	var args []any
	if trigger != "" {
		query += ` WHERE trigger = ?`
		args = append(args, trigger)
	}
	query += ` ORDER BY rowid`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query context log: %w", err)
	}
	defer rows.Close()

	var entries []models.ContextLogEntry
	for rows.Next() {
		var e models.ContextLogEntry
		if err := rows.Scan(&e.ID, &e.Trigger, &e.Op, &e.StepID, &e.StepType, &e.InputsHash, &e.Payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan context log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Goal Operations ---

// SaveGoals replaces the stored goal snapshot with goals, keeping their order.
func (s *Store) SaveGoals(ctx context.Context, goals []models.Goal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM goals`); err != nil {
		return fmt.Errorf("clear goals: %w", err)
	}
	now := s.now().UTC()
	for i, g := range goals {
		doc, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("encode goal %s: %w", g.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO goals (id, position, doc, updated_at) VALUES (?, ?, ?, ?)`,
			g.ID, i, string(doc), now,
		); err != nil {
			return fmt.Errorf("insert goal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadGoals returns the stored goal snapshot.
func (s *Store) LoadGoals(ctx context.Context) ([]models.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM goals ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var goals []models.Goal
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		var g models.Goal
		if err := json.Unmarshal([]byte(doc), &g); err != nil {
			return nil, fmt.Errorf("decode goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// --- Memory Operations ---

// AddMemory inserts a memory record with its embedding.
func (s *Store) AddMemory(ctx context.Context, rec models.MemoryRecord) (models.MemoryRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	var meta sql.NullString
	if len(rec.Meta) > 0 {
		b, err := json.Marshal(rec.Meta)
		if err != nil {
			return rec, fmt.Errorf("encode memory meta: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_items (id, content, meta, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Content, meta, encodeEmbedding(rec.Embedding), rec.CreatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("insert memory: %w", err)
	}
	return rec, nil
}

// Memories returns every memory record, oldest first.
func (s *Store) Memories(ctx context.Context) ([]models.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, meta, embedding, created_at FROM memory_items ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var items []models.MemoryRecord
	for rows.Next() {
		var (
			rec  models.MemoryRecord
			meta sql.NullString
			emb  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &meta, &emb, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Meta); err != nil {
				return nil, fmt.Errorf("decode memory meta: %w", err)
			}
		}
		rec.Embedding = decodeEmbedding(emb)
		items = append(items, rec)
	}
	return items, rows.Err()
}

// DeleteMemory removes a memory record.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return nil
}

// embeddings are stored as little-endian float32s
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
