// Package memory stores text with embeddings and finds similar entries.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
)

// ErrEmptyContent is returned when storing or searching blank text.
var ErrEmptyContent = errors.New("memory content cannot be empty")

// Match is one search result.
type Match struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Memory is the semantic memory boundary used by agents.
type Memory interface {
	Store(ctx context.Context, content string, meta map[string]string) (string, error)
	FindSimilar(ctx context.Context, content string, limit int, meta map[string]string) ([]Match, error)
}

// Backend persists memory records. *store.Store implements it.
type Backend interface {
	AddMemory(ctx context.Context, rec models.MemoryRecord) (models.MemoryRecord, error)
	Memories(ctx context.Context) ([]models.MemoryRecord, error)
	DeleteMemory(ctx context.Context, id string) error
}

// Index implements Memory over a Backend with brute-force cosine ranking.
type Index struct {
	backend  Backend
	embedder Embedder
	logger   *slog.Logger
	// MinSimilarity drops matches scoring below it.
	MinSimilarity float64
}

// NewIndex creates an index.
func NewIndex(backend Backend, embedder Embedder, logger *slog.Logger) *Index {
	return &Index{
		backend:  backend,
		embedder: embedder,
		logger:   logging.Component(logger, "memory"),
	}
}

// Store embeds content and persists it with meta.
func (x *Index) Store(ctx context.Context, content string, meta map[string]string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	vec, err := x.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("embed memory: %w", err)
	}
	rec, err := x.backend.AddMemory(ctx, models.MemoryRecord{
		Content:   content,
		Meta:      meta,
		Embedding: vec,
	})
	if err != nil {
		return "", err
	}
	x.logger.Debug("memory stored", "id", rec.ID, "dims", len(vec))
	return rec.ID, nil
}

// FindSimilar returns up to limit records ranked by similarity to content.
// When meta is non-empty only records carrying every given key/value pair
// are considered. A non-positive limit returns all matches.
func (x *Index) FindSimilar(ctx context.Context, content string, limit int, meta map[string]string) ([]Match, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	query, err := x.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	records, err := x.backend.Memories(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, rec := range records {
		if !metaMatches(rec.Meta, meta) {
			continue
		}
		sim := CosineSimilarity(query, rec.Embedding)
		if sim < x.MinSimilarity {
			continue
		}
		matches = append(matches, Match{ID: rec.ID, Content: rec.Content, Similarity: sim, Meta: rec.Meta})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Delete removes a stored memory.
func (x *Index) Delete(ctx context.Context, id string) error {
	return x.backend.DeleteMemory(ctx, id)
}

func metaMatches(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// RecallPayload is the payload of a "recall" action.
type RecallPayload struct {
	Query string            `json:"query"`
	Limit int               `json:"limit,omitempty"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// RememberPayload is the payload of a "remember" action.
type RememberPayload struct {
	Content string            `json:"content"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// RecallExecutor serves "recall" actions from a Memory.
type RecallExecutor struct {
	Memory Memory
}

// Execute returns the matches for the payload query, five by default.
func (e RecallExecutor) Execute(ctx context.Context, actionType string, payload json.RawMessage) (any, error) {
	var p RecallPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode recall payload: %w", err)
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}
	return e.Memory.FindSimilar(ctx, p.Query, p.Limit, p.Meta)
}

// RememberExecutor serves "remember" actions into a Memory.
type RememberExecutor struct {
	Memory Memory
}

// Execute stores the payload content and returns its ID.
func (e RememberExecutor) Execute(ctx context.Context, actionType string, payload json.RawMessage) (any, error) {
	var p RememberPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode remember payload: %w", err)
	}
	id, err := e.Memory.Store(ctx, p.Content, p.Meta)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id}, nil
}
