package memory

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707},
		{"empty", Vector{}, Vector{}, 0.0},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 0.01)
		})
	}
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Deploy the service")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "deploy, the SERVICE!")
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.Equal(t, a, b)

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	empty, err := e.Embed(ctx, "   ")
	require.NoError(t, err)
	assert.Len(t, empty, 64)
}

type countingEmbedder struct {
	calls int
	inner Embedder
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dims() int { return c.inner.Dims() }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{inner: NewHashEmbedder(16)}
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Embed(ctx, "same text")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 16, c.Dims())

	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "c")
	assert.Equal(t, 2, c.Len())
	_, _ = c.Embed(ctx, "same text")
	assert.Equal(t, 4, inner.calls)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req openaiEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "m", req.Model)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL+"/", "key", "m", 2)
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, Vector{0.5, 0.25}, v)
	assert.Equal(t, 2, e.Dims())
}

func TestOpenAIEmbedderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOpenAIEmbedder(srv.URL, "", "", 0).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewIndex(s, NewHashEmbedder(4096), logging.Discard())
}

func TestIndexFindSimilar(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()

	deployID, err := x.Store(ctx, "deploy the billing service to production", map[string]string{"agent": "ops"})
	require.NoError(t, err)
	_, err = x.Store(ctx, "bake a chocolate cake", map[string]string{"agent": "chef"})
	require.NoError(t, err)
	_, err = x.Store(ctx, "rollback the billing deploy", map[string]string{"agent": "ops"})
	require.NoError(t, err)

	matches, err := x.FindSimilar(ctx, "deploy billing service", 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, deployID, matches[0].ID)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)

	chef, err := x.FindSimilar(ctx, "deploy billing service", 10, map[string]string{"agent": "chef"})
	require.NoError(t, err)
	require.Len(t, chef, 1)
	assert.Equal(t, "bake a chocolate cake", chef[0].Content)

	_, err = x.Store(ctx, " ", nil)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestIndexDelete(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()

	id, err := x.Store(ctx, "temporary note", nil)
	require.NoError(t, err)
	require.NoError(t, x.Delete(ctx, id))
	assert.ErrorIs(t, x.Delete(ctx, id), store.ErrNotFound)

	matches, err := x.FindSimilar(ctx, "temporary note", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) (Vector, error) {
	return nil, errors.New("offline")
}
func (failingEmbedder) Dims() int { return 0 }

func TestIndexEmbedError(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer s.Close()

	x := NewIndex(s, failingEmbedder{}, nil)
	_, err = x.Store(context.Background(), "note", nil)
	assert.ErrorContains(t, err, "offline")
}

func TestRecallAndRememberExecutors(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()

	out, err := RememberExecutor{Memory: x}.Execute(ctx, "remember", json.RawMessage(`{"content":"the api key rotates monthly"}`))
	require.NoError(t, err)
	id := out.(map[string]string)["id"]
	require.NotEmpty(t, id)

	res, err := RecallExecutor{Memory: x}.Execute(ctx, "recall", json.RawMessage(`{"query":"api key rotation"}`))
	require.NoError(t, err)
	matches := res.([]Match)
	require.NotEmpty(t, matches)
	assert.Equal(t, id, matches[0].ID)

	_, err = RecallExecutor{Memory: x}.Execute(ctx, "recall", json.RawMessage(`[1]`))
	assert.Error(t, err)
}
