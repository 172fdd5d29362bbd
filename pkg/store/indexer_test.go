package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/pkg/config"
	"github.com/xhad/assessor/pkg/store"
)

func configFor(backend string) config.StoreConfig {
	return config.StoreConfig{Backend: backend, Path: ":memory:", VectorDim: 3}
}

type staticEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *staticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestEmbedAndStoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(3)
	ix := store.NewIndexer(&staticEmbedder{vectors: map[string][]float32{"essay": {1, 0, 0}}}, s)
	doc := &models.SubmissionDocument{ID: "doc-1", RawText: "essay"}

	first, err := ix.EmbedAndStore(ctx, doc, store.Annotation{})
	require.NoError(t, err)
	second, err := ix.EmbedAndStore(ctx, doc, store.Annotation{})
	require.NoError(t, err)

	assert.Equal(t, first.Vector, second.Vector)
	assert.True(t, first.StoredAt.Equal(second.StoredAt))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEmbedAndStoreExcerpt(t *testing.T) {
	s := store.NewMemoryStore(3)
	ix := store.NewIndexer(&staticEmbedder{}, s)

	rec, err := ix.EmbedAndStore(context.Background(), &models.SubmissionDocument{ID: "long", RawText: strings.Repeat("é", 900)}, store.Annotation{})
	require.NoError(t, err)
	assert.Len(t, []rune(rec.Excerpt), 500)
}

func TestEmbedFailureWrapsErrEmbedding(t *testing.T) {
	boom := errors.New("ollama down")
	ix := store.NewIndexer(&staticEmbedder{err: boom}, store.NewMemoryStore(3))

	_, err := ix.EmbedAndStore(context.Background(), &models.SubmissionDocument{ID: "x", RawText: "text"}, store.Annotation{})
	assert.ErrorIs(t, err, store.ErrEmbedding)
}

func TestHighCosineMeansHighScore(t *testing.T) {
	// cos(a, b) >= 0.95 must surface as a similarity of at least 0.95
	ctx := context.Background()
	s := store.NewMemoryStore(3)
	put(t, s, "prior", []float32{1, 0.3, 0}, t0)

	got, err := s.QueryNearest(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.GreaterOrEqual(t, got[0].Similarity, 0.95)
}
