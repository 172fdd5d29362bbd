package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/internal/types"
	"github.com/xhad/assessor/pkg/config"
)

var (
	ErrNotFound          = errors.New("embedding not found")
	ErrEmbedding         = errors.New("embedding failed")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%v: expected %d, got %d", ErrDimensionMismatch, e.Expected, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}

// Open builds the vector store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (types.VectorStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.VectorDim), nil
	case "sqlite":
		return NewSQLiteStore(ctx, SQLiteConfig{Path: cfg.Path, VectorDim: cfg.VectorDim}, logger)
	case "pgvector":
		return NewPGVectorStore(ctx, PGVectorConfig{
			ConnString: cfg.URL,
			TableName:  cfg.TableName,
			VectorDim:  cfg.VectorDim,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// CosineSimilarity returns 0 when either vector has zero length.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sortNeighbors orders by similarity, then earliest StoredAt, then id, and
// keeps at most k.
func sortNeighbors(ns []models.Neighbor, k int) []models.Neighbor {
	sort.SliceStable(ns, func(i, j int) bool {
		if ns[i].Similarity != ns[j].Similarity {
			return ns[i].Similarity > ns[j].Similarity
		}
		if !ns[i].StoredAt.Equal(ns[j].StoredAt) {
			return ns[i].StoredAt.Before(ns[j].StoredAt)
		}
		return ns[i].DocumentID < ns[j].DocumentID
	})
	if k >= 0 && len(ns) > k {
		ns = ns[:k]
	}
	return ns
}

func neighborOf(rec models.EmbeddingRecord, similarity float64) models.Neighbor {
	return models.Neighbor{
		DocumentID: rec.DocumentID,
		Similarity: similarity,
		StoredAt:   rec.StoredAt,
		Excerpt:    rec.Excerpt,
		Prompt:     rec.Prompt,
		Grade:      copyGrade(rec.Grade),
		Submitter:  rec.Submitter,
	}
}

func copyGrade(g *float64) *float64 {
	if g == nil {
		return nil
	}
	v := *g
	return &v
}

func checkDim(expected int, vec []float32) error {
	if len(vec) == 0 {
		return &DimensionMismatchError{Expected: expected, Got: 0}
	}
	if expected > 0 && len(vec) != expected {
		return &DimensionMismatchError{Expected: expected, Got: len(vec)}
	}
	return nil
}

const excerptRunes = 500

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptRunes {
		return text
	}
	return string(r[:excerptRunes])
}

// Indexer embeds documents and keeps one vector per document id in a store.
type Indexer struct {
	embedder types.Embedder
	store    types.VectorStore
	now      func() time.Time
}

func NewIndexer(embedder types.Embedder, store types.VectorStore) *Indexer {
	return &Indexer{embedder: embedder, store: store, now: time.Now}
}

func (ix *Indexer) Store() types.VectorStore {
	return ix.store
}

// Embed computes the vector for text without storing it.
func (ix *Indexer) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbedding)
	}
	return vec, nil
}

// Annotation is what a finished assessment knows about the stored document.
type Annotation struct {
	Prompt string
	Grade  *float64
}

// StoreVector persists an already computed vector for doc.
func (ix *Indexer) StoreVector(ctx context.Context, doc *models.SubmissionDocument, vec []float32, ann Annotation) (*models.EmbeddingRecord, error) {
	rec := models.EmbeddingRecord{
		DocumentID: doc.ID,
		Vector:     vec,
		StoredAt:   ix.now().UTC(),
		Excerpt:    excerpt(doc.RawText),
		Prompt:     ann.Prompt,
		Grade:      copyGrade(ann.Grade),
		Submitter:  doc.Submitter,
	}
	if err := ix.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	return ix.store.Get(ctx, doc.ID)
}

// EmbedAndStore is idempotent per document id: a second call overwrites the
// vector and keeps the first StoredAt.
func (ix *Indexer) EmbedAndStore(ctx context.Context, doc *models.SubmissionDocument, ann Annotation) (*models.EmbeddingRecord, error) {
	vec, err := ix.Embed(ctx, doc.RawText)
	if err != nil {
		return nil, err
	}
	return ix.StoreVector(ctx, doc, vec, ann)
}
