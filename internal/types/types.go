package types

import (
	"context"
	"time"

	"github.com/xhad/assessor/internal/models"
)

// SchemaHint tells the oracle what shape the answer must take.
type SchemaHint struct {
	Name   string
	JSON   bool
	Schema string
}

// Oracle is the external text-completion service used by the analysis and
// grading stages. Its answers are untrusted.
type Oracle interface {
	Complete(ctx context.Context, prompt string, hint SchemaHint) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// VectorStore holds one embedding per document id. Implementations must be
// safe for concurrent use.
type VectorStore interface {
	Put(ctx context.Context, rec models.EmbeddingRecord) error
	QueryNearest(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error)
	Get(ctx context.Context, id string) (*models.EmbeddingRecord, error)
	Count(ctx context.Context) (int, error)
	PurgeBefore(ctx context.Context, t time.Time) (int, error)
	Close() error
}

// Publisher hands finished results to the grading store.
type Publisher interface {
	PublishResult(ctx context.Context, result *models.AssessmentResult) error
}

type Observer interface {
	OnTransition(runID string, from, to models.PipelineState)
}

type ObserverFunc func(runID string, from, to models.PipelineState)

func (f ObserverFunc) OnTransition(runID string, from, to models.PipelineState) {
	f(runID, from, to)
}
