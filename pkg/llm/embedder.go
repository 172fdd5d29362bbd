package llm

import (
	"context"
	"fmt"
	"math"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/assessor/pkg/processor"
)

// EmbeddingClient is the part of a langchaingo model the embedder needs.
// *ollama.LLM satisfies it.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	Model     string
	ChunkSize int
	BaseURL   string // Ollama server URL
}

// Embedder turns a whole document into one unit-length vector. Long text is
// chunked, each chunk embedded, and the chunk vectors mean-pooled.
type Embedder struct {
	config    EmbedderConfig
	client    EmbeddingClient
	processor processor.Processor
}

func applyEmbedderDefaults(config *EmbedderConfig) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	applyEmbedderDefaults(&config)

	emb, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return NewEmbedder(emb, config), nil
}

func NewEmbedder(client EmbeddingClient, config EmbedderConfig) *Embedder {
	applyEmbedderDefaults(&config)
	return &Embedder{
		config: config,
		client: client,
		processor: processor.NewWithConfig(processor.ProcessorConfig{
			ChunkSize:      config.ChunkSize,
			ChunkOverlap:   config.ChunkSize / 10,
			MinChunkLength: 1,
		}),
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	chunks := e.processor.Chunks(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("nothing to embed")
	}

	vectors, err := e.client.CreateEmbedding(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(vectors))
	}

	return MeanPool(vectors)
}

// MeanPool averages vectors of equal length and scales the result to unit
// length.
func MeanPool(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), dim)
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}

	var norm float64
	for j := range sum {
		sum[j] /= float64(len(vectors))
		norm += sum[j] * sum[j]
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dim)
	for j, x := range sum {
		if norm > 0 {
			x /= norm
		}
		out[j] = float32(x)
	}
	return out, nil
}
