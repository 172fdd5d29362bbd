package store

import (
	"context"
	"sync"
	"time"

	"github.com/xhad/assessor/internal/models"
)

// MemoryStore keeps vectors in process and answers queries by brute force.
type MemoryStore struct {
	mu      sync.RWMutex
	dim     int
	records map[string]models.EmbeddingRecord
}

// NewMemoryStore creates an empty store. A dim of zero adopts the dimension
// of the first vector stored.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, records: make(map[string]models.EmbeddingRecord)}
}

func (s *MemoryStore) Put(ctx context.Context, rec models.EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkDim(s.dim, rec.Vector); err != nil {
		return err
	}
	if s.dim == 0 {
		s.dim = len(rec.Vector)
	}

	if prev, ok := s.records[rec.DocumentID]; ok {
		rec.StoredAt = prev.StoredAt
	}
	rec.Vector = append([]float32(nil), rec.Vector...)
	rec.Grade = copyGrade(rec.Grade)
	s.records[rec.DocumentID] = rec
	return nil
}

func (s *MemoryStore) QueryNearest(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, nil
	}
	if err := checkDim(s.dim, vector); err != nil {
		return nil, err
	}

	neighbors := make([]models.Neighbor, 0, len(s.records))
	for _, rec := range s.records {
		neighbors = append(neighbors, neighborOf(rec, CosineSimilarity(vector, rec.Vector)))
	}
	return sortNeighbors(neighbors, k), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Vector = append([]float32(nil), rec.Vector...)
	return &rec, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) PurgeBefore(ctx context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.records {
		if rec.StoredAt.Before(t) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
