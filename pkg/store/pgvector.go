package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/pkg/processor"
)

type PGVectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// tieMargin extra rows are fetched past k so equal distances can be
// re-ordered by stored_at in Go without the ORDER BY defeating the index.
const tieMargin = 8

func nearestQuery(table string) string {
	return fmt.Sprintf(`
		SELECT document_id, 1 - (embedding <=> $1) AS similarity, excerpt, prompt, grade, submitter, stored_at
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, table)
}

// PGVectorStore keeps vectors in Postgres with the pgvector extension.
type PGVectorStore struct {
	config PGVectorConfig
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPGVectorStore(ctx context.Context, config PGVectorConfig, logger zerolog.Logger) (*PGVectorStore, error) {
	if config.ConnString == "" {
		return nil, fmt.Errorf("pgvector store needs a connection string")
	}
	if config.TableName == "" {
		config.TableName = "submission_embeddings"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PGVectorStore{
		config: config,
		pool:   pool,
		logger: logger,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PGVectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			excerpt TEXT,
			prompt TEXT,
			grade DOUBLE PRECISION,
			submitter TEXT,
			stored_at TIMESTAMPTZ NOT NULL
		)`, vs.config.TableName, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	for _, col := range []string{"prompt TEXT", "grade DOUBLE PRECISION", "submitter TEXT"} {
		alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s`, vs.config.TableName, col)
		if _, err := vs.pool.Exec(ctx, alter); err != nil {
			return fmt.Errorf("failed to migrate table: %w", err)
		}
	}

	// hnsw builds fine on an empty table, unlike ivfflat
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_hnsw_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	vs.logger.Debug().Str("table", vs.config.TableName).Int("dim", vs.config.VectorDim).Msg("Initialized pgvector store")
	return nil
}

// Put upserts the record. stored_at is only written on first insert.
func (vs *PGVectorStore) Put(ctx context.Context, rec models.EmbeddingRecord) error {
	if err := checkDim(vs.config.VectorDim, rec.Vector); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (document_id, embedding, excerpt, prompt, grade, submitter, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			excerpt = EXCLUDED.excerpt,
			prompt = EXCLUDED.prompt,
			grade = EXCLUDED.grade,
			submitter = EXCLUDED.submitter`,
		vs.config.TableName)

	_, err := vs.pool.Exec(ctx, stmt,
		rec.DocumentID,
		pgvector.NewVector(rec.Vector),
		processor.SanitizeUTF8(rec.Excerpt),
		optionalText(processor.SanitizeUTF8(rec.Prompt)),
		rec.Grade,
		optionalText(rec.Submitter),
		rec.StoredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

func (vs *PGVectorStore) QueryNearest(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := checkDim(vs.config.VectorDim, vector); err != nil {
		return nil, err
	}

	rows, err := vs.pool.Query(ctx, nearestQuery(vs.config.TableName), pgvector.NewVector(vector), k+tieMargin)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var neighbors []models.Neighbor
	for rows.Next() {
		var (
			n                          models.Neighbor
			excerpt, prompt, submitter *string
		)
		if err := rows.Scan(&n.DocumentID, &n.Similarity, &excerpt, &prompt, &n.Grade, &submitter, &n.StoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		n.Excerpt = deref(excerpt)
		n.Prompt = deref(prompt)
		n.Submitter = deref(submitter)
		n.StoredAt = n.StoredAt.UTC()
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return sortNeighbors(neighbors, k), nil
}

func (vs *PGVectorStore) Get(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	query := fmt.Sprintf(`SELECT embedding, excerpt, prompt, grade, submitter, stored_at FROM %s WHERE document_id = $1`, vs.config.TableName)

	var (
		vec                        pgvector.Vector
		excerpt, prompt, submitter *string
		rec                        = models.EmbeddingRecord{DocumentID: id}
	)
	err := vs.pool.QueryRow(ctx, query, id).Scan(&vec, &excerpt, &prompt, &rec.Grade, &submitter, &rec.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	rec.Vector = vec.Slice()
	rec.StoredAt = rec.StoredAt.UTC()
	rec.Excerpt = deref(excerpt)
	rec.Prompt = deref(prompt)
	rec.Submitter = deref(submitter)
	return &rec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (vs *PGVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := vs.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, vs.config.TableName)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}

func (vs *PGVectorStore) PurgeBefore(ctx context.Context, t time.Time) (int, error) {
	tag, err := vs.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE stored_at < $1`, vs.config.TableName), t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge embeddings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (vs *PGVectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}
