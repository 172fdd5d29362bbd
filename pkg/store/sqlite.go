package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/xhad/assessor/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS submission_embeddings (
    document_id TEXT PRIMARY KEY,
    dim INTEGER NOT NULL,
    vector BLOB NOT NULL,
    excerpt TEXT,
    prompt TEXT,
    grade REAL,
    submitter TEXT,
    stored_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS submission_embeddings_stored_at_idx ON submission_embeddings (stored_at);
`

// columns added after the first release; ADD COLUMN fails with "duplicate
// column" once applied.
var sqliteMigrations = []string{
	`ALTER TABLE submission_embeddings ADD COLUMN prompt TEXT`,
	`ALTER TABLE submission_embeddings ADD COLUMN grade REAL`,
	`ALTER TABLE submission_embeddings ADD COLUMN submitter TEXT`,
}

type SQLiteConfig struct {
	Path      string
	VectorDim int
}

// SQLiteStore keeps vectors in a local sqlite file. Similarity is computed
// in Go over every stored row.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger

	mu  sync.Mutex
	dim int
}

func NewSQLiteStore(ctx context.Context, config SQLiteConfig, logger zerolog.Logger) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = "assessor.db"
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if config.Path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	for _, m := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, m); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			_ = db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger, dim: config.VectorDim}
	if s.dim == 0 {
		var dim int
		err := db.QueryRowContext(ctx, `SELECT dim FROM submission_embeddings LIMIT 1`).Scan(&dim)
		switch {
		case err == nil:
			s.dim = dim
		case !errors.Is(err, sql.ErrNoRows):
			_ = db.Close()
			return nil, fmt.Errorf("read vector dimension: %w", err)
		}
	}

	logger.Debug().Str("path", config.Path).Int("dim", s.dim).Msg("Opened sqlite store")
	return s, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec models.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkDim(s.dim, rec.Vector); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submission_embeddings (document_id, dim, vector, excerpt, prompt, grade, submitter, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			dim = excluded.dim,
			vector = excluded.vector,
			excerpt = excluded.excerpt,
			prompt = excluded.prompt,
			grade = excluded.grade,
			submitter = excluded.submitter`,
		rec.DocumentID, len(rec.Vector), encodeVector(rec.Vector), rec.Excerpt,
		nullString(rec.Prompt), nullGrade(rec.Grade), nullString(rec.Submitter),
		rec.StoredAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	if s.dim == 0 {
		s.dim = len(rec.Vector)
	}
	return nil
}

func (s *SQLiteStore) QueryNearest(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	dim := s.dim
	s.mu.Unlock()
	if dim == 0 {
		return nil, nil
	}
	if err := checkDim(dim, vector); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM submission_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var neighbors []models.Neighbor
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		neighbors = append(neighbors, neighborOf(*rec, CosineSimilarity(vector, rec.Vector)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return sortNeighbors(neighbors, k), nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM submission_embeddings WHERE document_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	return rec, nil
}

const sqliteColumns = `document_id, vector, excerpt, prompt, grade, submitter, stored_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*models.EmbeddingRecord, error) {
	var (
		rec       models.EmbeddingRecord
		blob      []byte
		excerpt   sql.NullString
		prompt    sql.NullString
		grade     sql.NullFloat64
		submitter sql.NullString
		storedAt  int64
	)
	if err := row.Scan(&rec.DocumentID, &blob, &excerpt, &prompt, &grade, &submitter, &storedAt); err != nil {
		return nil, err
	}
	rec.Vector = decodeVector(blob)
	rec.Excerpt = excerpt.String
	rec.Prompt = prompt.String
	rec.Submitter = submitter.String
	rec.StoredAt = time.Unix(0, storedAt).UTC()
	if grade.Valid {
		g := grade.Float64
		rec.Grade = &g
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullGrade(g *float64) sql.NullFloat64 {
	if g == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *g, Valid: true}
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submission_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) PurgeBefore(ctx context.Context, t time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM submission_embeddings WHERE stored_at < ?`, t.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge embeddings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
