package screener_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/internal/types"
	"github.com/xhad/assessor/pkg/authenticity"
	"github.com/xhad/assessor/pkg/screener"
	"github.com/xhad/assessor/pkg/store"
)

// bagEmbedder embeds text as counts of a few marker words, so texts that
// share wording point the same way.
type bagEmbedder struct {
	err error
}

func (e *bagEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, 4)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		switch strings.Trim(w, ".,") {
		case "photosynthesis":
			v[0]++
		case "light":
			v[1]++
		case "pendulum":
			v[2]++
		default:
			v[3] += 0.01
		}
	}
	return v, nil
}

type failingStore struct {
	types.VectorStore
}

func (failingStore) QueryNearest(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error) {
	return nil, errors.New("connection refused")
}

const essay = "Photosynthesis uses light. Photosynthesis makes sugar from light and water."

func newScreener(emb types.Embedder, vs types.VectorStore) *screener.Screener {
	analyzer := authenticity.NewAnalyzer(nil, authenticity.Config{}, zerolog.Nop())
	return screener.New(store.NewIndexer(emb, vs), analyzer, screener.Config{K: 3}, zerolog.Nop())
}

func doc(id, text string, created time.Time) *models.SubmissionDocument {
	return &models.SubmissionDocument{ID: id, RawText: text, CreatedAt: created}
}

func screenAndRemember(t *testing.T, s *screener.Screener, d *models.SubmissionDocument) models.PlagiarismReport {
	t.Helper()
	sc := s.Screen(context.Background(), d)
	if sc.Vector != nil {
		require.NoError(t, s.Remember(context.Background(), d, sc, store.Annotation{Prompt: "Describe photosynthesis"}))
	}
	return sc.Report
}

func TestSameEssayTwiceScoresHundred(t *testing.T) {
	ctx := context.Background()
	vs := store.NewMemoryStore(0)
	s := newScreener(&bagEmbedder{}, vs)

	first := doc("essay-id", essay, time.Now().Add(-time.Minute))
	report := screenAndRemember(t, s, first)
	require.NotNil(t, report.SimilarityScore)
	assert.Zero(t, *report.SimilarityScore)
	assert.Empty(t, report.NearestMatches)

	second := doc("essay-id", essay, time.Now().Add(time.Second))
	report = screenAndRemember(t, s, second)
	require.NotNil(t, report.SimilarityScore)
	assert.Equal(t, 100.0, *report.SimilarityScore)
	require.NotEmpty(t, report.NearestMatches)
	assert.Equal(t, "essay-id", report.NearestMatches[0].DocumentID)
	assert.False(t, report.Degraded)

	n, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegradeExcludesOwnRecord(t *testing.T) {
	ctx := context.Background()
	vs := store.NewMemoryStore(0)
	s := newScreener(&bagEmbedder{}, vs)

	d := doc("essay-id", essay, time.Now().Add(-time.Minute))
	screenAndRemember(t, s, d)

	report := s.Screen(ctx, d).Report
	require.NotNil(t, report.SimilarityScore)
	assert.Zero(t, *report.SimilarityScore)
	assert.Empty(t, report.NearestMatches)
}

func TestSimilarSubmissionIsMatched(t *testing.T) {
	ctx := context.Background()
	vs := store.NewMemoryStore(0)
	s := newScreener(&bagEmbedder{}, vs)

	screenAndRemember(t, s, doc("original", essay, time.Now()))
	screenAndRemember(t, s, doc("physics", "The pendulum swings. Pendulum period depends on length.", time.Now()))

	report := s.Screen(ctx, doc("copy", "Photosynthesis needs light. Photosynthesis turns light and water into sugar.", time.Now())).Report
	require.NotNil(t, report.SimilarityScore)
	assert.GreaterOrEqual(t, *report.SimilarityScore, 90.0)
	require.Len(t, report.NearestMatches, 2)
	assert.Equal(t, "original", report.NearestMatches[0].DocumentID)
	assert.Less(t, report.NearestMatches[1].Score, 10.0)
}

func TestMatchesAreCappedAtK(t *testing.T) {
	ctx := context.Background()
	vs := store.NewMemoryStore(0)
	s := newScreener(&bagEmbedder{}, vs)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		screenAndRemember(t, s, doc(id, essay+" "+id, time.Now()))
	}

	report := s.Screen(ctx, doc("new", essay, time.Now())).Report
	assert.Len(t, report.NearestMatches, 3)
}

func TestEmbeddingFailureDegrades(t *testing.T) {
	vs := store.NewMemoryStore(0)
	s := newScreener(&bagEmbedder{err: errors.New("ollama down")}, vs)

	d := doc("x", essay, time.Now())
	sc := s.Screen(context.Background(), d)
	report := sc.Report

	assert.ErrorIs(t, s.Remember(context.Background(), d, sc, store.Annotation{}), screener.ErrNoVector)
	assert.Nil(t, report.SimilarityScore)
	assert.True(t, report.Degraded)
	require.NotEmpty(t, report.DegradedReasons)
	assert.Contains(t, report.DegradedReasons[0], "embedding")

	n, err := vs.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreFailureDegrades(t *testing.T) {
	s := newScreener(&bagEmbedder{}, failingStore{VectorStore: store.NewMemoryStore(0)})

	report := s.Screen(context.Background(), doc("x", essay, time.Now())).Report

	assert.Nil(t, report.SimilarityScore)
	assert.True(t, report.Degraded)
	assert.Contains(t, report.DegradedReasons[0], "connection refused")
}

func TestShortSubmissionHasNoVerdict(t *testing.T) {
	s := newScreener(&bagEmbedder{}, store.NewMemoryStore(0))

	report := s.Screen(context.Background(), doc("x", essay, time.Now())).Report

	assert.Nil(t, report.AIGenerated)
	assert.True(t, report.AIFeatures.LowConfidence)
	assert.False(t, report.Degraded)
}

func TestResubmissionBySameStudentIsNotSelfMatched(t *testing.T) {
	ctx := context.Background()
	vs := store.NewMemoryStore(0)
	s := newScreener(&bagEmbedder{}, vs)

	first := doc("essay-id", essay, time.Now())
	first.Submitter = "ada"
	screenAndRemember(t, s, first)

	regrade := doc("essay-id", essay, time.Now())
	regrade.Submitter = "ada"
	report := s.Screen(ctx, regrade).Report
	require.NotNil(t, report.SimilarityScore)
	assert.Zero(t, *report.SimilarityScore)

	copied := doc("essay-id", essay, time.Now())
	copied.Submitter = "grace"
	report = s.Screen(ctx, copied).Report
	require.NotNil(t, report.SimilarityScore)
	assert.Equal(t, 100.0, *report.SimilarityScore)
}

func TestRememberKeepsAssessmentMetadata(t *testing.T) {
	ctx := context.Background()
	vs := store.NewMemoryStore(0)
	s := newScreener(&bagEmbedder{}, vs)

	d := doc("essay-id", essay, time.Now())
	d.Submitter = "ada"
	grade := 88.0
	require.NoError(t, s.Remember(ctx, d, s.Screen(ctx, d), store.Annotation{Prompt: "Describe photosynthesis", Grade: &grade}))

	rec, err := vs.Get(ctx, "essay-id")
	require.NoError(t, err)
	assert.Equal(t, "Describe photosynthesis", rec.Prompt)
	require.NotNil(t, rec.Grade)
	assert.Equal(t, 88.0, *rec.Grade)
	assert.Equal(t, "ada", rec.Submitter)
}
