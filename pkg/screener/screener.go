package screener

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/pkg/authenticity"
	"github.com/xhad/assessor/pkg/store"
)

type Config struct {
	// K is the number of nearest matches reported.
	K int
}

// Screener compares a submission against every previously stored one and
// runs the authenticity analyzer on it. It never fails: problems are
// recorded on the report as degradation.
type Screener struct {
	indexer  *store.Indexer
	analyzer *authenticity.Analyzer
	config   Config
	logger   zerolog.Logger
}

func New(indexer *store.Indexer, analyzer *authenticity.Analyzer, config Config, logger zerolog.Logger) *Screener {
	if config.K <= 0 {
		config.K = 5
	}
	return &Screener{indexer: indexer, analyzer: analyzer, config: config, logger: logger}
}

var ErrNoVector = errors.New("no embedding to store")

// Screening is a finished report plus the vector it was computed from, so
// the document can be stored once its assessment is known.
type Screening struct {
	Report models.PlagiarismReport
	Vector []float32
}

// Screen builds the plagiarism report for doc without storing it.
func (s *Screener) Screen(ctx context.Context, doc *models.SubmissionDocument) Screening {
	report, vec := s.screen(ctx, doc)
	return Screening{Report: report, Vector: vec}
}

// Remember stores doc under the vector of an earlier Screen so later
// submissions are compared against it.
func (s *Screener) Remember(ctx context.Context, doc *models.SubmissionDocument, sc Screening, ann store.Annotation) error {
	if len(sc.Vector) == 0 {
		return ErrNoVector
	}
	_, err := s.indexer.StoreVector(ctx, doc, sc.Vector, ann)
	return err
}

func (s *Screener) screen(ctx context.Context, doc *models.SubmissionDocument) (models.PlagiarismReport, []float32) {
	report := models.PlagiarismReport{NearestMatches: []models.Match{}}
	log := s.logger.With().Str("document_id", doc.ID).Logger()

	vec, err := s.indexer.Embed(ctx, doc.RawText)
	if err != nil {
		log.Warn().Err(err).Msg("Similarity screening degraded")
		report.Degrade("embedding: " + err.Error())
	} else if err := s.match(ctx, doc, vec, &report); err != nil {
		log.Warn().Err(err).Msg("Similarity screening degraded")
		report.Degrade("vector store: " + err.Error())
	}

	features, err := s.analyzer.Analyze(ctx, doc.RawText)
	report.AIFeatures = features
	if err != nil {
		log.Warn().Err(err).Msg("Authenticity analysis degraded")
		report.Degrade("authenticity: " + err.Error())
	} else if err := authenticity.CheckConfidence(features); err != nil {
		log.Debug().Err(err).Msg("No authenticity verdict")
	} else {
		report.AIGenerated = s.analyzer.Verdict(features)
	}

	log.Debug().
		Bool("degraded", report.Degraded).
		Int("matches", len(report.NearestMatches)).
		Msg("Screened submission")

	return report, vec
}

func (s *Screener) match(ctx context.Context, doc *models.SubmissionDocument, vec []float32, report *models.PlagiarismReport) error {
	neighbors, err := s.indexer.Store().QueryNearest(ctx, vec, s.config.K+1)
	if err != nil {
		return err
	}

	best := 0.0
	for _, n := range neighbors {
		if n.DocumentID == doc.ID && isOwnRecord(doc, n) {
			continue
		}
		if len(report.NearestMatches) == s.config.K {
			break
		}
		score := toScore(n.Similarity)
		report.NearestMatches = append(report.NearestMatches, models.Match{DocumentID: n.DocumentID, Score: score})
		if score > best {
			best = score
		}
	}

	report.SimilarityScore = &best
	return nil
}

// isOwnRecord reports whether a neighbour with doc's id is doc itself rather
// than an earlier identical submission. A record stored at or after the
// document's creation is this run's own, and one left by the same named
// submitter is a re-grade of their own work.
func isOwnRecord(doc *models.SubmissionDocument, n models.Neighbor) bool {
	if !n.StoredAt.Before(doc.CreatedAt) {
		return true
	}
	return doc.Submitter != "" && n.Submitter == doc.Submitter
}

// toScore maps a cosine similarity onto 0..100 with two decimals.
func toScore(sim float64) float64 {
	sim = math.Max(0, math.Min(1, sim))
	return math.Round(sim*10000) / 100
}
