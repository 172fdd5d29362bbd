// Package authenticity estimates whether text was machine generated from two
// signals: how predictable its words are (perplexity) and how much its
// sentence lengths vary (burstiness). Both must be low for a positive
// verdict.
package authenticity

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/pkg/processor"
)

var ErrLowConfidence = errors.New("too little text for an authenticity verdict")

// WindowScorer returns the perplexity of one window of tokens. Any language
// model can sit behind it.
type WindowScorer interface {
	ScoreWindow(ctx context.Context, tokens []string) (float64, error)
}

type Thresholds struct {
	Perplexity float64
	Burstiness float64
}

type Config struct {
	MinTokens    int
	WindowSize   int
	WindowStride int
	Thresholds   Thresholds
}

type Analyzer struct {
	scorer WindowScorer
	config Config
	logger zerolog.Logger
}

func NewAnalyzer(scorer WindowScorer, config Config, logger zerolog.Logger) *Analyzer {
	if scorer == nil {
		scorer = NewUnigramScorer()
	}
	if config.MinTokens <= 0 {
		config.MinTokens = 50
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 128
	}
	if config.WindowStride <= 0 || config.WindowStride > config.WindowSize {
		config.WindowStride = config.WindowSize * 3 / 4
	}
	if config.Thresholds.Perplexity == 0 {
		config.Thresholds.Perplexity = 1500
	}
	if config.Thresholds.Burstiness == 0 {
		config.Thresholds.Burstiness = 0.3
	}
	return &Analyzer{scorer: scorer, config: config, logger: logger}
}

// Analyze computes the features of text. Short text is not an error: the
// features come back with LowConfidence set.
func (a *Analyzer) Analyze(ctx context.Context, text string) (models.AuthenticityFeatures, error) {
	tokens := processor.Words(text)
	features := models.AuthenticityFeatures{
		Tokens:     len(tokens),
		Burstiness: Burstiness(text),
	}

	if len(tokens) > 0 {
		ppl, err := a.perplexity(ctx, tokens)
		if err != nil {
			return features, fmt.Errorf("score windows: %w", err)
		}
		features.Perplexity = ppl
	}

	if len(tokens) < a.config.MinTokens || len(processor.SplitSentences(text)) < 2 {
		features.LowConfidence = true
	}

	a.logger.Debug().
		Int("tokens", features.Tokens).
		Float64("perplexity", features.Perplexity).
		Float64("burstiness", features.Burstiness).
		Bool("low_confidence", features.LowConfidence).
		Msg("Scored authenticity")

	return features, nil
}

// Verdict classifies features with the analyzer's thresholds.
func (a *Analyzer) Verdict(f models.AuthenticityFeatures) *bool {
	return Classify(f, a.config.Thresholds)
}

// Classify returns nil for low-confidence features. Otherwise text is
// flagged only when both perplexity and burstiness are at or below their
// thresholds.
func Classify(f models.AuthenticityFeatures, t Thresholds) *bool {
	if f.LowConfidence {
		return nil
	}
	v := f.Perplexity <= t.Perplexity && f.Burstiness <= t.Burstiness
	return &v
}

// CheckConfidence returns ErrLowConfidence for features that cannot carry a
// verdict.
func CheckConfidence(f models.AuthenticityFeatures) error {
	if f.LowConfidence {
		return fmt.Errorf("%w: %d tokens", ErrLowConfidence, f.Tokens)
	}
	return nil
}

func (a *Analyzer) perplexity(ctx context.Context, tokens []string) (float64, error) {
	windows := Windows(len(tokens), a.config.WindowSize, a.config.WindowStride)

	var sum float64
	for _, w := range windows {
		ppl, err := a.scorer.ScoreWindow(ctx, tokens[w[0]:w[1]])
		if err != nil {
			return 0, err
		}
		sum += ppl
	}
	return sum / float64(len(windows)), nil
}

// Windows returns [start, end) bounds of sliding windows over n tokens. The
// last window always ends at n.
func Windows(n, size, stride int) [][2]int {
	if n <= 0 {
		return nil
	}
	if n <= size {
		return [][2]int{{0, n}}
	}

	var out [][2]int
	start := 0
	for ; start+size < n; start += stride {
		out = append(out, [2]int{start, start + size})
	}
	return append(out, [2]int{n - size, n})
}

// Burstiness is the coefficient of variation of sentence lengths in words.
// It is zero for fewer than two sentences.
func Burstiness(text string) float64 {
	var lengths []float64
	for _, s := range processor.SplitSentences(text) {
		if n := len(processor.Words(s)); n > 0 {
			lengths = append(lengths, float64(n))
		}
	}
	if len(lengths) < 2 {
		return 0
	}

	var mean float64
	for _, l := range lengths {
		mean += l
	}
	mean /= float64(len(lengths))

	var variance float64
	for _, l := range lengths {
		variance += (l - mean) * (l - mean)
	}
	variance /= float64(len(lengths))

	return math.Sqrt(variance) / mean
}
