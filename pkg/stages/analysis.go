package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/internal/types"
	"github.com/xhad/assessor/pkg/llm"
)

type Analyst struct {
	oracle   types.Oracle
	maxChars int
	logger   zerolog.Logger
}

func NewAnalyst(oracle types.Oracle, maxChars int, logger zerolog.Logger) *Analyst {
	if maxChars == 0 {
		maxChars = 8000
	}
	return &Analyst{oracle: oracle, maxChars: maxChars, logger: logger}
}

func (a *Analyst) Analyze(ctx context.Context, in AnalysisInput) (*models.AnalysisReport, error) {
	answer, err := a.oracle.Complete(ctx, analysisPrompt(in, a.maxChars), types.SchemaHint{
		Name:   "analysis",
		JSON:   true,
		Schema: analysisSchema,
	})
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(answer)
}

// ParseAnalysis validates an oracle answer. Any violation is a malformed
// oracle error so the caller can retry.
func ParseAnalysis(answer string) (*models.AnalysisReport, error) {
	raw, ok := extractJSON(answer)
	if !ok {
		return nil, llm.Malformed("analysis is not json", nil)
	}

	var report models.AnalysisReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, llm.Malformed("analysis is not valid json", err)
	}

	if len(report.Findings) == 0 {
		return nil, llm.Malformed("analysis has no findings", nil)
	}
	for i, f := range report.Findings {
		if strings.TrimSpace(f.Topic) == "" || strings.TrimSpace(f.Observation) == "" {
			return nil, llm.Malformed(fmt.Sprintf("finding %d is incomplete", i), nil)
		}
	}
	if report.Confidence < 0 || report.Confidence > 1 {
		return nil, llm.Malformed(fmt.Sprintf("confidence %v outside [0,1]", report.Confidence), nil)
	}
	if report.Strengths == nil {
		report.Strengths = []string{}
	}
	if report.Weaknesses == nil {
		report.Weaknesses = []string{}
	}
	return &report, nil
}
