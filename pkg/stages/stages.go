// Package stages holds the three oracle-backed steps of an assessment run.
// Each stage has typed input and output and validates what the oracle
// returns before handing it on.
package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/xhad/assessor/internal/models"
)

type ResearchInput struct {
	Prompt            string
	Document          *models.SubmissionDocument
	ReferenceMaterial string
}

type AnalysisInput struct {
	Prompt            string
	Document          *models.SubmissionDocument
	Research          *models.ResearchContext
	ReferenceMaterial string
}

type GradingInput struct {
	Prompt   string
	Document *models.SubmissionDocument
	Analysis *models.AnalysisReport
}

type ResearchStage interface {
	Research(ctx context.Context, in ResearchInput) (*models.ResearchContext, error)
}

type AnalysisStage interface {
	Analyze(ctx context.Context, in AnalysisInput) (*models.AnalysisReport, error)
}

type GradingStage interface {
	Grade(ctx context.Context, in GradingInput) (*models.GradeReport, error)
}

// truncate cuts text to max runes and appends a note saying so.
func truncate(text string, max int) string {
	r := []rune(text)
	if max <= 0 || len(r) <= max {
		return text
	}
	return string(r[:max]) + fmt.Sprintf("\n\n[Note: Answer truncated from %d characters due to length limits]", len(r))
}

// extractJSON returns the outermost JSON object in text, ignoring code
// fences and any prose around it.
func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
