package models

import (
	"fmt"
	"time"
)

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type Snippet struct {
	Source  string `json:"source"`
	Title   string `json:"title,omitempty"`
	Excerpt string `json:"excerpt"`
}

// ResearchContext lives for a single run only.
type ResearchContext struct {
	Query       string    `json:"query"`
	Snippets    []Snippet `json:"snippets"`
	RetrievedAt time.Time `json:"retrieved_at"`
	Degraded    bool      `json:"degraded,omitempty"`
}

type Finding struct {
	Topic       string `json:"topic"`
	Observation string `json:"observation"`
}

type AnalysisReport struct {
	Findings   []Finding `json:"findings"`
	Strengths  []string  `json:"strengths"`
	Weaknesses []string  `json:"weaknesses"`
	Confidence float64   `json:"confidence"`
}

type GradeReport struct {
	Score    float64 `json:"score"`
	Letter   string  `json:"letter"`
	Feedback string  `json:"feedback"`
}

type Match struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

type AuthenticityFeatures struct {
	Perplexity    float64 `json:"perplexity"`
	Burstiness    float64 `json:"burstiness"`
	Tokens        int     `json:"tokens"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

// PlagiarismReport is always produced. SimilarityScore is nil only when the
// embedding side degraded, and AIGenerated is nil when the authenticity
// verdict is low-confidence or unavailable.
type PlagiarismReport struct {
	SimilarityScore *float64             `json:"similarity_score"`
	NearestMatches  []Match              `json:"nearest_matches"`
	AIGenerated     *bool                `json:"ai_generated"`
	AIFeatures      AuthenticityFeatures `json:"ai_confidence_features"`
	Degraded        bool                 `json:"degraded"`
	DegradedReasons []string             `json:"degraded_reasons,omitempty"`
}

func (r *PlagiarismReport) Degrade(reason string) {
	r.Degraded = true
	r.DegradedReasons = append(r.DegradedReasons, reason)
}

type Stage string

const (
	StageExtraction Stage = "extraction"
	StageResearch   Stage = "research"
	StageAnalysis   Stage = "analysis"
	StageGrading    Stage = "grading"
	StageScreening  Stage = "screening"
)

type PipelineState string

const (
	StateExtracted   PipelineState = "extracted"
	StateResearching PipelineState = "researching"
	StateAnalyzing   PipelineState = "analyzing"
	StateGrading     PipelineState = "grading"
	StateCompleted   PipelineState = "completed"
	StateFailed      PipelineState = "failed"
)

// Stage reports the stage a non-terminal state is working on.
func (s PipelineState) Stage() Stage {
	switch s {
	case StateResearching:
		return StageResearch
	case StateAnalyzing:
		return StageAnalysis
	case StateGrading:
		return StageGrading
	default:
		return StageExtraction
	}
}

func (s PipelineState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// PipelineStatus is the tagged terminal state of a run. FailedStage is set
// only when State is StateFailed.
type PipelineStatus struct {
	State              PipelineState `json:"state"`
	FailedStage        Stage         `json:"failed_stage,omitempty"`
	Reason             string        `json:"reason,omitempty"`
	ResearchDegraded   bool          `json:"research_degraded,omitempty"`
	PlagiarismDegraded bool          `json:"plagiarism_degraded,omitempty"`
}

func (s PipelineStatus) String() string {
	if s.State == StateFailed {
		return fmt.Sprintf("failed(%s)", s.FailedStage)
	}
	return string(s.State)
}

// AssessmentResult is the outcome of one run for one document.
type AssessmentResult struct {
	RunID        string           `json:"run_id"`
	DocumentID   string           `json:"document_id"`
	Prompt       string           `json:"prompt"`
	Grade        *GradeReport     `json:"grade,omitempty"`
	FeedbackText string           `json:"feedback_text,omitempty"`
	Analysis     *AnalysisReport  `json:"analysis,omitempty"`
	Research     *ResearchContext `json:"research,omitempty"`
	Plagiarism   PlagiarismReport `json:"plagiarism"`
	Status       PipelineStatus   `json:"pipeline_status"`
	Attempts     map[Stage]int    `json:"attempts,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
}
