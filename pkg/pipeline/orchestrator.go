package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/internal/types"
	"github.com/xhad/assessor/pkg/authenticity"
	"github.com/xhad/assessor/pkg/extractor"
	"github.com/xhad/assessor/pkg/screener"
	"github.com/xhad/assessor/pkg/stages"
	"github.com/xhad/assessor/pkg/store"
)

// Orchestrator drives one submission through research, analysis and
// grading while the screener runs alongside. Every run ends in Completed or
// Failed and always yields a result.
type Orchestrator struct {
	extractor *extractor.Extractor
	research  stages.ResearchStage
	analysis  stages.AnalysisStage
	grading   stages.GradingStage
	screener  *screener.Screener
	publisher types.Publisher
	config    Config
	logger    zerolog.Logger

	newRunID func() string
	now      func() time.Time
}

func New(pc *PipelineContext, config Config) *Orchestrator {
	config.applyDefaults()
	logger := pc.Logger

	indexer := store.NewIndexer(pc.Embedder, pc.Store)
	analyzer := authenticity.NewAnalyzer(pc.Scorer, config.Authenticity, logger.With().Str("component", "authenticity").Logger())

	return &Orchestrator{
		extractor: extractor.NewWithConfig(config.Extractor, logger),
		research:  stages.NewResearcher(pc.Searcher, indexer, pc.Oracle, config.Research, logger),
		analysis:  stages.NewAnalyst(pc.Oracle, config.AnalysisMaxChars, logger),
		grading:   stages.NewGrader(pc.Oracle, config.GradingMaxChars, logger),
		screener:  screener.New(indexer, analyzer, screener.Config{K: config.ScreenerK}, logger.With().Str("component", "screener").Logger()),
		publisher: pc.Publisher,
		config:    config,
		logger:    logger,
		newRunID:  uuid.NewString,
		now:       time.Now,
	}
}

// RunOptions are the per-run settings collected from RunOption values.
type RunOptions struct {
	ReferenceMaterial string
	Observer          types.Observer
}

type RunOption func(*RunOptions)

func CollectRunOptions(opts ...RunOption) RunOptions {
	var ro RunOptions
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

// WithReferenceMaterial passes instructor material to the analysis stage.
func WithReferenceMaterial(text string) RunOption {
	return func(o *RunOptions) { o.ReferenceMaterial = text }
}

// WithObserver reports every state transition of the run.
func WithObserver(obs types.Observer) RunOption {
	return func(o *RunOptions) { o.Observer = obs }
}

// Submission is a raw upload. Submitter is optional and only recorded.
type Submission struct {
	Raw          []byte
	Format       models.SourceFormat
	Filename     string
	LanguageHint string
	Submitter    string
}

// Assess extracts the submission and runs it. Only extraction errors are
// returned; everything later is reported on the result.
func (o *Orchestrator) Assess(ctx context.Context, sub Submission, prompt string, opts ...RunOption) (*models.AssessmentResult, error) {
	doc, err := o.extractor.Extract(sub.Raw, sub.Format, sub.Filename, sub.LanguageHint)
	if err != nil {
		return nil, err
	}
	doc.Submitter = sub.Submitter
	return o.RunAssessment(ctx, doc, prompt, opts...), nil
}

type run struct {
	result   *models.AssessmentResult
	state    models.PipelineState
	observer types.Observer
	logger   zerolog.Logger
}

func (o *Orchestrator) transition(r *run, to models.PipelineState) {
	from := r.state
	r.state = to
	r.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Pipeline transition")
	if r.observer != nil {
		r.observer.OnTransition(r.result.RunID, from, to)
	}
}

func (o *Orchestrator) fail(r *run, stage models.Stage, err error) {
	r.result.Status.State = models.StateFailed
	r.result.Status.FailedStage = stage
	r.result.Status.Reason = err.Error()
	r.logger.Warn().Err(err).Str("stage", string(stage)).Msg("Assessment failed")
	o.transition(r, models.StateFailed)
}

// RunAssessment runs doc through the pipeline.
func (o *Orchestrator) RunAssessment(ctx context.Context, doc *models.SubmissionDocument, prompt string, opts ...RunOption) *models.AssessmentResult {
	ro := CollectRunOptions(opts...)

	result := &models.AssessmentResult{
		RunID:      o.newRunID(),
		DocumentID: doc.ID,
		Prompt:     prompt,
		Attempts:   make(map[models.Stage]int),
		StartedAt:  o.now().UTC(),
	}
	r := &run{
		result:   result,
		state:    models.StateExtracted,
		observer: ro.Observer,
		logger:   o.logger.With().Str("run_id", result.RunID).Str("document_id", doc.ID).Logger(),
	}
	r.logger.Info().Msg("Assessment started")

	screened := make(chan screener.Screening, 1)
	go func() {
		screened <- o.screener.Screen(ctx, doc)
	}()

	o.runStages(ctx, r, doc, prompt, ro.ReferenceMaterial)

	sc := o.awaitScreening(ctx, screened)
	result.Plagiarism = sc.Report
	result.Status.PlagiarismDegraded = result.Plagiarism.Degraded
	o.remember(ctx, r, doc, sc)
	result.FinishedAt = o.now().UTC()

	r.logger.Info().
		Str("status", result.Status.String()).
		Bool("research_degraded", result.Status.ResearchDegraded).
		Bool("plagiarism_degraded", result.Status.PlagiarismDegraded).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Assessment finished")

	if o.publisher != nil {
		if err := o.publisher.PublishResult(context.WithoutCancel(ctx), result); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to publish result")
		}
	}
	return result
}

func (o *Orchestrator) runStages(ctx context.Context, r *run, doc *models.SubmissionDocument, prompt, reference string) {
	result := r.result

	o.transition(r, models.StateResearching)
	result.Attempts[models.StageResearch] = 1
	researchCtx, cancel := context.WithTimeout(ctx, o.config.ResearchTimeout)
	rc, err := o.research.Research(researchCtx, stages.ResearchInput{Prompt: prompt, Document: doc, ReferenceMaterial: reference})
	cancel()
	if ctx.Err() != nil {
		o.fail(r, models.StageResearch, ctx.Err())
		return
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("Research degraded")
		result.Status.ResearchDegraded = true
		if rc == nil {
			rc = &models.ResearchContext{Snippets: []models.Snippet{}, RetrievedAt: o.now().UTC()}
		}
		rc.Degraded = true
	}
	result.Research = rc

	o.transition(r, models.StateAnalyzing)
	analysis, err := withRetry(ctx, o, r, models.StageAnalysis, func(ctx context.Context) (*models.AnalysisReport, error) {
		return o.analysis.Analyze(ctx, stages.AnalysisInput{
			Prompt:            prompt,
			Document:          doc,
			Research:          rc,
			ReferenceMaterial: reference,
		})
	})
	if err != nil {
		o.fail(r, models.StageAnalysis, err)
		return
	}
	result.Analysis = analysis

	o.transition(r, models.StateGrading)
	grade, err := withRetry(ctx, o, r, models.StageGrading, func(ctx context.Context) (*models.GradeReport, error) {
		return o.grading.Grade(ctx, stages.GradingInput{Prompt: prompt, Document: doc, Analysis: analysis})
	})
	if err != nil {
		o.fail(r, models.StageGrading, err)
		return
	}
	result.Grade = grade
	result.FeedbackText = grade.Feedback

	result.Status.State = models.StateCompleted
	o.transition(r, models.StateCompleted)
}

// awaitScreening joins the screener, waiting at most ScreenWait after the
// stages finished.
func (o *Orchestrator) awaitScreening(ctx context.Context, screened <-chan screener.Screening) screener.Screening {
	select {
	case sc := <-screened:
		return sc
	default:
	}

	if ctx.Err() == nil && o.config.ScreenWait > 0 {
		timer := time.NewTimer(o.config.ScreenWait)
		defer timer.Stop()
		select {
		case sc := <-screened:
			return sc
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	report := models.PlagiarismReport{NearestMatches: []models.Match{}}
	report.Degrade("screening not finished")
	return screener.Screening{Report: report}
}

// remember stores the submission once the run reached its terminal state,
// so the record carries the prompt and, when graded, the grade.
func (o *Orchestrator) remember(ctx context.Context, r *run, doc *models.SubmissionDocument, sc screener.Screening) {
	if ctx.Err() != nil {
		return
	}
	ann := store.Annotation{Prompt: r.result.Prompt}
	if r.result.Grade != nil {
		score := r.result.Grade.Score
		ann.Grade = &score
	}
	if err := o.screener.Remember(ctx, doc, sc, ann); err != nil {
		r.logger.Warn().Err(err).Msg("Submission not stored for later screening")
	}
}
