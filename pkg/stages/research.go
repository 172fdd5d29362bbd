package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/internal/types"
	"github.com/xhad/assessor/pkg/processor"
	"github.com/xhad/assessor/pkg/store"
)

type ResearchConfig struct {
	MaxResults        int
	HistoricalResults int
	MaxQueryTerms     int
	// OracleQuery asks the oracle for the search query instead of using
	// prompt keywords. Keywords remain the fallback.
	OracleQuery bool
	Now         func() time.Time
}

// Researcher gathers web results for the prompt and excerpts of similar
// earlier submissions. Either source may be nil.
type Researcher struct {
	searcher types.Searcher
	indexer  *store.Indexer
	oracle   types.Oracle
	config   ResearchConfig
	logger   zerolog.Logger
}

func NewResearcher(searcher types.Searcher, indexer *store.Indexer, oracle types.Oracle, config ResearchConfig, logger zerolog.Logger) *Researcher {
	if config.MaxResults == 0 {
		config.MaxResults = 3
	}
	if config.MaxQueryTerms == 0 {
		config.MaxQueryTerms = 8
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Researcher{
		searcher: searcher,
		indexer:  indexer,
		oracle:   oracle,
		config:   config,
		logger:   logger,
	}
}

// BuildQuery joins the first max keywords of prompt.
func BuildQuery(prompt string, max int) string {
	return strings.Join(processor.Keywords(prompt, max), " ")
}

// Research returns whatever context could be gathered. When a provider
// fails the partial context is returned together with the error.
func (r *Researcher) Research(ctx context.Context, in ResearchInput) (*models.ResearchContext, error) {
	rc := &models.ResearchContext{
		Query:    r.query(ctx, in),
		Snippets: []models.Snippet{},
	}

	var errs []error

	if r.searcher != nil && rc.Query != "" {
		results, err := r.searcher.Search(ctx, rc.Query)
		if err != nil {
			errs = append(errs, fmt.Errorf("web search: %w", err))
		}
		for i, res := range results {
			if i == r.config.MaxResults {
				break
			}
			rc.Snippets = append(rc.Snippets, models.Snippet{Source: res.URL, Title: res.Title, Excerpt: res.Snippet})
		}
	}

	if r.indexer != nil && r.config.HistoricalResults > 0 && in.Document != nil {
		snippets, err := r.historical(ctx, in.Document, in.Prompt)
		if err != nil {
			errs = append(errs, fmt.Errorf("historical submissions: %w", err))
		}
		rc.Snippets = append(rc.Snippets, snippets...)
	}

	rc.RetrievedAt = r.config.Now().UTC()
	if len(errs) > 0 {
		rc.Degraded = true
		return rc, errors.Join(errs...)
	}
	return rc, nil
}

func (r *Researcher) query(ctx context.Context, in ResearchInput) string {
	fallback := BuildQuery(in.Prompt, r.config.MaxQueryTerms)
	if !r.config.OracleQuery || r.oracle == nil {
		return fallback
	}

	answer, err := r.oracle.Complete(ctx, searchQueryPrompt(in), types.SchemaHint{Name: "search_query"})
	if err != nil {
		r.logger.Debug().Err(err).Msg("Using keyword search query")
		return fallback
	}

	line := strings.TrimSpace(strings.SplitN(answer, "\n", 2)[0])
	line = strings.Trim(line, "\"'*` ")
	if line == "" {
		return fallback
	}
	return line
}

// historicalOverfetch leaves room for neighbours answering other prompts.
const historicalOverfetch = 4

// historical returns excerpts of earlier graded submissions to the same
// prompt, labelled with the grade they received.
func (r *Researcher) historical(ctx context.Context, doc *models.SubmissionDocument, prompt string) ([]models.Snippet, error) {
	vec, err := r.indexer.Embed(ctx, doc.RawText)
	if err != nil {
		return nil, err
	}
	neighbors, err := r.indexer.Store().QueryNearest(ctx, vec, r.config.HistoricalResults*historicalOverfetch+1)
	if err != nil {
		return nil, err
	}

	var snippets []models.Snippet
	for _, n := range neighbors {
		if n.DocumentID == doc.ID || n.Excerpt == "" || n.Prompt != prompt {
			continue
		}
		if len(snippets) == r.config.HistoricalResults {
			break
		}
		snippets = append(snippets, models.Snippet{
			Source:  "submission:" + n.DocumentID,
			Title:   historicalTitle(n),
			Excerpt: n.Excerpt,
		})
	}
	return snippets, nil
}

func historicalTitle(n models.Neighbor) string {
	if n.Grade == nil {
		return fmt.Sprintf("Earlier submission (similarity %.2f)", n.Similarity)
	}
	return fmt.Sprintf("Earlier submission graded %.1f/100 (similarity %.2f)", *n.Grade, n.Similarity)
}
