package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/types"
	"github.com/xhad/assessor/pkg/authenticity"
	"github.com/xhad/assessor/pkg/config"
	"github.com/xhad/assessor/pkg/events"
	"github.com/xhad/assessor/pkg/extractor"
	"github.com/xhad/assessor/pkg/llm"
	"github.com/xhad/assessor/pkg/scraper"
	"github.com/xhad/assessor/pkg/stages"
	"github.com/xhad/assessor/pkg/store"
)

// PipelineContext holds the collaborators shared by every run. It is built
// once and passed to the orchestrator. Searcher and Publisher may be nil.
type PipelineContext struct {
	Oracle    types.Oracle
	Embedder  types.Embedder
	Searcher  types.Searcher
	Store     types.VectorStore
	Publisher types.Publisher
	Scorer    authenticity.WindowScorer
	Logger    zerolog.Logger

	closers []func() error
}

// NewPipelineContext connects every collaborator named in cfg.
func NewPipelineContext(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*PipelineContext, error) {
	pc := &PipelineContext{Logger: logger}

	oracle, err := llm.NewOracleWithConfig(llm.OracleConfig{
		Model:       cfg.LLM.Model,
		Temperature: derefFloat(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
	}, logger.With().Str("component", "oracle").Logger())
	if err != nil {
		return nil, err
	}
	pc.Oracle = oracle

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.Embedding.Model,
		ChunkSize: cfg.Embedding.ChunkSize,
		BaseURL:   cfg.Embedding.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	pc.Embedder = embedder

	vs, err := store.Open(ctx, cfg.Store, logger.With().Str("component", "store").Logger())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	pc.Store = vs
	pc.closers = append(pc.closers, vs.Close)

	if !cfg.Research.Disabled {
		searcher, err := scraper.NewWithConfig(scraper.SearcherConfig{
			Endpoint:   cfg.Research.Endpoint,
			MaxResults: cfg.Research.MaxResults,
			RateLimit:  cfg.Research.RateLimit,
			Timeout:    cfg.Research.Timeout,
			FetchPages: cfg.Research.FetchPages,
		}, logger.With().Str("component", "search").Logger())
		if err != nil {
			pc.Close()
			return nil, err
		}
		pc.Searcher = searcher

		if cfg.Cache.RedisURL != "" {
			client, err := scraper.NewRedisClient(cfg.Cache.RedisURL)
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("redis: %w", err)
			}
			pc.closers = append(pc.closers, client.Close)
			pc.Searcher = scraper.NewCachedSearcher(searcher, client, cfg.Cache.TTL, logger)
		}
	}

	if cfg.Events.AMQPURL != "" {
		pub, err := events.NewPublisher(events.Config{
			URL:        cfg.Events.AMQPURL,
			Exchange:   cfg.Events.Exchange,
			RoutingKey: cfg.Events.RoutingKey,
		}, logger.With().Str("component", "events").Logger())
		if err != nil {
			pc.Close()
			return nil, err
		}
		pc.Publisher = pub
		pc.closers = append(pc.closers, pub.Close)
	}

	return pc, nil
}

func (pc *PipelineContext) Close() error {
	var errs []error
	for i := len(pc.closers) - 1; i >= 0; i-- {
		if err := pc.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	pc.closers = nil
	return errors.Join(errs...)
}

// Config tunes an orchestrator.
type Config struct {
	StageTimeout     time.Duration
	ResearchTimeout  time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	ScreenWait       time.Duration
	Workers          int
	AnalysisMaxChars int
	GradingMaxChars  int
	ScreenerK        int
	Research         stages.ResearchConfig
	Authenticity     authenticity.Config
	Extractor        extractor.ExtractorConfig
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		StageTimeout:     cfg.Pipeline.StageTimeout,
		ResearchTimeout:  cfg.Pipeline.ResearchTimeout,
		MaxRetries:       derefInt(cfg.Pipeline.MaxRetries),
		BackoffBase:      cfg.Pipeline.BackoffBase,
		ScreenWait:       cfg.Pipeline.ScreenWait,
		Workers:          cfg.Pipeline.Workers,
		AnalysisMaxChars: cfg.Pipeline.AnalysisMaxChars,
		GradingMaxChars:  cfg.Pipeline.GradingMaxChars,
		ScreenerK:        cfg.Screener.K,
		Research: stages.ResearchConfig{
			MaxResults:        cfg.Research.MaxResults,
			HistoricalResults: cfg.Research.HistoricalResults,
			MaxQueryTerms:     cfg.Research.MaxQueryTerms,
			OracleQuery:       cfg.Research.OracleQuery,
		},
		Authenticity: authenticity.Config{
			MinTokens:    cfg.Authenticity.MinTokens,
			WindowSize:   cfg.Authenticity.WindowSize,
			WindowStride: cfg.Authenticity.WindowStride,
			Thresholds: authenticity.Thresholds{
				Perplexity: cfg.Authenticity.PerplexityThreshold,
				Burstiness: cfg.Authenticity.BurstinessThreshold,
			},
		},
	}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func (c *Config) applyDefaults() {
	if c.StageTimeout == 0 {
		c.StageTimeout = 30 * time.Second
	}
	if c.ResearchTimeout == 0 {
		c.ResearchTimeout = 20 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}
