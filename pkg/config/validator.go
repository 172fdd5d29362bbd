package config

import (
	"fmt"
	"net/url"

	"github.com/xhad/assessor/pkg/llm"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > llm.MaxTemperature) {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: fmt.Sprintf("temperature must be between 0 and %g", llm.MaxTemperature),
		})
	}

	if c.Embedding.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	// Validate store config
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "store.path",
				Message: "path is required for the sqlite backend",
			})
		}
	case "pgvector":
		if c.Store.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "store.url",
				Message: "url is required for the pgvector backend",
			})
		} else if _, err := url.Parse(c.Store.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "store.url",
				Message: "invalid database URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unknown backend: %s", c.Store.Backend),
		})
	}

	if c.Store.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	// Validate research config
	if !c.Research.Disabled {
		if _, err := url.ParseRequestURI(c.Research.Endpoint); err != nil {
			errors = append(errors, ValidationError{
				Field:   "research.endpoint",
				Message: "invalid search endpoint",
			})
		}
	}

	if c.Research.MaxResults < 1 {
		errors = append(errors, ValidationError{
			Field:   "research.max_results",
			Message: "max_results must be positive",
		})
	}

	if c.Research.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "research.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate authenticity config
	if c.Authenticity.WindowStride < 1 || c.Authenticity.WindowStride > c.Authenticity.WindowSize {
		errors = append(errors, ValidationError{
			Field:   "authenticity.window_stride",
			Message: "window_stride must be positive and not larger than window_size",
		})
	}

	if c.Authenticity.BurstinessThreshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "authenticity.burstiness_threshold",
			Message: "burstiness_threshold must be non-negative",
		})
	}

	if c.Screener.K < 1 {
		errors = append(errors, ValidationError{
			Field:   "screener.k",
			Message: "k must be positive",
		})
	}

	// Validate pipeline config
	if c.Pipeline.StageTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.stage_timeout",
			Message: "stage_timeout must be positive",
		})
	}

	if r := c.Pipeline.MaxRetries; r != nil && *r < 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.max_retries",
			Message: "max_retries must be non-negative",
		})
	}

	if c.Pipeline.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.workers",
			Message: "workers must be positive",
		})
	}

	if c.Events.AMQPURL != "" {
		if u, err := url.Parse(c.Events.AMQPURL); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			errors = append(errors, ValidationError{
				Field:   "events.amqp_url",
				Message: "amqp_url must use the amqp or amqps scheme",
			})
		}
	}

	return errors
}
