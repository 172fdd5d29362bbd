package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/assessor/internal/types"
)

// MaxTemperature is the highest sampling temperature accepted.
const MaxTemperature = 2.0

// OracleConfig represents the configuration for the completion oracle. A
// zero Temperature is used as is.
type OracleConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string // Ollama server URL
}

// Oracle answers stage prompts with a chat model. Answers are returned as
// text and validated by the caller.
type Oracle struct {
	config OracleConfig
	llm    llms.Model
	logger zerolog.Logger
}

func applyOracleDefaults(config *OracleConfig) error {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > MaxTemperature {
		return fmt.Errorf("temperature must be between 0 and %g", MaxTemperature)
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a careful teaching assistant who assesses student work. Follow the requested output format exactly."
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	return nil
}

// NewOracleWithConfig connects to an Ollama server.
func NewOracleWithConfig(config OracleConfig, logger zerolog.Logger) (*Oracle, error) {
	if err := applyOracleDefaults(&config); err != nil {
		return nil, err
	}

	model, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &Oracle{config: config, llm: model, logger: logger}, nil
}

// NewOracle wraps any langchaingo model.
func NewOracle(model llms.Model, config OracleConfig, logger zerolog.Logger) (*Oracle, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if err := applyOracleDefaults(&config); err != nil {
		return nil, err
	}
	return &Oracle{config: config, llm: model, logger: logger}, nil
}

// Complete sends one prompt and returns the first choice.
func (o *Oracle) Complete(ctx context.Context, prompt string, hint types.SchemaHint) (string, error) {
	system := o.config.SystemTemplate
	if hint.Schema != "" {
		system += "\n\nRespond with JSON matching this schema:\n" + hint.Schema
	}

	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	opts := []llms.CallOption{
		llms.WithMaxTokens(o.config.MaxTokens),
		llms.WithTemperature(o.config.Temperature),
	}
	if hint.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	response, err := o.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		oe := classify(err)
		o.logger.Debug().Err(err).Str("kind", string(oe.Kind)).Str("schema", hint.Name).Msg("Completion failed")
		return "", oe
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", Malformed("no choices in response", nil)
	}

	text := strings.TrimSpace(response.Choices[0].Content)
	if text == "" {
		return "", Malformed("empty completion", nil)
	}
	return text, nil
}
