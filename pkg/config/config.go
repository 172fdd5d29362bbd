package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Store        StoreConfig        `yaml:"store"`
	Research     ResearchConfig     `yaml:"research"`
	Cache        CacheConfig        `yaml:"cache"`
	Authenticity AuthenticityConfig `yaml:"authenticity"`
	Screener     ScreenerConfig     `yaml:"screener"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Events       EventsConfig       `yaml:"events"`
	Logging      LoggingConfig      `yaml:"logging"`
	Server       ServerConfig       `yaml:"server"`
}

type LLMConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	// Temperature is nil when unset so an explicit 0 is kept.
	Temperature *float64 `yaml:"temperature"`
}

type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	ChunkSize int    `yaml:"chunk_size"`
}

type StoreConfig struct {
	Backend   string `yaml:"backend"` // memory, sqlite or pgvector
	URL       string `yaml:"url"`
	Path      string `yaml:"path"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
}

type ResearchConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	MaxResults        int           `yaml:"max_results"`
	HistoricalResults int           `yaml:"historical_results"`
	MaxQueryTerms     int           `yaml:"max_query_terms"`
	RateLimit         float64       `yaml:"rate_limit"`
	Timeout           time.Duration `yaml:"timeout"`
	FetchPages        bool          `yaml:"fetch_pages"`
	OracleQuery       bool          `yaml:"oracle_query"`
	Disabled          bool          `yaml:"disabled"`
}

type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthenticityConfig struct {
	MinTokens           int     `yaml:"min_tokens"`
	WindowSize          int     `yaml:"window_size"`
	WindowStride        int     `yaml:"window_stride"`
	PerplexityThreshold float64 `yaml:"perplexity_threshold"`
	BurstinessThreshold float64 `yaml:"burstiness_threshold"`
}

type ScreenerConfig struct {
	K int `yaml:"k"`
}

type PipelineConfig struct {
	StageTimeout     time.Duration `yaml:"stage_timeout"`
	ResearchTimeout  time.Duration `yaml:"research_timeout"`
	MaxRetries       *int          `yaml:"max_retries"` // nil when unset; 0 disables retries
	BackoffBase      time.Duration `yaml:"backoff_base"`
	ScreenWait       time.Duration `yaml:"screen_wait"`
	Workers          int           `yaml:"workers"`
	AnalysisMaxChars int           `yaml:"analysis_max_chars"`
	GradingMaxChars  int           `yaml:"grading_max_chars"`
}

type EventsConfig struct {
	AMQPURL    string `yaml:"amqp_url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Pretty  bool   `yaml:"pretty"`
	NoColor bool   `yaml:"no_color"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/assessor/config.yaml"),
			"/etc/assessor/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

// Int returns a pointer to v, for optional settings.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for optional settings.
func Float(v float64) *float64 { return &v }

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == nil {
		config.LLM.Temperature = Float(0.2)
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.ChunkSize == 0 {
		config.Embedding.ChunkSize = 2000
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "memory"
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "submission_embeddings"
	}
	if config.Store.VectorDim == 0 {
		config.Store.VectorDim = 768
	}
	if config.Store.Path == "" {
		config.Store.Path = "assessor.db"
	}

	if config.Research.Endpoint == "" {
		config.Research.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if config.Research.MaxResults == 0 {
		config.Research.MaxResults = 3
	}
	if config.Research.HistoricalResults == 0 {
		config.Research.HistoricalResults = 2
	}
	if config.Research.MaxQueryTerms == 0 {
		config.Research.MaxQueryTerms = 8
	}
	if config.Research.RateLimit == 0 {
		config.Research.RateLimit = 1.0
	}
	if config.Research.Timeout == 0 {
		config.Research.Timeout = 15 * time.Second
	}

	if config.Cache.TTL == 0 {
		config.Cache.TTL = 24 * time.Hour
	}

	if config.Authenticity.MinTokens == 0 {
		config.Authenticity.MinTokens = 50
	}
	if config.Authenticity.WindowSize == 0 {
		config.Authenticity.WindowSize = 128
	}
	if config.Authenticity.WindowStride == 0 {
		config.Authenticity.WindowStride = 96
	}
	if config.Authenticity.PerplexityThreshold == 0 {
		config.Authenticity.PerplexityThreshold = 1500
	}
	if config.Authenticity.BurstinessThreshold == 0 {
		config.Authenticity.BurstinessThreshold = 0.3
	}

	if config.Screener.K == 0 {
		config.Screener.K = 5
	}

	if config.Pipeline.StageTimeout == 0 {
		config.Pipeline.StageTimeout = 30 * time.Second
	}
	if config.Pipeline.ResearchTimeout == 0 {
		config.Pipeline.ResearchTimeout = 20 * time.Second
	}
	if config.Pipeline.MaxRetries == nil {
		config.Pipeline.MaxRetries = Int(1)
	}
	if config.Pipeline.BackoffBase == 0 {
		config.Pipeline.BackoffBase = 2 * time.Second
	}
	if config.Pipeline.ScreenWait == 0 {
		config.Pipeline.ScreenWait = 10 * time.Second
	}
	if config.Pipeline.Workers == 0 {
		config.Pipeline.Workers = 4
	}
	if config.Pipeline.AnalysisMaxChars == 0 {
		config.Pipeline.AnalysisMaxChars = 8000
	}
	if config.Pipeline.GradingMaxChars == 0 {
		config.Pipeline.GradingMaxChars = 6000
	}

	if config.Events.Exchange == "" {
		config.Events.Exchange = "assessments"
	}
	if config.Events.RoutingKey == "" {
		config.Events.RoutingKey = "assessment.finished"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
		if config.Store.Backend == "" {
			config.Store.Backend = "pgvector"
		}
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.Cache.RedisURL = redisURL
	}
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		config.Events.AMQPURL = amqpURL
	}
	if level := os.Getenv("ASSESSOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
