package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Badger      BadgerConfig     `toml:"badger"`
	Postgres    PostgresConfig   `toml:"postgres"`
	Queue       QueueConfig      `toml:"queue"`
	Crawler     CrawlerConfig    `toml:"crawler"`
	LLM         LLMConfig        `toml:"llm"`
	Defaults    PublisherDefault `toml:"defaults"`
	QA          QAConfig         `toml:"qa"`
	Logging     LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port" validate:"gt=0,lte=65535"`
	AdminAPIKey string `toml:"admin_api_key"` // Operator key matched against X-Admin-Key
}

// BadgerConfig represents the embedded document store configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// PostgresConfig represents the relational store holding publisher accounts
type PostgresConfig struct {
	URL          string        `toml:"url"`            // postgres:// connection string
	MaxOpenConns int           `toml:"max_open_conns"` // Connection pool ceiling
	MaxIdleConns int           `toml:"max_idle_conns"`
	ConnTimeout  time.Duration `toml:"conn_timeout"` // Startup ping timeout
}

// QueueConfig controls the worker pool and lease management
type QueueConfig struct {
	PollInterval      time.Duration `toml:"poll_interval"`      // How often idle workers poll for jobs
	Concurrency       int           `toml:"concurrency"`        // Number of worker goroutines
	StaleAfter        time.Duration `toml:"stale_after"`        // Lease age before reclaim
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"` // Lease refresh cadence while processing
	MaxRetries        int           `toml:"max_retries"`        // Attempts before a job dead-letters
	ReclaimSchedule   string        `toml:"reclaim_schedule"`   // Cron expression for the stale-lease sweep
}

// CrawlerConfig contains blog fetch and extraction settings
type CrawlerConfig struct {
	UserAgent          string        `toml:"user_agent"`
	UserAgentRotation  bool          `toml:"user_agent_rotation"` // Random UA per request
	RequestTimeout     time.Duration `toml:"request_timeout"`     // Per-fetch timeout
	MaxBodySize        int           `toml:"max_body_size"`       // Maximum response body size in bytes
	MinWordCount       int           `toml:"min_word_count"`      // Extractions below this fail as crawl errors
	EnableJavaScript   bool          `toml:"enable_javascript"`   // chromedp fallback for JS-rendered pages (needs local Chrome)
	JavaScriptWaitTime time.Duration `toml:"javascript_wait_time"`
}

// ProviderConfig holds per-vendor API settings
type ProviderConfig struct {
	APIKey       string `toml:"api_key"`
	DefaultModel string `toml:"default_model"`
}

// LLMConfig contains the provider registry configuration
type LLMConfig struct {
	DefaultProvider     string         `toml:"default_provider"` // "openai", "anthropic" or "gemini"
	EmbeddingModel      string         `toml:"embedding_model"`  // One embedding model per deployment, fixed dimension
	EmbeddingDimensions int            `toml:"embedding_dimensions"`
	MaxRetries          int            `toml:"max_retries"`
	RetryBaseDelay      time.Duration  `toml:"retry_base_delay"`
	RequestTimeout      time.Duration  `toml:"request_timeout"`
	OpenAI              ProviderConfig `toml:"openai"`
	Anthropic           ProviderConfig `toml:"anthropic"`
	Gemini              ProviderConfig `toml:"gemini"`
}

// PublisherDefault holds the fallback pipeline configuration used when a
// blog's domain has no registered publisher.
type PublisherDefault struct {
	QuestionsPerBlog  int     `toml:"questions_per_blog" validate:"gte=1,lte=20"`
	ChatModel         string  `toml:"chat_model"`
	SummaryModel      string  `toml:"summary_model"`
	QuestionsModel    string  `toml:"questions_model"`
	Temperature       float32 `toml:"temperature"`
	SummaryMaxTokens  int     `toml:"summary_max_tokens"`
	QuestionMaxTokens int     `toml:"question_max_tokens"`
}

// QAConfig controls the ad-hoc question endpoint rate limit
type QAConfig struct {
	RateEvery time.Duration `toml:"rate_every"` // One request allowed per publisher per interval
	Burst     int           `toml:"burst"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in respondeo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8085,
		},
		Badger: BadgerConfig{
			Path: "./data",
		},
		Postgres: PostgresConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnTimeout:  10 * time.Second,
		},
		Queue: QueueConfig{
			PollInterval:      5 * time.Second,  // Workers sleep the full interval when idle
			Concurrency:       2,                // Worker goroutines
			StaleAfter:        10 * time.Minute, // Lease reclaimed after this much heartbeat silence
			HeartbeatInterval: 30 * time.Second,
			MaxRetries:        3,
			ReclaimSchedule:   "*/1 * * * *", // Stale-lease sweep every minute
		},
		Crawler: CrawlerConfig{
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			UserAgentRotation:  true,
			RequestTimeout:     30 * time.Second,
			MaxBodySize:        10 * 1024 * 1024, // 10MB
			MinWordCount:       50,               // Below this the crawl is treated as failed
			EnableJavaScript:   false,            // Requires a local Chrome when enabled
			JavaScriptWaitTime: 2 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider:     "openai",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimensions: 1536,
			MaxRetries:          3,
			RetryBaseDelay:      2 * time.Second,
			RequestTimeout:      60 * time.Second,
			OpenAI: ProviderConfig{
				DefaultModel: "gpt-4o-mini",
			},
			Anthropic: ProviderConfig{
				DefaultModel: "claude-3-5-haiku-latest",
			},
			Gemini: ProviderConfig{
				DefaultModel: "gemini-2.0-flash",
			},
		},
		Defaults: PublisherDefault{
			QuestionsPerBlog:  5,
			ChatModel:         "gpt-4o-mini",
			SummaryModel:      "gpt-4o-mini",
			QuestionsModel:    "gpt-4o-mini",
			Temperature:       0.7,
			SummaryMaxTokens:  1024,
			QuestionMaxTokens: 2048,
		},
		QA: QAConfig{
			RateEvery: 10 * time.Second,
			Burst:     3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple TOML files. Later files
// override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// The deployment-facing names (POSTGRES_URL, ADMIN_API_KEY, provider keys,
// POLL_INTERVAL_SECONDS, ...) are unprefixed; application-level tuning uses
// the RESPONDEO_ prefix.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("RESPONDEO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("RESPONDEO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("RESPONDEO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if adminKey := os.Getenv("ADMIN_API_KEY"); adminKey != "" {
		config.Server.AdminAPIKey = adminKey
	}

	// Stores
	if badgerPath := os.Getenv("BADGER_PATH"); badgerPath != "" {
		config.Badger.Path = badgerPath
	}
	if pgURL := os.Getenv("POSTGRES_URL"); pgURL != "" {
		config.Postgres.URL = pgURL
	}

	// Queue configuration
	if pollSeconds := os.Getenv("POLL_INTERVAL_SECONDS"); pollSeconds != "" {
		if s, err := strconv.Atoi(pollSeconds); err == nil && s > 0 {
			config.Queue.PollInterval = time.Duration(s) * time.Second
		}
	}
	if staleSeconds := os.Getenv("STALE_LEASE_SECONDS"); staleSeconds != "" {
		if s, err := strconv.Atoi(staleSeconds); err == nil && s > 0 {
			config.Queue.StaleAfter = time.Duration(s) * time.Second
		}
	}
	if concurrency := os.Getenv("RESPONDEO_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil && c > 0 {
			config.Queue.Concurrency = c
		}
	}
	if maxRetries := os.Getenv("RESPONDEO_QUEUE_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil && mr >= 0 {
			config.Queue.MaxRetries = mr
		}
	}

	// Crawler configuration
	if timeoutSeconds := os.Getenv("CRAWLER_TIMEOUT_SECONDS"); timeoutSeconds != "" {
		if s, err := strconv.Atoi(timeoutSeconds); err == nil && s > 0 {
			config.Crawler.RequestTimeout = time.Duration(s) * time.Second
		}
	}
	if maxBytes := os.Getenv("CRAWLER_MAX_CONTENT_BYTES"); maxBytes != "" {
		if mb, err := strconv.Atoi(maxBytes); err == nil && mb > 0 {
			config.Crawler.MaxBodySize = mb
		}
	}
	if userAgent := os.Getenv("RESPONDEO_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if enableJS := os.Getenv("RESPONDEO_CRAWLER_ENABLE_JAVASCRIPT"); enableJS != "" {
		if js, err := strconv.ParseBool(enableJS); err == nil {
			config.Crawler.EnableJavaScript = js
		}
	}

	// Provider keys: the standard vendor names take priority over config values
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.OpenAI.APIKey = apiKey
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.LLM.Anthropic.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.LLM.Gemini.APIKey = apiKey
	}
	if provider := os.Getenv("RESPONDEO_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = provider
	}
	if embeddingModel := os.Getenv("RESPONDEO_LLM_EMBEDDING_MODEL"); embeddingModel != "" {
		config.LLM.EmbeddingModel = embeddingModel
	}

	// Logging configuration
	if level := os.Getenv("RESPONDEO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("RESPONDEO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks structural constraints on the loaded configuration.
// Missing production-required settings (POSTGRES_URL, ADMIN_API_KEY) are
// reported here rather than failing deep inside service construction.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1")
	}
	if c.Crawler.MinWordCount < 1 {
		return fmt.Errorf("crawler.min_word_count must be at least 1")
	}

	if c.IsProduction() {
		if c.Postgres.URL == "" {
			return fmt.Errorf("POSTGRES_URL is required in production")
		}
		if c.Server.AdminAPIKey == "" {
			return fmt.Errorf("ADMIN_API_KEY is required in production")
		}
	}

	switch c.LLM.DefaultProvider {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("llm.default_provider must be one of openai, anthropic, gemini; got %q", c.LLM.DefaultProvider)
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are
// allowed. Test URLs are only allowed in development mode.
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}
