// Package config provides unified configuration loading for memchat.
// Precedence: defaults → YAML file → environment variables.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MEMCHAT").
//	    Load()
package config

import (
	"fmt"
	"time"
)

// Config is the complete memchat configuration.
type Config struct {
	// Server HTTP plumbing for the serve command.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Database durable relational store.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis optional external profile cache.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Vector semantic index backend.
	Vector VectorConfig `yaml:"vector" env:"VECTOR"`

	// LLM generation backend selection.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Memory tier windows and thresholds.
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Prompt token budget and per-layer allocations.
	Prompt PromptConfig `yaml:"prompt" env:"PROMPT"`

	// Log zap logger settings.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OTel trace export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds HTTP server settings for the serve command.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RequestTimeout bounds one full pipeline run.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	// Driver: sqlite, postgres, mysql.
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN connection string. For sqlite this is the file path
	// (":memory:" for an in-memory database).
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig configures the optional external profile cache. When Enabled is
// false the profile store uses its in-process map cache.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	DefaultTTL   time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// VectorConfig configures the embedded semantic index. When Enabled is false
// semantic recall degrades to empty results.
type VectorConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// PersistDir is the on-disk location for the chromem database.
	// Empty means in-memory only.
	PersistDir string `yaml:"persist_dir" env:"PERSIST_DIR"`
}

// LLMConfig selects the generation backend.
type LLMConfig struct {
	// Provider: openai, anthropic, groq, mock.
	Provider string `yaml:"provider" env:"PROVIDER"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
	// Model used for generation and token counting.
	Model          string        `yaml:"model" env:"MODEL"`
	EmbeddingModel string        `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	MaxTokens      int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature    float64       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// EmbedBaseURL is the OpenAI-compatible endpoint used for embeddings by
	// providers without an embedding API (anthropic).
	EmbedBaseURL string `yaml:"embed_base_url" env:"EMBED_BASE_URL"`
	EmbedAPIKey  string `yaml:"embed_api_key" env:"EMBED_API_KEY"`
}

// MemoryConfig tunes the four memory tiers.
type MemoryConfig struct {
	// MaxRecentTurns bounds the per-conversation recency window.
	MaxRecentTurns int `yaml:"max_recent_turns" env:"MAX_RECENT_TURNS"`
	// RecencyLimit is how many turns one aggregation requests.
	RecencyLimit int `yaml:"recency_limit" env:"RECENCY_LIMIT"`
	// SummarizeThresholdTokens triggers the should-summarize signal.
	SummarizeThresholdTokens int `yaml:"summarize_threshold_tokens" env:"SUMMARIZE_THRESHOLD_TOKENS"`
	// SemanticTopK nearest neighbors requested per query.
	SemanticTopK int `yaml:"semantic_top_k" env:"SEMANTIC_TOP_K"`
	// SemanticThreshold minimum similarity score kept.
	SemanticThreshold float64 `yaml:"semantic_threshold" env:"SEMANTIC_THRESHOLD"`
	// FeedbackLimit corrections retrieved per aggregation.
	FeedbackLimit int `yaml:"feedback_limit" env:"FEEDBACK_LIMIT"`
	// TierTimeout is the per-tier retrieval deadline inside Aggregate.
	TierTimeout time.Duration `yaml:"tier_timeout" env:"TIER_TIMEOUT"`
}

// PromptConfig holds the assembler token budget.
type PromptConfig struct {
	// MaxContextWindow is the model context ceiling.
	MaxContextWindow int `yaml:"max_context_window" env:"MAX_CONTEXT_WINDOW"`
	// ResponseReserve is held back for the completion.
	ResponseReserve int `yaml:"response_reserve" env:"RESPONSE_RESERVE"`
	// Allocations are the per-layer token allocations used when trimming.
	Allocations AllocationConfig `yaml:"allocations" env:"ALLOCATIONS"`
}

// AllocationConfig is the per-layer token allocation table.
type AllocationConfig struct {
	SystemInstructions  int `yaml:"system_instructions" env:"SYSTEM_INSTRUCTIONS"`
	UserProfile         int `yaml:"user_profile" env:"USER_PROFILE"`
	FeedbackCorrections int `yaml:"feedback_corrections" env:"FEEDBACK_CORRECTIONS"`
	ConversationSummary int `yaml:"conversation_summary" env:"CONVERSATION_SUMMARY"`
	SemanticContext     int `yaml:"semantic_context" env:"SEMANTIC_CONTEXT"`
	RecentMessages      int `yaml:"recent_messages" env:"RECENT_MESSAGES"`
	CurrentMessage      int `yaml:"current_message" env:"CURRENT_MESSAGE"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTel trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  90 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "data/memchat.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			DefaultTTL:   10 * time.Minute,
		},
		Vector: VectorConfig{
			Enabled:    true,
			PersistDir: "",
		},
		LLM: LLMConfig{
			Provider:       "groq",
			Model:          "llama-3.3-70b-versatile",
			EmbeddingModel: "text-embedding-3-small",
			MaxTokens:      1000,
			Temperature:    0.7,
			Timeout:        60 * time.Second,
		},
		Memory: MemoryConfig{
			MaxRecentTurns:           20,
			RecencyLimit:             10,
			SummarizeThresholdTokens: 2000,
			SemanticTopK:             5,
			SemanticThreshold:        0.7,
			FeedbackLimit:            3,
			TierTimeout:              2 * time.Second,
		},
		Prompt: PromptConfig{
			MaxContextWindow: 4096,
			ResponseReserve:  1000,
			Allocations: AllocationConfig{
				SystemInstructions:  300,
				UserProfile:         200,
				FeedbackCorrections: 150,
				ConversationSummary: 250,
				SemanticContext:     400,
				RecentMessages:      800,
				CurrentMessage:      200,
			},
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "memchat",
			SampleRate:   1.0,
		},
	}
}

// Validate checks the configuration for values that would break startup or
// silently disable the budget.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "groq", "mock":
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}
	if c.Prompt.MaxContextWindow <= 0 {
		return fmt.Errorf("prompt.max_context_window must be positive")
	}
	if c.Prompt.ResponseReserve < 0 || c.Prompt.ResponseReserve >= c.Prompt.MaxContextWindow {
		return fmt.Errorf("prompt.response_reserve must be in [0, max_context_window)")
	}
	if c.Memory.MaxRecentTurns <= 0 {
		return fmt.Errorf("memory.max_recent_turns must be positive")
	}
	if c.Memory.SemanticThreshold < 0 || c.Memory.SemanticThreshold > 1 {
		return fmt.Errorf("memory.semantic_threshold must be in [0, 1]")
	}
	if c.Memory.TierTimeout <= 0 {
		return fmt.Errorf("memory.tier_timeout must be positive")
	}
	return nil
}
