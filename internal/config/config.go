// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Headless HeadlessConfig `mapstructure:"headless"`
	AI       AIConfig       `mapstructure:"ai"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the Postgres database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PipelineConfig governs dispatcher and pipeline behavior.
type PipelineConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	Channel          string `mapstructure:"channel"`
	ReconnectMinMs   int    `mapstructure:"reconnect_min_ms"`
	ReconnectMaxMs   int    `mapstructure:"reconnect_max_ms"`
	EmbedMaxChars    int    `mapstructure:"embed_max_chars"`
	AnalyzeMaxChars  int    `mapstructure:"analyze_max_chars"`
}

// ScraperConfig controls the HTTP probe fetcher and chain quality gate.
type ScraperConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MinContentChars  int    `mapstructure:"min_content_chars"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// AIConfig holds per-provider settings and router tuning.
type AIConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Gemini GeminiConfig `mapstructure:"gemini"`
	Router RouterConfig `mapstructure:"router"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	BaseURL         string  `mapstructure:"base_url"`
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	EmbeddingModel  string  `mapstructure:"embedding_model"`
	CostPer1KTokens float64 `mapstructure:"cost_per_1k_tokens"`
}

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	EmbeddingModel  string  `mapstructure:"embedding_model"`
	CostPer1KTokens float64 `mapstructure:"cost_per_1k_tokens"`
}

// RouterConfig tunes provider health tracking and the enhanced router.
type RouterConfig struct {
	HealthHalfLifeSec int  `mapstructure:"health_half_life_seconds"`
	ClassifyTasks     bool `mapstructure:"classify_tasks"`
	CallTimeoutSec    int  `mapstructure:"call_timeout_seconds"`
}

// StorageConfig selects the blob archive for raw fetched content.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEEPSAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.channel", "item_created")
	v.SetDefault("pipeline.reconnect_min_ms", 500)
	v.SetDefault("pipeline.reconnect_max_ms", 30000)
	v.SetDefault("pipeline.embed_max_chars", 2000)
	v.SetDefault("pipeline.analyze_max_chars", 12000)
	v.SetDefault("scraper.user_agent", "keepsake-bot/0.1")
	v.SetDefault("scraper.timeout_seconds", 15)
	v.SetDefault("scraper.min_content_chars", 100)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("ai.openai.enabled", true)
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("ai.openai.cost_per_1k_tokens", 0.0006)
	v.SetDefault("ai.gemini.enabled", false)
	v.SetDefault("ai.gemini.model", "gemini-1.5-flash")
	v.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	v.SetDefault("ai.gemini.cost_per_1k_tokens", 0.0003)
	v.SetDefault("ai.router.health_half_life_seconds", 300)
	v.SetDefault("ai.router.classify_tasks", false)
	v.SetDefault("ai.router.call_timeout_seconds", 60)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if !c.AI.OpenAI.Enabled && !c.AI.Gemini.Enabled {
		return fmt.Errorf("at least one AI provider must be enabled")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required when storage.provider is gcs")
	}
	return nil
}

// ScrapeTimeout returns the probe fetch timeout as a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// AICallTimeout returns the per-call AI provider timeout as a duration.
func (c Config) AICallTimeout() time.Duration {
	return time.Duration(c.AI.Router.CallTimeoutSec) * time.Second
}
