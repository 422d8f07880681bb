// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig               `mapstructure:"server"`
	Logging   LoggingConfig              `mapstructure:"logging"`
	DB        DBConfig                   `mapstructure:"db"`
	Storage   StorageConfig              `mapstructure:"storage"`
	PubSub    PubSubConfig               `mapstructure:"pubsub"`
	Redis     RedisConfig                `mapstructure:"redis"`
	RateLimit map[string]HostLimitConfig `mapstructure:"rate_limits"`
	HTTP      HTTPConfig                 `mapstructure:"http"`
	Scrape    ScrapeConfig               `mapstructure:"scrape"`
	Discovery DiscoveryConfig            `mapstructure:"discovery"`
	Extract   ExtractConfig              `mapstructure:"extract"`
	Queue     QueueConfig                `mapstructure:"queue"`
	Schedule  ScheduleConfig             `mapstructure:"schedule"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig sets the blob bucket and key prefix for raw payloads.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds queue broker metadata.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// RedisConfig points at the shared rate-limiter state.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// HostLimitConfig is the per-host budget enforced by the distributed limiter.
type HostLimitConfig struct {
	MaxConcurrent   int `mapstructure:"max_concurrent"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	TokensPerMinute int `mapstructure:"tokens_per_minute"`
}

// HTTPConfig configures the transport-level retry layer.
type HTTPConfig struct {
	TimeoutSeconds int   `mapstructure:"timeout_seconds"`
	BackoffSeconds []int `mapstructure:"backoff_seconds"`
}

// ScrapeConfig bounds provider pagination.
type ScrapeConfig struct {
	LeverPageSize  int `mapstructure:"lever_page_size"`
	LeverMaxOffset int `mapstructure:"lever_max_offset"`
}

// DiscoveryConfig configures the web-index crawl.
type DiscoveryConfig struct {
	CDXBaseURL     string `mapstructure:"cdx_base_url"`
	PageSize       int    `mapstructure:"page_size"`
	LimitPerCycle  int    `mapstructure:"limit_per_cycle"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ExtractConfig governs the extraction orchestrator and LLM backends.
type ExtractConfig struct {
	BatchSize         int    `mapstructure:"batch_size"`
	MaxTextChars      int    `mapstructure:"max_text_chars"`
	FallbackAttempts  int    `mapstructure:"fallback_attempts"`
	Tier1Provider     string `mapstructure:"tier1_provider"`
	Tier2Enabled      bool   `mapstructure:"tier2_enabled"`
	Tier2Model        string `mapstructure:"tier2_model"`
	OllamaBaseURL     string `mapstructure:"ollama_base_url"`
	OllamaModel       string `mapstructure:"ollama_model"`
	OpenAIAPIKey      string `mapstructure:"openai_api_key"`
	OpenAIModel       string `mapstructure:"openai_model"`
	LLMTimeoutSeconds int    `mapstructure:"llm_timeout_seconds"`
}

// QueueConfig bounds the task-level retry layer.
type QueueConfig struct {
	TaskMaxAttempts int `mapstructure:"task_max_attempts"`
	Workers         int `mapstructure:"workers"`
}

// ScheduleConfig holds the controller cron expressions.
type ScheduleConfig struct {
	Discovery    string `mapstructure:"discovery"`
	Scrape       string `mapstructure:"scrape"`
	Extract      string `mapstructure:"extract"`
	ScrapeBatch  int    `mapstructure:"scrape_batch"`
	ExtractBatch int    `mapstructure:"extract_batch"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("rate_limits.greenhouse.max_concurrent", 5)
	v.SetDefault("rate_limits.greenhouse.timeout_seconds", 60)
	v.SetDefault("rate_limits.lever.max_concurrent", 5)
	v.SetDefault("rate_limits.lever.timeout_seconds", 60)
	v.SetDefault("rate_limits.llm.max_concurrent", 10)
	v.SetDefault("rate_limits.llm.timeout_seconds", 120)
	v.SetDefault("rate_limits.llm.tokens_per_minute", 200000)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.backoff_seconds", []int{2, 4, 8, 16, 32})
	v.SetDefault("scrape.lever_page_size", 100)
	v.SetDefault("scrape.lever_max_offset", 10000)
	v.SetDefault("discovery.cdx_base_url", "https://index.commoncrawl.org/CC-MAIN-2024-51-index")
	v.SetDefault("discovery.page_size", 1000)
	v.SetDefault("discovery.limit_per_cycle", 100)
	v.SetDefault("discovery.timeout_seconds", 30)
	v.SetDefault("extract.batch_size", 8)
	v.SetDefault("extract.max_text_chars", 8000)
	v.SetDefault("extract.fallback_attempts", 2)
	v.SetDefault("extract.tier1_provider", "ollama")
	v.SetDefault("extract.tier2_enabled", false)
	v.SetDefault("extract.ollama_base_url", "http://localhost:11434")
	v.SetDefault("extract.ollama_model", "qwen3:8b")
	v.SetDefault("extract.openai_model", "gpt-4o-mini")
	v.SetDefault("extract.llm_timeout_seconds", 300)
	v.SetDefault("queue.task_max_attempts", 5)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("schedule.discovery", "@every 6h")
	v.SetDefault("schedule.scrape", "@every 1h")
	v.SetDefault("schedule.extract", "@every 5m")
	v.SetDefault("schedule.scrape_batch", 50)
	v.SetDefault("schedule.extract_batch", 64)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if len(c.HTTP.BackoffSeconds) == 0 {
		return fmt.Errorf("http.backoff_seconds must not be empty")
	}
	if c.Extract.BatchSize <= 0 {
		return fmt.Errorf("extract.batch_size must be > 0")
	}
	if c.Extract.Tier1Provider == "openai" && c.Extract.OpenAIAPIKey == "" {
		return fmt.Errorf("extract.openai_api_key must be set when tier1_provider is openai")
	}
	if c.Queue.TaskMaxAttempts <= 0 {
		return fmt.Errorf("queue.task_max_attempts must be > 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	for host, limit := range c.RateLimit {
		if limit.MaxConcurrent <= 0 {
			return fmt.Errorf("rate_limits.%s.max_concurrent must be > 0", host)
		}
	}
	return nil
}

// HTTPTimeout returns the outbound HTTP timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Backoff returns the transport retry schedule as durations.
func (c Config) Backoff() []time.Duration {
	out := make([]time.Duration, 0, len(c.HTTP.BackoffSeconds))
	for _, s := range c.HTTP.BackoffSeconds {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// TotalRetryBudget is the worst-case end-to-end attempt count for one unit of
// work: transport retries multiplied by task redeliveries. Logged at startup
// so the compounding of the two layers stays observable.
func (c Config) TotalRetryBudget() int {
	return (len(c.HTTP.BackoffSeconds) + 1) * c.Queue.TaskMaxAttempts
}
