// Package config loads service configuration: compiled-in defaults, then an
// optional YAML file, then COUNCIL_* environment overrides.
package config

import "time"

type Config struct {
	Env           string                `mapstructure:"env" yaml:"env"`
	HTTP          HTTPConfig            `mapstructure:"http" yaml:"http"`
	Store         StoreConfig           `mapstructure:"store" yaml:"store"`
	Models        []ModelConfig         `mapstructure:"models" yaml:"models"`
	Tiers         map[string]TierConfig `mapstructure:"tiers" yaml:"tiers"`
	Routing       RoutingConfig         `mapstructure:"routing" yaml:"routing"`
	Retry         RetryConfig           `mapstructure:"retry" yaml:"retry"`
	Usage         UsageConfig           `mapstructure:"usage" yaml:"usage"`
	Meeting       MeetingConfig         `mapstructure:"meeting" yaml:"meeting"`
	Council       CouncilConfig         `mapstructure:"council" yaml:"council"`
	Observability ObservabilityConfig   `mapstructure:"observability" yaml:"observability"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxRequestBytes   int64         `mapstructure:"max_request_bytes" yaml:"max_request_bytes"`
	// JWTSecret verifies HS256 bearer tokens; the subject claim is the user id.
	JWTSecret   string   `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	// InternalToken guards /v1/internal/*, used by the billing adapter.
	InternalToken string `mapstructure:"internal_token" yaml:"internal_token"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

type StoreConfig struct {
	// Backend is memory, sqlite, postgres or redis.
	Backend         string        `mapstructure:"backend" yaml:"backend"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	SlowQuery       time.Duration `mapstructure:"slow_query" yaml:"slow_query"`
	AutoMigrate     bool          `mapstructure:"auto_migrate" yaml:"auto_migrate"`
	Redis           RedisConfig   `mapstructure:"redis" yaml:"redis"`
	ConflictRetries int           `mapstructure:"conflict_retries" yaml:"conflict_retries"`
}

type EngineConfig struct {
	Type                string        `mapstructure:"type" yaml:"type"`
	BaseURL             string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey              string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	ChatCompletionsPath string        `mapstructure:"chat_completions_path" yaml:"chat_completions_path,omitempty"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

type ModelConfig struct {
	ID string `mapstructure:"id" yaml:"id"`
	// UpstreamModel overrides the model name sent to the engine. Defaults to ID.
	UpstreamModel    string       `mapstructure:"upstream_model" yaml:"upstream_model,omitempty"`
	Engine           EngineConfig `mapstructure:"engine" yaml:"engine"`
	MaxContextTokens int          `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
	MaxOutputTokens  int          `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	CostPer1KInput   float64      `mapstructure:"cost_per_1k_input" yaml:"cost_per_1k_input"`
	CostPer1KOutput  float64      `mapstructure:"cost_per_1k_output" yaml:"cost_per_1k_output"`
	Fallbacks        []string     `mapstructure:"fallbacks" yaml:"fallbacks,omitempty"`
	RateLimitProfile string       `mapstructure:"rate_limit_profile" yaml:"rate_limit_profile,omitempty"`
}

type TierConfig struct {
	// DailyLimit is chats per calendar day; negative means unlimited.
	DailyLimit  int               `mapstructure:"daily_limit" yaml:"daily_limit"`
	Models      map[string]string `mapstructure:"models" yaml:"models"`
	TokenBudget int               `mapstructure:"token_budget" yaml:"token_budget"`
}

type RoutingConfig struct {
	TypicalInputTokens int `mapstructure:"typical_input_tokens" yaml:"typical_input_tokens"`
}

type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	ServerErrorDelay  time.Duration `mapstructure:"server_error_delay" yaml:"server_error_delay"`
	NetworkErrorDelay time.Duration `mapstructure:"network_error_delay" yaml:"network_error_delay"`
	Jitter            bool          `mapstructure:"jitter" yaml:"jitter"`
}

type UsageConfig struct {
	AdFrequency           int           `mapstructure:"ad_frequency" yaml:"ad_frequency"`
	Timezone              string        `mapstructure:"timezone" yaml:"timezone"`
	SubscriptionCacheSize int           `mapstructure:"subscription_cache_size" yaml:"subscription_cache_size"`
	SubscriptionCacheTTL  time.Duration `mapstructure:"subscription_cache_ttl" yaml:"subscription_cache_ttl"`
}

type MeetingConfig struct {
	LeaseTTL            time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	FailureBackoff      time.Duration `mapstructure:"failure_backoff" yaml:"failure_backoff"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	ScanLimit           int           `mapstructure:"scan_limit" yaml:"scan_limit"`
}

type EmergencyConfig struct {
	Line            string   `mapstructure:"line" yaml:"line"`
	Summary         string   `mapstructure:"summary" yaml:"summary"`
	Recommendations []string `mapstructure:"recommendations" yaml:"recommendations"`
	NextSteps       []string `mapstructure:"next_steps" yaml:"next_steps"`
}

type CouncilConfig struct {
	RequestTimeout time.Duration              `mapstructure:"request_timeout" yaml:"request_timeout"`
	Temperature    float64                    `mapstructure:"temperature" yaml:"temperature"`
	RoundsPerRole  int                        `mapstructure:"rounds_per_role" yaml:"rounds_per_role"`
	Emergency      map[string]EmergencyConfig `mapstructure:"emergency" yaml:"emergency,omitempty"`

	// TokenizerWarmup bounds how long startup waits for the tokenizer; zero
	// skips the wait and counting estimates until the encoding arrives.
	TokenizerWarmup time.Duration `mapstructure:"tokenizer_warmup" yaml:"tokenizer_warmup"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	ServiceName    string `mapstructure:"service_name" yaml:"service_name"`
	Version        string `mapstructure:"version" yaml:"version"`
}
