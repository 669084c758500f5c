package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix      = "COUNCIL"
	envConfigPath  = "COUNCIL_CONFIG_PATH"
	defaultRelPath = "config/council.yaml"
)

func Default() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   15 * time.Second,
			MaxRequestBytes:   1 << 20,
		},
		Store: StoreConfig{
			Backend:         "memory",
			MaxOpenConns:    10,
			SlowQuery:       500 * time.Millisecond,
			AutoMigrate:     true,
			Redis:           RedisConfig{Prefix: "council"},
			ConflictRetries: 16,
		},
		Models: []ModelConfig{
			{ID: "premium-model", Engine: EngineConfig{Type: "mock"}, MaxContextTokens: 128000, MaxOutputTokens: 4096, CostPer1KInput: 0.005, CostPer1KOutput: 0.015, Fallbacks: []string{"mid-model"}, RateLimitProfile: "standard"},
			{ID: "mid-model", Engine: EngineConfig{Type: "mock"}, MaxContextTokens: 32000, MaxOutputTokens: 2048, CostPer1KInput: 0.0005, CostPer1KOutput: 0.0015, Fallbacks: []string{"baseline-model"}, RateLimitProfile: "standard"},
			{ID: "baseline-model", Engine: EngineConfig{Type: "mock"}, MaxContextTokens: 8192, MaxOutputTokens: 1024, RateLimitProfile: "relaxed"},
		},
		Tiers: map[string]TierConfig{
			"free":    {DailyLimit: 5, Models: map[string]string{"council_dialogue": "mid-model"}, TokenBudget: 1500},
			"premium": {DailyLimit: -1, Models: map[string]string{"council_dialogue": "premium-model"}, TokenBudget: 4096},
		},
		Routing: RoutingConfig{TypicalInputTokens: 1500},
		Retry: RetryConfig{
			MaxRetries:        3,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          8 * time.Second,
			ServerErrorDelay:  250 * time.Millisecond,
			NetworkErrorDelay: 250 * time.Millisecond,
			Jitter:            true,
		},
		Usage: UsageConfig{
			AdFrequency:           3,
			Timezone:              "UTC",
			SubscriptionCacheSize: 1024,
			SubscriptionCacheTTL:  5 * time.Minute,
		},
		Meeting: MeetingConfig{
			LeaseTTL:            90 * time.Second,
			PollInterval:        100 * time.Millisecond,
			FailureBackoff:      10 * time.Second,
			SimilarityThreshold: 0.8,
			ScanLimit:           500,
		},
		Council: CouncilConfig{
			RequestTimeout:  60 * time.Second,
			Temperature:     0.8,
			RoundsPerRole:   2,
			TokenizerWarmup: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			ServiceName:    "persona-council",
			Version:        "dev",
		},
	}
}

// ResolvePath picks the config file: the explicit path, then
// COUNCIL_CONFIG_PATH, then ./config/council.yaml when it exists.
func ResolvePath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	if wd, err := os.Getwd(); err == nil {
		p := filepath.Join(wd, defaultRelPath)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load builds the effective configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := registerDefaults(v, Default()); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if p := ResolvePath(path); p != "" {
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if m := strings.TrimSpace(os.Getenv("LOG_MODE")); m != "" {
		cfg.Env = m
	}
	normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// registerDefaults flattens d through its yaml form so every key is known to
// viper, which is what lets AutomaticEnv override nested keys.
func registerDefaults(v *viper.Viper, d *Config) error {
	b, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	for k, val := range m {
		v.SetDefault(k, val)
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.Env = strings.TrimSpace(cfg.Env)
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	for i := range cfg.Models {
		m := &cfg.Models[i]
		m.ID = strings.TrimSpace(m.ID)
		if strings.TrimSpace(m.UpstreamModel) == "" {
			m.UpstreamModel = m.ID
		}
		m.Engine.Type = strings.ToLower(strings.TrimSpace(m.Engine.Type))
		if m.Engine.Type == "openai_http" {
			m.Engine.Type = "oai_http"
		}
		m.Engine.BaseURL = strings.TrimRight(strings.TrimSpace(m.Engine.BaseURL), "/")
		if m.Engine.Type == "oai_http" && m.Engine.APIKey == "" {
			m.Engine.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
	}
	tiers := make(map[string]TierConfig, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		tiers[strings.ToLower(strings.TrimSpace(name))] = t
	}
	cfg.Tiers = tiers
}

// Validate rejects configurations that cannot be wired. Missing routing
// entries for a task are allowed here and fail at selection time.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "memory", "sqlite", "postgres", "redis":
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if (c.Store.Backend == "sqlite" || c.Store.Backend == "postgres") && strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for backend %s", c.Store.Backend))
	}
	if c.Store.Backend == "redis" && strings.TrimSpace(c.Store.Redis.Addr) == "" {
		errs = append(errs, errors.New("store.redis.addr is required for backend redis"))
	}
	if len(c.Models) == 0 {
		errs = append(errs, errors.New("models: at least one model is required"))
	}
	ids := map[string]bool{}
	for _, m := range c.Models {
		if m.ID == "" {
			errs = append(errs, errors.New("models: id is required"))
			continue
		}
		if ids[m.ID] {
			errs = append(errs, fmt.Errorf("models: duplicate id %q", m.ID))
		}
		ids[m.ID] = true
		switch m.Engine.Type {
		case "mock", "oai_http":
		default:
			errs = append(errs, fmt.Errorf("model %s: unsupported engine type %q", m.ID, m.Engine.Type))
		}
		if m.Engine.Type == "oai_http" && m.Engine.BaseURL == "" {
			errs = append(errs, fmt.Errorf("model %s: engine.base_url is required for oai_http", m.ID))
		}
		if m.MaxContextTokens <= 0 || m.MaxOutputTokens <= 0 {
			errs = append(errs, fmt.Errorf("model %s: token limits must be positive", m.ID))
		}
	}
	for _, m := range c.Models {
		for _, fb := range m.Fallbacks {
			if !ids[fb] {
				errs = append(errs, fmt.Errorf("model %s: unknown fallback %q", m.ID, fb))
			}
		}
	}
	if _, ok := c.Tiers["free"]; !ok {
		errs = append(errs, errors.New("tiers: a free tier is required"))
	}
	for name, t := range c.Tiers {
		for task, id := range t.Models {
			if !ids[id] {
				errs = append(errs, fmt.Errorf("tier %s task %s: unknown model %q", name, task, id))
			}
		}
		if t.DailyLimit == 0 {
			errs = append(errs, fmt.Errorf("tier %s: daily_limit must be positive or negative for unlimited", name))
		}
	}
	if c.Retry.MaxRetries <= 0 {
		errs = append(errs, errors.New("retry.max_retries must be positive"))
	}
	if c.Usage.AdFrequency <= 0 {
		errs = append(errs, errors.New("usage.ad_frequency must be positive"))
	}
	if _, err := time.LoadLocation(c.Usage.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("usage.timezone: %w", err))
	}
	if c.Council.RequestTimeout <= 0 {
		errs = append(errs, errors.New("council.request_timeout must be positive"))
	}
	if c.Meeting.FailureBackoff < 0 {
		errs = append(errs, errors.New("meeting.failure_backoff must not be negative"))
	}
	if c.Meeting.SimilarityThreshold <= 0 || c.Meeting.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("meeting.similarity_threshold must be in (0,1]"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.HTTP.JWTSecret = redact(cp.HTTP.JWTSecret)
	cp.HTTP.InternalToken = redact(cp.HTTP.InternalToken)
	cp.Store.Redis.Password = redact(cp.Store.Redis.Password)
	cp.Store.DSN = redactDSN(cp.Store.DSN)
	cp.Models = make([]ModelConfig, len(c.Models))
	for i, m := range c.Models {
		m.Engine.APIKey = redact(m.Engine.APIKey)
		cp.Models[i] = m
	}
	return &cp
}

// Dump renders the redacted configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "password="); i >= 0 {
		end := strings.IndexByte(dsn[i:], ' ')
		if end < 0 {
			return dsn[:i] + "password=[REDACTED]"
		}
		return dsn[:i] + "password=[REDACTED]" + dsn[i+end:]
	}
	if at := strings.IndexByte(dsn, '@'); at > 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			if colon := strings.IndexByte(dsn[scheme+3:at], ':'); colon >= 0 {
				return dsn[:scheme+3+colon+1] + "[REDACTED]" + dsn[at:]
			}
		}
	}
	return dsn
}
