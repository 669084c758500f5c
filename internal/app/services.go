package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/persona-council/internal/config"
	"github.com/yungbote/persona-council/internal/council"
	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/ledger"
	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/meeting"
	"github.com/yungbote/persona-council/internal/observability"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/retry"
	"github.com/yungbote/persona-council/internal/routing"
	"github.com/yungbote/persona-council/internal/store"
)

type Services struct {
	Ledger   *ledger.Ledger
	Router   *routing.Router
	Registry *routing.Registry
	Retry    *retry.Orchestrator
	Meetings *meeting.Cache
	Council  *council.Service
}

func wireServices(cfg *config.Config, st store.TransactionalStore, m *observability.Metrics, log *logger.Logger) (Services, error) {
	var svc Services

	led, err := ledger.New(st, LedgerConfig(cfg), log, ledger.WithConflictObserver(m.IncConflict))
	if err != nil {
		return svc, fmt.Errorf("init ledger: %w", err)
	}
	svc.Ledger = led

	svc.Router, err = routing.NewRouter(RoutingConfig(cfg), led, log)
	if err != nil {
		return svc, fmt.Errorf("init router: %w", err)
	}
	svc.Registry, err = routing.NewRegistry(ModelEngines(cfg))
	if err != nil {
		return svc, fmt.Errorf("init model registry: %w", err)
	}

	var retryObs retry.Observer
	var meetingObs meeting.Observer
	var councilObs council.Observer
	if m != nil {
		retryObs, meetingObs, councilObs = m, m, m
	}
	svc.Retry = retry.New(svc.Registry, RetryPolicy(cfg), log, retry.WithObserver(retryObs))

	svc.Meetings, err = meeting.New(st, MeetingConfig(cfg), log,
		meeting.WithObserver(meetingObs),
		meeting.WithConflictObserver(m.IncConflict),
	)
	if err != nil {
		return svc, fmt.Errorf("init meeting cache: %w", err)
	}

	svc.Council, err = council.New(CouncilConfig(cfg), council.Deps{
		Ledger:   led,
		Profiles: st,
		Router:   svc.Router,
		Executor: svc.Retry,
		Meetings: svc.Meetings,
		Counter:  llm.CountTokens,
		Observer: councilObs,
	}, log)
	if err != nil {
		return svc, fmt.Errorf("init council: %w", err)
	}
	return svc, nil
}

func LedgerConfig(cfg *config.Config) ledger.Config {
	out := ledger.DefaultConfig()
	limits := make(map[string]int, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		limits[name] = t.DailyLimit
	}
	out.DailyLimits = ledger.ParseDailyLimits(limits)
	if cfg.Usage.AdFrequency > 0 {
		out.AdFrequency = cfg.Usage.AdFrequency
	}
	if loc, err := time.LoadLocation(cfg.Usage.Timezone); err == nil {
		out.Location = loc
	}
	if cfg.Store.ConflictRetries > 0 {
		out.ConflictRetries = cfg.Store.ConflictRetries
	}
	if cfg.Usage.SubscriptionCacheSize > 0 {
		out.SubscriptionCacheSize = cfg.Usage.SubscriptionCacheSize
	}
	if cfg.Usage.SubscriptionCacheTTL > 0 {
		out.SubscriptionCacheTTL = cfg.Usage.SubscriptionCacheTTL
	}
	return out
}

func RoutingConfig(cfg *config.Config) routing.Config {
	out := routing.Config{
		Models:             make([]routing.ModelProfile, 0, len(cfg.Models)),
		Tiers:              make(map[domain.Tier]routing.TierPolicy, len(cfg.Tiers)),
		TypicalInputTokens: cfg.Routing.TypicalInputTokens,
	}
	for _, m := range cfg.Models {
		out.Models = append(out.Models, routing.ModelProfile{
			ID:               m.ID,
			MaxContextTokens: m.MaxContextTokens,
			MaxOutputTokens:  m.MaxOutputTokens,
			CostPer1KInput:   m.CostPer1KInput,
			CostPer1KOutput:  m.CostPer1KOutput,
			Fallbacks:        m.Fallbacks,
			RateLimitProfile: m.RateLimitProfile,
		})
	}
	for name, t := range cfg.Tiers {
		models := make(map[routing.TaskType]string, len(t.Models))
		for task, id := range t.Models {
			models[routing.TaskType(strings.ToLower(strings.TrimSpace(task)))] = id
		}
		out.Tiers[domain.Tier(name)] = routing.TierPolicy{Models: models, TokenBudget: t.TokenBudget}
	}
	return out
}

func ModelEngines(cfg *config.Config) []routing.ModelEngine {
	out := make([]routing.ModelEngine, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		out = append(out, routing.ModelEngine{
			ID:            m.ID,
			UpstreamModel: m.UpstreamModel,
			Engine: routing.EngineConfig{
				Type:                m.Engine.Type,
				BaseURL:             m.Engine.BaseURL,
				APIKey:              m.Engine.APIKey,
				ChatCompletionsPath: m.Engine.ChatCompletionsPath,
				Timeout:             m.Engine.Timeout,
			},
		})
	}
	return out
}

func RetryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxRetries:        cfg.Retry.MaxRetries,
		BaseDelay:         cfg.Retry.BaseDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		ServerErrorDelay:  cfg.Retry.ServerErrorDelay,
		NetworkErrorDelay: cfg.Retry.NetworkErrorDelay,
		Jitter:            cfg.Retry.Jitter,
	}
}

func MeetingConfig(cfg *config.Config) meeting.Config {
	return meeting.Config{
		LeaseTTL:            cfg.Meeting.LeaseTTL,
		PollInterval:        cfg.Meeting.PollInterval,
		FailureBackoff:      cfg.Meeting.FailureBackoff,
		SimilarityThreshold: cfg.Meeting.SimilarityThreshold,
		ScanLimit:           cfg.Meeting.ScanLimit,
		ConflictRetries:     cfg.Store.ConflictRetries,
	}
}

// CouncilConfig layers configured emergency responses over the built-in ones.
func CouncilConfig(cfg *config.Config) council.Config {
	out := council.Config{
		RequestTimeout: cfg.Council.RequestTimeout,
		Temperature:    cfg.Council.Temperature,
		RoundsPerRole:  cfg.Council.RoundsPerRole,
		Emergency:      council.DefaultEmergencyResponses(),
	}
	for task, e := range cfg.Council.Emergency {
		out.Emergency[routing.TaskType(strings.ToLower(strings.TrimSpace(task)))] = council.EmergencyResponse{
			Line:            e.Line,
			Summary:         e.Summary,
			Recommendations: e.Recommendations,
			NextSteps:       e.NextSteps,
		}
	}
	return out
}
