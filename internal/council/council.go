// Package council composes the ledger, router, retry orchestrator, prompt
// builder and meeting cache into one operation: GenerateOrReuseDialogue.
package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/ledger"
	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/meeting"
	"github.com/yungbote/persona-council/internal/personality"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/prompt"
	"github.com/yungbote/persona-council/internal/retry"
	"github.com/yungbote/persona-council/internal/routing"
	"github.com/yungbote/persona-council/internal/store"
)

type Ledger interface {
	Consume(ctx context.Context, userID string) (*domain.UsageRecord, error)
	RecordGeneration(ctx context.Context, userID string, tokens int64, costUSD float64) error
	CheckAdDisplayDue(ctx context.Context, userID string) (ledger.AdDisplay, error)
}

type Router interface {
	SelectOrBaseline(ctx context.Context, userID string, task routing.TaskType) (routing.Selection, error)
	Model(id string) (routing.ModelProfile, bool)
}

type Executor interface {
	Execute(ctx context.Context, chain []routing.ModelProfile, build retry.RequestBuilder, validate retry.Validator) (*retry.Result, error)
}

type MeetingCache interface {
	GetOrCreate(ctx context.Context, personalityKey, category, concern string, generate meeting.GenerateFunc) (*domain.MeetingRecord, bool, error)
}

// Outcome labels for Observer.ObserveDialogue.
const (
	OutcomeHit       = "hit"
	OutcomeMiss      = "miss"
	OutcomeEmergency = "emergency"
	OutcomeTimeout   = "timeout"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

type Observer interface {
	ObserveDialogue(outcome string, dur time.Duration)
	ObserveTokens(model string, tokens int)
}

type noopObserver struct{}

func (noopObserver) ObserveDialogue(string, time.Duration) {}
func (noopObserver) ObserveTokens(string, int)             {}

type Config struct {
	RequestTimeout time.Duration
	Temperature    float64
	RoundsPerRole  int
	Emergency      map[routing.TaskType]EmergencyResponse
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout: 60 * time.Second,
		Temperature:    0.8,
		RoundsPerRole:  prompt.DefaultRoundsPerRole,
		Emergency:      DefaultEmergencyResponses(),
	}
}

type Request struct {
	UserID   string
	Concern  string
	Category string
}

type Response struct {
	MeetingID        string            `json:"meeting_id"`
	Category         string            `json:"concern_category"`
	Conversation     []domain.Round    `json:"conversation"`
	Conclusion       domain.Conclusion `json:"conclusion"`
	CacheHit         bool              `json:"cache_hit"`
	UsageCount       int64             `json:"usage_count"`
	SimilarUserCount int               `json:"similar_user_count"`
	ModelUsed        string            `json:"model_used,omitempty"`
	FallbackUsed     bool              `json:"fallback_used"`
	Emergency        bool              `json:"emergency"`
	ChatCountToday   int64             `json:"chat_count_today"`
	Ad               ledger.AdDisplay  `json:"ad"`
}

type Deps struct {
	Ledger   Ledger
	Profiles store.ProfileStore
	Router   Router
	Executor Executor
	Meetings MeetingCache
	// Counter estimates prompt tokens; nil uses llm.EstimateTokens.
	Counter  llm.TokenCounter
	Observer Observer
}

type Service struct {
	cfg      Config
	ledger   Ledger
	profiles store.ProfileStore
	router   Router
	exec     Executor
	meetings MeetingCache
	counter  llm.TokenCounter
	obs      Observer
	log      *logger.Logger
	tracer   trace.Tracer
}

func New(cfg Config, deps Deps, log *logger.Logger) (*Service, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("council: ledger required")
	case deps.Profiles == nil:
		return nil, errors.New("council: profile store required")
	case deps.Router == nil:
		return nil, errors.New("council: router required")
	case deps.Executor == nil:
		return nil, errors.New("council: executor required")
	case deps.Meetings == nil:
		return nil, errors.New("council: meeting cache required")
	}
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.RoundsPerRole <= 0 {
		cfg.RoundsPerRole = def.RoundsPerRole
	}
	if cfg.Emergency == nil {
		cfg.Emergency = def.Emergency
	}
	s := &Service{
		cfg:      cfg,
		ledger:   deps.Ledger,
		profiles: deps.Profiles,
		router:   deps.Router,
		exec:     deps.Executor,
		meetings: deps.Meetings,
		counter:  deps.Counter,
		obs:      deps.Observer,
		log:      log.Component("CouncilService"),
		tracer:   otel.Tracer("persona-council/council"),
	}
	if s.counter == nil {
		s.counter = llm.EstimateTokens
	}
	if s.obs == nil {
		s.obs = noopObserver{}
	}
	return s, nil
}

// SaveProfile stores the user's base profile as its personality key.
func (s *Service) SaveProfile(ctx context.Context, userID string, p personality.Profile) (string, error) {
	if err := p.Traits.Validate(); err != nil {
		return "", err
	}
	if _, err := personality.ParseGender(string(p.Gender)); err != nil {
		return "", err
	}
	key := p.Key()
	if err := s.profiles.PutProfileKey(ctx, userID, key); err != nil {
		return "", fmt.Errorf("save profile: %w", err)
	}
	s.log.Info("profile saved", "user_id", userID, "personality_key", key)
	return key, nil
}

// Profile loads the user's saved profile.
func (s *Service) Profile(ctx context.Context, userID string) (personality.Profile, error) {
	key, err := s.profiles.GetProfileKey(ctx, userID)
	if err != nil {
		return personality.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if key == "" {
		return personality.Profile{}, ErrProfileNotFound
	}
	p, err := personality.DecodeProfile(key)
	if err != nil {
		s.log.Error("stored personality key is malformed", "user_id", userID, "personality_key", key, "error", err)
		return personality.Profile{}, err
	}
	return p, nil
}

type outcome struct {
	resp *Response
	err  error
}

// GenerateOrReuseDialogue serves the council dialogue for the user's concern,
// reusing a stored meeting for the same personality key and category when one
// exists. The whole call is bounded by the configured request timeout.
func (s *Service) GenerateOrReuseDialogue(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "council.GenerateOrReuseDialogue")
	defer span.End()

	if strings.TrimSpace(req.Concern) == "" {
		s.obs.ObserveDialogue(OutcomeRejected, time.Since(start))
		return nil, ErrEmptyConcern
	}
	if !prompt.ValidCategory(prompt.NormalizeCategory(req.Category, req.Concern)) {
		s.obs.ObserveDialogue(OutcomeRejected, time.Since(start))
		return nil, ErrInvalidCategory
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		resp, err := s.run(runCtx, req)
		done <- outcome{resp: resp, err: err}
	}()

	var (
		resp *Response
		err  error
	)
	select {
	case out := <-done:
		resp, err = out.resp, out.err
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &TimeoutError{After: s.cfg.RequestTimeout}
		}
	case <-runCtx.Done():
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = &TimeoutError{After: s.cfg.RequestTimeout}
		}
	}

	dur := time.Since(start)
	switch {
	case err == nil && resp.Emergency:
		s.obs.ObserveDialogue(OutcomeEmergency, dur)
	case err == nil && resp.CacheHit:
		s.obs.ObserveDialogue(OutcomeHit, dur)
	case err == nil:
		s.obs.ObserveDialogue(OutcomeMiss, dur)
	case IsTimeout(err):
		s.obs.ObserveDialogue(OutcomeTimeout, dur)
		s.log.Warn("dialogue request timed out", "user_id", req.UserID, "timeout", s.cfg.RequestTimeout)
	case ledger.IsDailyLimitReached(err):
		s.obs.ObserveDialogue(OutcomeRejected, dur)
	default:
		s.obs.ObserveDialogue(OutcomeError, dur)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("council.cache_hit", resp.CacheHit),
		attribute.Bool("council.emergency", resp.Emergency),
		attribute.String("council.category", resp.Category),
		attribute.Int64("council.usage_count", resp.UsageCount),
	)
	return resp, nil
}

// genStats carries what the generator learned back to the caller on a miss.
type genStats struct {
	model    string
	fallback bool
	usage    llm.Usage
	ran      bool
}

func (s *Service) run(ctx context.Context, req Request) (*Response, error) {
	profile, err := s.Profile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	usage, err := s.ledger.Consume(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	key := profile.Key()
	category := prompt.NormalizeCategory(req.Category, req.Concern)
	var stats genStats
	rec, hit, err := s.meetings.GetOrCreate(ctx, key, category, req.Concern, s.generator(req.UserID, category, profile, &stats))
	if err != nil {
		if retry.IsAllModelsExhausted(err) {
			s.log.Error("all models exhausted, serving emergency response", "user_id", req.UserID, "concern_category", category, "error", err)
			return s.emergency(ctx, req.UserID, category, usage), nil
		}
		if meeting.IsGenerationFailed(err) {
			s.log.Warn("recent generation for this pair failed, serving emergency response", "user_id", req.UserID, "concern_category", category, "error", err)
			return s.emergency(ctx, req.UserID, category, usage), nil
		}
		return nil, err
	}

	if stats.ran {
		s.account(ctx, req.UserID, stats)
	}

	resp := &Response{
		MeetingID:        rec.ID,
		Category:         category,
		Conversation:     rec.Conversation,
		Conclusion:       rec.Conclusion,
		CacheHit:         hit,
		UsageCount:       rec.UsageCount,
		SimilarUserCount: rec.SimilarUserCount,
		ModelUsed:        rec.ModelUsed,
		FallbackUsed:     stats.fallback,
		ChatCountToday:   usage.ChatCountToday,
	}
	resp.Ad = s.adDisplay(ctx, req.UserID)
	s.log.Debug("dialogue served", "user_id", req.UserID, "meeting_id", rec.ID, "cache_hit", hit, "usage_count", rec.UsageCount)
	return resp, nil
}

func (s *Service) generator(userID, category string, profile personality.Profile, stats *genStats) meeting.GenerateFunc {
	return func(ctx context.Context, variants []personality.Variant, concern string) (*domain.MeetingResult, error) {
		sel, err := s.router.SelectOrBaseline(ctx, userID, routing.TaskCouncilDialogue)
		if err != nil {
			return nil, err
		}
		msgs := prompt.Build(prompt.Input{
			Profile:       profile,
			Variants:      variants,
			Concern:       concern,
			Category:      category,
			RoundsPerRole: s.cfg.RoundsPerRole,
		})
		inputTokens := llm.CountMessages(s.counter, msgs)

		build := func(m routing.ModelProfile) llm.Request {
			maxTokens := sel.MaxTokens
			if m.MaxOutputTokens > 0 && (maxTokens <= 0 || m.MaxOutputTokens < maxTokens) {
				maxTokens = m.MaxOutputTokens
			}
			return llm.Request{
				Messages:             msgs,
				MaxTokens:            maxTokens,
				Temperature:          s.cfg.Temperature,
				EstimatedInputTokens: inputTokens,
			}
		}
		var parsed *prompt.Parsed
		validate := func(model string, c *llm.Completion) error {
			p, err := prompt.Parse(model, c.Text)
			if err != nil {
				return err
			}
			parsed = p
			return nil
		}

		res, err := s.exec.Execute(ctx, sel.Chain(), build, validate)
		if err != nil {
			return nil, err
		}
		stats.ran = true
		stats.model = res.ModelUsed
		stats.fallback = res.FallbackUsed
		stats.usage = res.Completion.Usage
		return &domain.MeetingResult{
			Conversation: parsed.Conversation,
			Conclusion:   parsed.Conclusion,
			ModelUsed:    res.ModelUsed,
		}, nil
	}
}

// account records the generation's tokens and cost. Failures are logged; the
// dialogue has already been produced.
func (s *Service) account(ctx context.Context, userID string, stats genStats) {
	tokens := stats.usage.Total()
	var cost float64
	if m, ok := s.router.Model(stats.model); ok {
		cost = m.EstimateCost(stats.usage.InputTokens, stats.usage.OutputTokens)
	}
	s.obs.ObserveTokens(stats.model, tokens)
	if err := s.ledger.RecordGeneration(context.WithoutCancel(ctx), userID, int64(tokens), cost); err != nil {
		s.log.Warn("recording generation usage failed", "user_id", userID, "model", stats.model, "error", err)
	}
}

func (s *Service) adDisplay(ctx context.Context, userID string) ledger.AdDisplay {
	ad, err := s.ledger.CheckAdDisplayDue(ctx, userID)
	if err != nil {
		s.log.Warn("ad display check failed", "user_id", userID, "error", err)
		return ledger.AdDisplay{}
	}
	return ad
}

func (s *Service) emergency(ctx context.Context, userID, category string, usage *domain.UsageRecord) *Response {
	canned, ok := s.cfg.Emergency[routing.TaskCouncilDialogue]
	if !ok {
		canned = DefaultEmergencyResponses()[routing.TaskCouncilDialogue]
	}
	return &Response{
		Category:       category,
		Conversation:   canned.rounds(),
		Conclusion:     canned.conclusion(),
		Emergency:      true,
		ChatCountToday: usage.ChatCountToday,
		Ad:             s.adDisplay(ctx, userID),
	}
}
