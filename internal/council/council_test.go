package council

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/ledger"
	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/meeting"
	"github.com/yungbote/persona-council/internal/personality"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/retry"
	"github.com/yungbote/persona-council/internal/routing"
	"github.com/yungbote/persona-council/internal/store/memstore"
)

type harness struct {
	st       *memstore.Store
	ledger   *ledger.Ledger
	registry *routing.Registry
	svc      *Service
}

func routingConfig() routing.Config {
	return routing.Config{
		Models: []routing.ModelProfile{
			{ID: "premium-model", MaxContextTokens: 128000, MaxOutputTokens: 4096, CostPer1KInput: 0.01, CostPer1KOutput: 0.03, Fallbacks: []string{"mid-model"}},
			{ID: "mid-model", MaxContextTokens: 32000, MaxOutputTokens: 2048, CostPer1KInput: 0.001, CostPer1KOutput: 0.002, Fallbacks: []string{"baseline-model"}},
			{ID: "baseline-model", MaxContextTokens: 8192, MaxOutputTokens: 1024},
		},
		Tiers: map[domain.Tier]routing.TierPolicy{
			domain.TierFree:    {Models: map[routing.TaskType]string{routing.TaskCouncilDialogue: "mid-model"}, TokenBudget: 1500},
			domain.TierPremium: {Models: map[routing.TaskType]string{routing.TaskCouncilDialogue: "premium-model"}},
		},
	}
}

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newHarness(t *testing.T, cfg Config, ledgerCfg ledger.Config, provider func(*routing.Registry) llm.Provider) *harness {
	t.Helper()
	log := logger.Nop()
	st := memstore.New()
	l, err := ledger.New(st, ledgerCfg, log)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	router, err := routing.NewRouter(routingConfig(), l, log)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	reg, err := routing.NewRegistry([]routing.ModelEngine{
		{ID: "premium-model", Engine: routing.EngineConfig{Type: "mock"}},
		{ID: "mid-model", Engine: routing.EngineConfig{Type: "mock"}},
		{ID: "baseline-model", Engine: routing.EngineConfig{Type: "mock"}},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	var p llm.Provider = reg
	if provider != nil {
		p = provider(reg)
	}
	orch := retry.New(p, retry.DefaultPolicy(), log, retry.WithSleeper(noSleep{}))
	mcfg := meeting.DefaultConfig()
	mcfg.PollInterval = 2 * time.Millisecond
	cache, err := meeting.New(st, mcfg, log)
	if err != nil {
		t.Fatalf("meeting.New: %v", err)
	}
	svc, err := New(cfg, Deps{
		Ledger:   l,
		Profiles: st,
		Router:   router,
		Executor: orch,
		Meetings: cache,
	}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{st: st, ledger: l, registry: reg, svc: svc}
}

func (h *harness) saveProfile(t *testing.T, userID string) {
	t.Helper()
	traits, _ := personality.NewTraitVector(4, 2, 5, 3, 2)
	key, err := h.svc.SaveProfile(context.Background(), userID, personality.Profile{Traits: traits, Gender: personality.GenderFemale})
	if err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if key != "O4_C2_E5_A3_N2_female" {
		t.Fatalf("key: want=O4_C2_E5_A3_N2_female got=%s", key)
	}
}

func TestGenerateOrReuseDialogueMissThenHit(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), nil)
	h.saveProfile(t, "user-1")
	ctx := context.Background()

	first, err := h.svc.GenerateOrReuseDialogue(ctx, Request{UserID: "user-1", Concern: "career change", Category: "career"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.CacheHit || first.UsageCount != 1 {
		t.Fatalf("first: want=miss/1 got=%v/%d", first.CacheHit, first.UsageCount)
	}
	if first.MeetingID == "" || len(first.Conversation) == 0 || first.Conclusion.Summary == "" {
		t.Fatalf("first: incomplete response %+v", first)
	}
	if first.ModelUsed != "mid-model" || first.FallbackUsed {
		t.Fatalf("first: want=mid-model got=%s fallback=%v", first.ModelUsed, first.FallbackUsed)
	}

	second, err := h.svc.GenerateOrReuseDialogue(ctx, Request{UserID: "user-1", Concern: "career change", Category: "career"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.CacheHit || second.UsageCount != 2 {
		t.Fatalf("second: want=hit/2 got=%v/%d", second.CacheHit, second.UsageCount)
	}
	if second.MeetingID != first.MeetingID || !reflect.DeepEqual(second.Conversation, first.Conversation) {
		t.Fatalf("second should reuse the first conversation")
	}
	if second.ChatCountToday != 2 {
		t.Fatalf("chat count: want=2 got=%d", second.ChatCountToday)
	}

	rec, err := h.st.GetUsage(ctx, "user-1")
	if err != nil || rec == nil {
		t.Fatalf("GetUsage: %v %v", rec, err)
	}
	if rec.TotalTokens <= 0 || rec.TotalCostMicros <= 0 {
		t.Fatalf("generation should be accounted once, got tokens=%d cost=%d", rec.TotalTokens, rec.TotalCostMicros)
	}
}

func TestGenerateOrReuseDialogueCategorizesConcern(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), nil)
	h.saveProfile(t, "user-1")
	resp, err := h.svc.GenerateOrReuseDialogue(context.Background(), Request{UserID: "user-1", Concern: "My boss ignores my work"})
	if err != nil {
		t.Fatalf("GenerateOrReuseDialogue: %v", err)
	}
	if resp.Category != "career" {
		t.Fatalf("category: want=career got=%s", resp.Category)
	}
}

func TestGenerateOrReuseDialogueFallsBack(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), func(reg *routing.Registry) llm.Provider {
		return llm.ProviderFunc(func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
			if req.Model == "mid-model" {
				return nil, &llm.QuotaExceededError{Model: req.Model}
			}
			return reg.Complete(ctx, req)
		})
	})
	h.saveProfile(t, "user-1")
	resp, err := h.svc.GenerateOrReuseDialogue(context.Background(), Request{UserID: "user-1", Concern: "career change", Category: "career"})
	if err != nil {
		t.Fatalf("GenerateOrReuseDialogue: %v", err)
	}
	if resp.ModelUsed != "baseline-model" || !resp.FallbackUsed {
		t.Fatalf("want baseline fallback got=%s/%v", resp.ModelUsed, resp.FallbackUsed)
	}
}

func TestGenerateOrReuseDialogueEmergencyResponse(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), func(*routing.Registry) llm.Provider {
		return llm.ProviderFunc(func(_ context.Context, req llm.Request) (*llm.Completion, error) {
			return nil, &llm.ModelUnavailableError{Model: req.Model}
		})
	})
	h.saveProfile(t, "user-1")
	resp, err := h.svc.GenerateOrReuseDialogue(context.Background(), Request{UserID: "user-1", Concern: "career change", Category: "career"})
	if err != nil {
		t.Fatalf("emergency path must not fail: %v", err)
	}
	if !resp.Emergency || resp.MeetingID != "" || resp.Conclusion.Summary == "" {
		t.Fatalf("want canned emergency response got=%+v", resp)
	}
	rec, _ := h.st.GetMeeting(context.Background(), "O4_C2_E5_A3_N2_female", "career")
	if rec != nil && (rec.Ready() || len(rec.Conversation) > 0) {
		t.Fatalf("emergency responses must not be cached, got=%+v", rec)
	}
}

func TestGenerateOrReuseDialogueSharesRecentFailure(t *testing.T) {
	var calls int32
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), func(*routing.Registry) llm.Provider {
		return llm.ProviderFunc(func(_ context.Context, req llm.Request) (*llm.Completion, error) {
			atomic.AddInt32(&calls, 1)
			return nil, &llm.ModelUnavailableError{Model: req.Model}
		})
	})
	h.saveProfile(t, "user-1")
	h.saveProfile(t, "user-2")
	ctx := context.Background()

	if _, err := h.svc.GenerateOrReuseDialogue(ctx, Request{UserID: "user-1", Concern: "career change", Category: "career"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	first := atomic.LoadInt32(&calls)
	if first == 0 {
		t.Fatalf("first request should have called the models")
	}

	resp, err := h.svc.GenerateOrReuseDialogue(ctx, Request{UserID: "user-2", Concern: "career change", Category: "career"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !resp.Emergency {
		t.Fatalf("second: want emergency response got=%+v", resp)
	}
	if got := atomic.LoadInt32(&calls); got != first {
		t.Fatalf("model calls: want=%d got=%d", first, got)
	}
}

func TestGenerateOrReuseDialogueTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 30 * time.Millisecond
	h := newHarness(t, cfg, ledger.DefaultConfig(), func(*routing.Registry) llm.Provider {
		return llm.ProviderFunc(func(ctx context.Context, _ llm.Request) (*llm.Completion, error) {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return nil, ctx.Err()
		})
	})
	h.saveProfile(t, "user-1")
	start := time.Now()
	_, err := h.svc.GenerateOrReuseDialogue(context.Background(), Request{UserID: "user-1", Concern: "career change", Category: "career"})
	if !IsTimeout(err) {
		t.Fatalf("want TimeoutError got=%v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("TimeoutError should unwrap to DeadlineExceeded")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("caller waited too long: %v", elapsed)
	}
}

func TestGenerateOrReuseDialogueCallerCancel(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), nil)
	h.saveProfile(t, "user-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.GenerateOrReuseDialogue(ctx, Request{UserID: "user-1", Concern: "career change"})
	if !errors.Is(err, context.Canceled) || IsTimeout(err) {
		t.Fatalf("want canceled got=%v", err)
	}
}

func TestGenerateOrReuseDialogueDailyLimit(t *testing.T) {
	lcfg := ledger.DefaultConfig()
	lcfg.DailyLimits = map[domain.Tier]int{domain.TierFree: 1, domain.TierPremium: -1}
	h := newHarness(t, DefaultConfig(), lcfg, nil)
	h.saveProfile(t, "user-1")
	ctx := context.Background()
	if _, err := h.svc.GenerateOrReuseDialogue(ctx, Request{UserID: "user-1", Concern: "career change", Category: "career"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := h.svc.GenerateOrReuseDialogue(ctx, Request{UserID: "user-1", Concern: "career change", Category: "career"})
	if !ledger.IsDailyLimitReached(err) {
		t.Fatalf("want DailyLimitReachedError got=%v", err)
	}
}

func TestGenerateOrReuseDialogueRequiresProfile(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), nil)
	_, err := h.svc.GenerateOrReuseDialogue(context.Background(), Request{UserID: "nobody", Concern: "x"})
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("want ErrProfileNotFound got=%v", err)
	}
}

func TestGenerateOrReuseDialogueMalformedStoredKey(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), nil)
	if err := h.st.PutProfileKey(context.Background(), "user-1", "O4_C2_E5_A3"); err != nil {
		t.Fatalf("PutProfileKey: %v", err)
	}
	_, err := h.svc.GenerateOrReuseDialogue(context.Background(), Request{UserID: "user-1", Concern: "x"})
	var mk *personality.MalformedKeyError
	if !errors.As(err, &mk) {
		t.Fatalf("want MalformedKeyError got=%v", err)
	}
}

func TestGenerateOrReuseDialogueRejectsInvalidCategoryBeforeCounting(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), nil)
	h.saveProfile(t, "user-1")
	ctx := context.Background()
	_, err := h.svc.GenerateOrReuseDialogue(ctx, Request{UserID: "user-1", Concern: "career change", Category: strings.Repeat("c", 65)})
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("want ErrInvalidCategory got=%v", err)
	}
	if rec, _ := h.st.GetUsage(ctx, "user-1"); rec != nil && rec.ChatCountToday != 0 {
		t.Fatalf("rejected request must not consume a chat, got=%d", rec.ChatCountToday)
	}
}

func TestGenerateOrReuseDialogueRejectsEmptyConcern(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), nil)
	if _, err := h.svc.GenerateOrReuseDialogue(context.Background(), Request{UserID: "u", Concern: "  "}); !errors.Is(err, ErrEmptyConcern) {
		t.Fatalf("want ErrEmptyConcern got=%v", err)
	}
}

func TestSaveProfileRejectsInvalidGender(t *testing.T) {
	h := newHarness(t, DefaultConfig(), ledger.DefaultConfig(), nil)
	traits, _ := personality.NewTraitVector(3, 3, 3, 3, 3)
	if _, err := h.svc.SaveProfile(context.Background(), "u", personality.Profile{Traits: traits, Gender: "robot"}); err == nil {
		t.Fatalf("want error for unknown gender")
	}
}
