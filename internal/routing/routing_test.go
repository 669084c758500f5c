package routing

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/platform/logger"
)

type staticTiers map[string]domain.Tier

func (s staticTiers) GetTier(_ context.Context, userID string) (domain.TierInfo, error) {
	if userID == "broken" {
		return domain.TierInfo{}, errors.New("store down")
	}
	return domain.TierInfo{Tier: s[userID]}, nil
}

func testConfig() Config {
	return Config{
		Models: []ModelProfile{
			{ID: "premium-model", MaxContextTokens: 128000, MaxOutputTokens: 4096, CostPer1KInput: 0.01, CostPer1KOutput: 0.03, Fallbacks: []string{"mid-model"}, RateLimitProfile: "strict"},
			{ID: "mid-model", MaxContextTokens: 32000, MaxOutputTokens: 2048, CostPer1KInput: 0.001, CostPer1KOutput: 0.002, Fallbacks: []string{"baseline-model", "premium-model"}},
			{ID: "baseline-model", MaxContextTokens: 8192, MaxOutputTokens: 1024},
		},
		Tiers: map[domain.Tier]TierPolicy{
			domain.TierFree:    {Models: map[TaskType]string{TaskCouncilDialogue: "mid-model"}, TokenBudget: 1024},
			domain.TierPremium: {Models: map[TaskType]string{TaskCouncilDialogue: "premium-model"}},
		},
		TypicalInputTokens: 1000,
	}
}

func TestSelectPremiumChain(t *testing.T) {
	r, err := NewRouter(testConfig(), staticTiers{"p": domain.TierPremium}, logger.Nop())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	sel, err := r.Select(context.Background(), "p", TaskCouncilDialogue)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	want := []string{"premium-model", "mid-model", "baseline-model"}
	if got := sel.ChainIDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("chain: want=%v got=%v", want, got)
	}
	if sel.MaxTokens != 4096 || sel.RateLimitProfile != "strict" {
		t.Fatalf("selection: got max=%d profile=%q", sel.MaxTokens, sel.RateLimitProfile)
	}
	// 1000/1000*0.01 + 4096/1000*0.03
	if want := 0.01 + 4.096*0.03; sel.EstimatedCostUSD < want-1e-9 || sel.EstimatedCostUSD > want+1e-9 {
		t.Fatalf("cost: want=%f got=%f", want, sel.EstimatedCostUSD)
	}
}

func TestSelectFreeTierBudget(t *testing.T) {
	r, _ := NewRouter(testConfig(), staticTiers{"f": domain.TierFree}, logger.Nop())
	sel, err := r.Select(context.Background(), "f", TaskCouncilDialogue)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Primary.ID != "mid-model" || sel.MaxTokens != 1024 {
		t.Fatalf("free selection: got model=%s max=%d", sel.Primary.ID, sel.MaxTokens)
	}
	if got := sel.ChainIDs(); !reflect.DeepEqual(got, []string{"mid-model", "baseline-model", "premium-model"}) {
		t.Fatalf("chain: got=%v", got)
	}
}

func TestSelectMissingTaskIsConfigurationError(t *testing.T) {
	r, _ := NewRouter(testConfig(), staticTiers{"f": domain.TierFree}, logger.Nop())
	_, err := r.Select(context.Background(), "f", TaskType("summarize"))
	if !IsNoModelConfigured(err) {
		t.Fatalf("want NoModelConfiguredError got=%v", err)
	}
	sel, err := r.SelectOrBaseline(context.Background(), "f", TaskType("summarize"))
	if err != nil {
		t.Fatalf("SelectOrBaseline: %v", err)
	}
	if !sel.Baseline || sel.Primary.ID != BaselineModelID || sel.Tier != domain.TierFree || sel.Primary.MaxOutputTokens != baselineMaxTokens {
		t.Fatalf("baseline: got=%+v", sel)
	}
}

func TestSelectPropagatesTierFailure(t *testing.T) {
	r, _ := NewRouter(testConfig(), staticTiers{}, logger.Nop())
	if _, err := r.SelectOrBaseline(context.Background(), "broken", TaskCouncilDialogue); err == nil || IsNoModelConfigured(err) {
		t.Fatalf("want tier lookup error got=%v", err)
	}
}

func TestNewRouterValidatesReferences(t *testing.T) {
	cfg := testConfig()
	cfg.Models[0].Fallbacks = []string{"ghost"}
	if _, err := NewRouter(cfg, staticTiers{}, logger.Nop()); err == nil {
		t.Fatalf("want error for unknown fallback")
	}
	cfg = testConfig()
	cfg.Tiers[domain.TierFree] = TierPolicy{Models: map[TaskType]string{TaskCouncilDialogue: "ghost"}}
	if _, err := NewRouter(cfg, staticTiers{}, logger.Nop()); err == nil {
		t.Fatalf("want error for unknown tier model")
	}
}

func TestRegistryRewritesUpstreamModel(t *testing.T) {
	reg, err := NewRegistry([]ModelEngine{{ID: "premium-model", UpstreamModel: "gpt-4o", Engine: EngineConfig{Type: "mock"}}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	var seen string
	reg.routes["premium-model"] = Route{PublicModel: "premium-model", UpstreamModel: "gpt-4o", Provider: llm.ProviderFunc(func(_ context.Context, req llm.Request) (*llm.Completion, error) {
		seen = req.Model
		return &llm.Completion{Text: "ok"}, nil
	})}
	if _, err := reg.Complete(context.Background(), llm.Request{Model: "premium-model"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if seen != "gpt-4o" {
		t.Fatalf("upstream: want=gpt-4o got=%q", seen)
	}
	_, err = reg.Complete(context.Background(), llm.Request{Model: "nope"})
	if llm.Classify(err) != llm.ClassModelUnavailable {
		t.Fatalf("unknown model: want model_unavailable got=%v", err)
	}
}

func TestRegistryRejectsBadEngines(t *testing.T) {
	if _, err := NewRegistry([]ModelEngine{{ID: "x", Engine: EngineConfig{Type: "grpc"}}}); err == nil {
		t.Fatalf("want error for unsupported engine")
	}
	if _, err := NewRegistry([]ModelEngine{{ID: "x", Engine: EngineConfig{Type: "oai_http"}}}); err == nil {
		t.Fatalf("want error for missing base url")
	}
	if _, err := NewRegistry([]ModelEngine{{ID: "x"}, {ID: "x"}}); err == nil {
		t.Fatalf("want error for duplicate id")
	}
}
