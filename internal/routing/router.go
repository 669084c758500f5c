package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/platform/logger"
)

const (
	BaselineModelID   = "baseline-model"
	baselineMaxTokens = 256
)

// NoModelConfiguredError is a routing table without an entry for the
// requested tier and task. It is a configuration defect.
type NoModelConfiguredError struct {
	Tier domain.Tier
	Task TaskType
}

func (e *NoModelConfiguredError) Error() string {
	return fmt.Sprintf("no model configured for tier=%s task=%s", e.Tier, e.Task)
}

func IsNoModelConfigured(err error) bool {
	var n *NoModelConfiguredError
	return errors.As(err, &n)
}

// TierLookup resolves a user's effective tier.
type TierLookup interface {
	GetTier(ctx context.Context, userID string) (domain.TierInfo, error)
}

type Router struct {
	tiers  TierLookup
	models map[string]ModelProfile
	policy map[domain.Tier]TierPolicy
	typIn  int
	log    *logger.Logger
	now    func() time.Time
}

func NewRouter(cfg Config, tiers TierLookup, log *logger.Logger) (*Router, error) {
	if tiers == nil {
		return nil, errors.New("routing: tier lookup required")
	}
	r := &Router{
		tiers:  tiers,
		models: map[string]ModelProfile{},
		policy: cfg.Tiers,
		typIn:  cfg.TypicalInputTokens,
		log:    log.Component("ModelRouter"),
		now:    time.Now,
	}
	if r.typIn <= 0 {
		r.typIn = 1500
	}
	for _, m := range cfg.Models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("model id required")
		}
		if _, exists := r.models[id]; exists {
			return nil, fmt.Errorf("duplicate model id: %s", id)
		}
		r.models[id] = m
	}
	for id, m := range r.models {
		for _, fb := range m.Fallbacks {
			if _, ok := r.models[fb]; !ok {
				return nil, fmt.Errorf("model %s: unknown fallback %q", id, fb)
			}
		}
	}
	for tier, p := range cfg.Tiers {
		for task, id := range p.Models {
			if _, ok := r.models[id]; !ok {
				return nil, fmt.Errorf("tier %s task %s: unknown model %q", tier, task, id)
			}
		}
	}
	return r, nil
}

// Select returns the configured primary model and its fallback chain for the
// user's effective tier.
func (r *Router) Select(ctx context.Context, userID string, task TaskType) (Selection, error) {
	info, err := r.tiers.GetTier(ctx, userID)
	if err != nil {
		return Selection{}, fmt.Errorf("resolve tier: %w", err)
	}
	policy, ok := r.policy[info.Tier]
	modelID := ""
	if ok {
		modelID = policy.Models[task]
	}
	primary, found := r.models[modelID]
	if !found {
		err := &NoModelConfiguredError{Tier: info.Tier, Task: task}
		r.log.Error("model routing misconfigured", "tier", info.Tier, "task", task)
		return Selection{}, err
	}

	sel := Selection{
		Tier:             info.Tier,
		Primary:          primary,
		Fallbacks:        r.fallbacks(primary),
		RateLimitProfile: primary.RateLimitProfile,
		SelectedAt:       r.now(),
	}
	sel.MaxTokens = primary.MaxOutputTokens
	if policy.TokenBudget > 0 && (sel.MaxTokens <= 0 || policy.TokenBudget < sel.MaxTokens) {
		sel.MaxTokens = policy.TokenBudget
	}
	sel.EstimatedCostUSD = primary.EstimateCost(r.typIn, sel.MaxTokens)
	r.log.Debug("model selected", "user_id", userID, "tier", info.Tier, "task", task, "chain", sel.ChainIDs())
	return sel, nil
}

// SelectOrBaseline is Select for callers that must not fail on routing
// configuration: a missing entry yields Baseline.
func (r *Router) SelectOrBaseline(ctx context.Context, userID string, task TaskType) (Selection, error) {
	sel, err := r.Select(ctx, userID, task)
	if IsNoModelConfigured(err) {
		base := Baseline()
		if m, ok := r.models[BaselineModelID]; ok {
			base.Primary = m
			base.Primary.MaxOutputTokens = baselineMaxTokens
		}
		return base, nil
	}
	return sel, err
}

// fallbacks walks the directed fallback lists breadth-first, skipping models
// already in the chain.
func (r *Router) fallbacks(primary ModelProfile) []ModelProfile {
	seen := map[string]bool{primary.ID: true}
	var out []ModelProfile
	queue := append([]string(nil), primary.Fallbacks...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		m, ok := r.models[id]
		if !ok {
			continue
		}
		out = append(out, m)
		queue = append(queue, m.Fallbacks...)
	}
	return out
}

// Model returns a configured profile by id.
func (r *Router) Model(id string) (ModelProfile, bool) {
	m, ok := r.models[id]
	return m, ok
}

// Baseline is the static emergency selection: the baseline model on the free
// tier with a minimal token budget and no fallbacks.
func Baseline() Selection {
	return Selection{
		Tier: domain.TierFree,
		Primary: ModelProfile{
			ID:               BaselineModelID,
			MaxContextTokens: 8192,
			MaxOutputTokens:  baselineMaxTokens,
		},
		MaxTokens: baselineMaxTokens,
		Baseline:  true,
	}
}
