// Package routing picks the model chain for a request from the user's tier
// and owns the registry that maps model ids to providers.
package routing

import (
	"time"

	"github.com/yungbote/persona-council/internal/domain"
)

type TaskType string

const (
	TaskCouncilDialogue TaskType = "council_dialogue"
)

// ModelProfile is the static description of one configured model.
type ModelProfile struct {
	ID               string   `json:"id"`
	MaxContextTokens int      `json:"max_context_tokens"`
	MaxOutputTokens  int      `json:"max_output_tokens"`
	CostPer1KInput   float64  `json:"cost_per_1k_input"`
	CostPer1KOutput  float64  `json:"cost_per_1k_output"`
	Fallbacks        []string `json:"fallbacks,omitempty"`
	RateLimitProfile string   `json:"rate_limit_profile,omitempty"`
}

// EstimateCost prices a call in USD.
func (m ModelProfile) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*m.CostPer1KInput + float64(outputTokens)/1000*m.CostPer1KOutput
}

// TierPolicy is a tier's routing table.
type TierPolicy struct {
	Models map[TaskType]string `json:"models"`
	// TokenBudget caps output tokens per call; zero means the model's own max.
	TokenBudget int `json:"token_budget"`
}

type Config struct {
	Models []ModelProfile
	Tiers  map[domain.Tier]TierPolicy
	// TypicalInputTokens feeds the pre-call cost estimate.
	TypicalInputTokens int
}

// Selection is the outcome of Select.
type Selection struct {
	Tier             domain.Tier    `json:"tier"`
	Primary          ModelProfile   `json:"primary"`
	Fallbacks        []ModelProfile `json:"fallbacks"`
	MaxTokens        int            `json:"max_tokens"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	RateLimitProfile string         `json:"rate_limit_profile"`
	Baseline         bool           `json:"baseline"`
	SelectedAt       time.Time      `json:"selected_at"`
}

// Chain is the primary model followed by its fallbacks.
func (s Selection) Chain() []ModelProfile {
	out := make([]ModelProfile, 0, 1+len(s.Fallbacks))
	out = append(out, s.Primary)
	return append(out, s.Fallbacks...)
}

// ChainIDs lists model ids in Chain order.
func (s Selection) ChainIDs() []string {
	chain := s.Chain()
	out := make([]string, 0, len(chain))
	for _, m := range chain {
		out = append(out, m.ID)
	}
	return out
}
