package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/http/response"
	"github.com/yungbote/persona-council/internal/ledger"
	"github.com/yungbote/persona-council/internal/platform/apierr"
	"github.com/yungbote/persona-council/internal/platform/ctxutil"
)

const maxAdCreditPerCall = 10

type UsageService interface {
	Snapshot(ctx context.Context, userID string) (*ledger.Snapshot, error)
	GrantAdCredit(ctx context.Context, userID string, amount int) (*domain.UsageRecord, error)
	CheckAdDisplayDue(ctx context.Context, userID string) (ledger.AdDisplay, error)
	ApplySubscription(ctx context.Context, userID string, tier domain.Tier, expiresAt *time.Time) (*domain.UsageRecord, error)
}

type UsageHandler struct {
	ledger UsageService
}

func NewUsageHandler(svc UsageService) *UsageHandler {
	return &UsageHandler{ledger: svc}
}

type usageView struct {
	Day             string           `json:"day"`
	ChatCountToday  int64            `json:"chat_count_today"`
	AdEarnedCredits int64            `json:"ad_earned_credits"`
	Remaining       int64            `json:"remaining"`
	Tier            string           `json:"tier"`
	TierExpiresAt   *time.Time       `json:"tier_expires_at,omitempty"`
	Downgraded      bool             `json:"downgraded"`
	DailyLimit      int              `json:"daily_limit"`
	TotalChats      int64            `json:"total_chats"`
	TotalTokens     int64            `json:"total_tokens"`
	TotalCostUSD    float64          `json:"total_cost_usd"`
	Ad              ledger.AdDisplay `json:"ad"`
}

// GET /v1/usage
func (h *UsageHandler) Get(c *gin.Context) {
	snap, err := h.ledger.Snapshot(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondOK(c, gin.H{"usage": usageView{
		Day:             snap.Record.Day,
		ChatCountToday:  snap.Record.ChatCountToday,
		AdEarnedCredits: snap.Record.AdEarnedCredits,
		Remaining:       snap.Remaining,
		Tier:            string(snap.Tier.Tier),
		TierExpiresAt:   snap.Tier.ExpiresAt,
		Downgraded:      snap.Tier.Downgraded,
		DailyLimit:      snap.Tier.DailyLimit,
		TotalChats:      snap.Record.TotalChats,
		TotalTokens:     snap.Record.TotalTokens,
		TotalCostUSD:    snap.Record.TotalCostUSD(),
		Ad:              snap.Ad,
	}})
}

// POST /v1/usage/ad-credit
// body (optional): { "amount": 1 }
func (h *UsageHandler) GrantAdCredit(c *gin.Context) {
	var req struct {
		Amount int `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.RespondAPIError(c, apierr.BadRequest("invalid_request", err))
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	if req.Amount < 0 || req.Amount > maxAdCreditPerCall {
		response.RespondAPIError(c, apierr.BadRequest("invalid_amount", errAmountOutOfRange))
		return
	}
	rec, err := h.ledger.GrantAdCredit(c.Request.Context(), ctxutil.UserID(c.Request.Context()), req.Amount)
	if err != nil {
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondOK(c, gin.H{
		"ad_earned_credits": rec.AdEarnedCredits,
		"chat_count_today":  rec.ChatCountToday,
	})
}

// GET /v1/usage/ad-due
func (h *UsageHandler) AdDue(c *gin.Context) {
	ad, err := h.ledger.CheckAdDisplayDue(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondOK(c, gin.H{"ad": ad})
}

// POST /v1/internal/subscription
// body: { "user_id": "...", "tier": "premium", "expires_at": "2026-01-01T00:00:00Z" }
func (h *UsageHandler) ApplySubscription(c *gin.Context) {
	var req struct {
		UserID    string     `json:"user_id" binding:"required"`
		Tier      string     `json:"tier" binding:"required,oneof=free premium"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid_request", err))
		return
	}
	rec, err := h.ledger.ApplySubscription(c.Request.Context(), req.UserID, domain.ParseTier(req.Tier), req.ExpiresAt)
	if err != nil {
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondOK(c, gin.H{
		"user_id":         rec.UserID,
		"tier":            rec.Tier,
		"tier_expires_at": rec.TierExpiresAt,
	})
}
