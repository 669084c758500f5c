package domain

import (
	"strings"
	"time"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPremium:
		return TierPremium
	default:
		return TierFree
	}
}

// DayFormat is the calendar-day layout stored in UsageRecord.Day.
const DayFormat = "2006-01-02"

// UsageRecord is a user's daily counters plus subscription state. Only the
// ledger writes it.
type UsageRecord struct {
	UserID          string     `json:"user_id"`
	Day             string     `json:"day"`
	ChatCountToday  int64      `json:"chat_count_today"`
	TotalChats      int64      `json:"total_chats"`
	AdEarnedCredits int64      `json:"ad_earned_credits"`
	TotalTokens     int64      `json:"total_tokens"`
	TotalCostMicros int64      `json:"total_cost_micros"`
	Tier            Tier       `json:"tier"`
	TierExpiresAt   *time.Time `json:"tier_expires_at,omitempty"`
	Version         int64      `json:"version"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TotalCostUSD converts the integer micro-dollar counter.
func (u *UsageRecord) TotalCostUSD() float64 {
	return float64(u.TotalCostMicros) / 1e6
}

// RollTo resets the daily counters when day differs from the stored day.
// It reports whether anything changed.
func (u *UsageRecord) RollTo(day string) bool {
	if u.Day == day {
		return false
	}
	u.Day = day
	u.ChatCountToday = 0
	u.AdEarnedCredits = 0
	return true
}

// TierInfo is the effective subscription state after expiry validation.
type TierInfo struct {
	Tier       Tier
	ExpiresAt  *time.Time
	Downgraded bool
	DailyLimit int
}

// Unlimited reports a tier without a daily cap.
func (t TierInfo) Unlimited() bool {
	return t.DailyLimit < 0
}
