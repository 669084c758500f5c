// Package ledger tracks per-user daily chat usage, ad-earned credits and
// subscription tier. Every mutation is a version compare-and-set against the
// store, retried on conflict, so concurrent requests never lose updates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store"
)

const (
	defaultAdFrequency  = 3
	defaultFreeLimit    = 5
	defaultPremiumLimit = -1
	defaultSubCacheSize = 1024
	defaultSubCacheTTL  = 5 * time.Minute
)

type Config struct {
	// DailyLimits caps chats per calendar day per tier. Negative is unlimited.
	DailyLimits map[domain.Tier]int
	// AdFrequency is N in "show an ad every N chats".
	AdFrequency int
	// Location decides where calendar days begin.
	Location              *time.Location
	ConflictRetries       int
	SubscriptionCacheSize int
	SubscriptionCacheTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		DailyLimits: map[domain.Tier]int{
			domain.TierFree:    defaultFreeLimit,
			domain.TierPremium: defaultPremiumLimit,
		},
		AdFrequency:           defaultAdFrequency,
		Location:              time.UTC,
		ConflictRetries:       store.DefaultConflictRetries,
		SubscriptionCacheSize: defaultSubCacheSize,
		SubscriptionCacheTTL:  defaultSubCacheTTL,
	}
}

// Subscription is what the billing side knows about a user.
type Subscription struct {
	Tier      domain.Tier
	ExpiresAt *time.Time
}

// SubscriptionSource is the external tier lookup. It is consulted only when a
// user has no usage record yet; afterwards ApplySubscription is the single
// writer of tier data and the source is not asked again. Its cache therefore
// only absorbs repeated first-sight lookups, such as concurrent first requests
// or conflict retries while the record is being created.
type SubscriptionSource interface {
	Lookup(ctx context.Context, userID string) (Subscription, error)
}

type subEntry struct {
	sub      Subscription
	storedAt time.Time
}

// DailyLimitReachedError refuses a consume once the day's allowance is spent.
type DailyLimitReachedError struct {
	UserID string
	Limit  int64
	Used   int64
}

func (e *DailyLimitReachedError) Error() string {
	return fmt.Sprintf("daily chat limit reached (%d/%d)", e.Used, e.Limit)
}

func IsDailyLimitReached(err error) bool {
	var d *DailyLimitReachedError
	return errors.As(err, &d)
}

// AdDisplay is the outcome of CheckAdDisplayDue.
type AdDisplay struct {
	ShouldShow      bool  `json:"should_show"`
	NextThresholdAt int64 `json:"next_threshold_at"`
}

// Snapshot is a read view of a user's usage for the HTTP surface.
type Snapshot struct {
	Record    domain.UsageRecord `json:"record"`
	Tier      domain.TierInfo    `json:"tier"`
	Remaining int64              `json:"remaining"` // -1 when unlimited
	Ad        AdDisplay          `json:"ad"`
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithSubscriptionSource(src SubscriptionSource) Option {
	return func(l *Ledger) { l.subs = src }
}

// WithConflictObserver is called for every retried store conflict.
func WithConflictObserver(fn store.ConflictObserver) Option {
	return func(l *Ledger) { l.onConflict = fn }
}

type Ledger struct {
	store      store.UsageStore
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
	subs       SubscriptionSource
	subCache   *lru.Cache[string, subEntry]
	onConflict store.ConflictObserver
}

func New(st store.UsageStore, cfg Config, log *logger.Logger, opts ...Option) (*Ledger, error) {
	if st == nil {
		return nil, errors.New("ledger: store required")
	}
	def := DefaultConfig()
	if cfg.DailyLimits == nil {
		cfg.DailyLimits = def.DailyLimits
	}
	if cfg.AdFrequency <= 0 {
		cfg.AdFrequency = def.AdFrequency
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = def.ConflictRetries
	}
	if cfg.SubscriptionCacheSize <= 0 {
		cfg.SubscriptionCacheSize = def.SubscriptionCacheSize
	}
	if cfg.SubscriptionCacheTTL <= 0 {
		cfg.SubscriptionCacheTTL = def.SubscriptionCacheTTL
	}
	cache, err := lru.New[string, subEntry](cfg.SubscriptionCacheSize)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		store:    st,
		cfg:      cfg,
		log:      log.Component("UsageLedger"),
		now:      time.Now,
		subCache: cache,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) today() string {
	return l.now().In(l.cfg.Location).Format(domain.DayFormat)
}

func (l *Ledger) limitFor(t domain.Tier) int {
	if n, ok := l.cfg.DailyLimits[t]; ok {
		return n
	}
	return l.cfg.DailyLimits[domain.TierFree]
}

// effectiveTier validates expiry without touching the record.
func (l *Ledger) effectiveTier(rec *domain.UsageRecord) domain.TierInfo {
	info := domain.TierInfo{Tier: rec.Tier, ExpiresAt: rec.TierExpiresAt}
	if rec.Tier != domain.TierFree && rec.TierExpiresAt != nil && !l.now().Before(*rec.TierExpiresAt) {
		info.Tier = domain.TierFree
		info.Downgraded = true
	}
	info.DailyLimit = l.limitFor(info.Tier)
	return info
}

func (l *Ledger) retry(ctx context.Context, op string, fn func() error) error {
	return store.RetryOnConflict(ctx, op, l.cfg.ConflictRetries, l.onConflict, fn)
}

// load returns the user's record, creating a fresh one on first sight.
func (l *Ledger) load(ctx context.Context, userID string) (*domain.UsageRecord, error) {
	rec, err := l.store.GetUsage(ctx, userID)
	if err != nil || rec != nil {
		return rec, err
	}
	sub := l.subscription(ctx, userID)
	fresh := &domain.UsageRecord{
		UserID:        userID,
		Day:           l.today(),
		Tier:          sub.Tier,
		TierExpiresAt: sub.ExpiresAt,
		UpdatedAt:     l.now().UTC(),
	}
	created, err := l.store.CreateUsage(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if created {
		l.log.Debug("usage record created", "user_id", userID, "tier", fresh.Tier)
		return fresh, nil
	}
	rec, err = l.store.GetUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// created elsewhere and deleted again; let the caller retry
		return nil, store.Conflict("usage.load", userID)
	}
	return rec, nil
}

// subscription is the cached source lookup. Entries live in an LRU and are
// dropped once older than SubscriptionCacheTTL.
func (l *Ledger) subscription(ctx context.Context, userID string) Subscription {
	if l.subs == nil {
		return Subscription{Tier: domain.TierFree}
	}
	if e, ok := l.subCache.Get(userID); ok {
		if l.now().Sub(e.storedAt) < l.cfg.SubscriptionCacheTTL {
			return e.sub
		}
		l.subCache.Remove(userID)
	}
	sub, err := l.subs.Lookup(ctx, userID)
	if err != nil {
		l.log.Warn("subscription lookup failed, defaulting to free", "user_id", userID, "error", err)
		return Subscription{Tier: domain.TierFree}
	}
	sub.Tier = domain.ParseTier(string(sub.Tier))
	l.subCache.Add(userID, subEntry{sub: sub, storedAt: l.now()})
	return sub
}

// GetTier reports the effective tier, downgrading expired subscriptions in the
// answer only, and rolls stale daily counters forward.
func (l *Ledger) GetTier(ctx context.Context, userID string) (domain.TierInfo, error) {
	var info domain.TierInfo
	err := l.retry(ctx, "ledger.get_tier", func() error {
		rec, err := l.load(ctx, userID)
		if err != nil {
			return err
		}
		if rec.RollTo(l.today()) {
			rec.UpdatedAt = l.now().UTC()
			if err := l.store.UpdateUsage(ctx, rec, rec.Version); err != nil {
				return err
			}
		}
		info = l.effectiveTier(rec)
		return nil
	})
	if err != nil {
		return domain.TierInfo{}, err
	}
	if info.Downgraded {
		l.log.Debug("subscription expired, treating as free", "user_id", userID, "expired_at", info.ExpiresAt)
	}
	return info, nil
}

// Consume counts one chat against today's allowance.
func (l *Ledger) Consume(ctx context.Context, userID string) (*domain.UsageRecord, error) {
	var out *domain.UsageRecord
	err := l.retry(ctx, "ledger.consume", func() error {
		rec, err := l.load(ctx, userID)
		if err != nil {
			return err
		}
		rec.RollTo(l.today())
		info := l.effectiveTier(rec)
		if !info.Unlimited() {
			allowance := int64(info.DailyLimit) + rec.AdEarnedCredits
			if rec.ChatCountToday >= allowance {
				return &DailyLimitReachedError{UserID: userID, Limit: allowance, Used: rec.ChatCountToday}
			}
		}
		rec.ChatCountToday++
		rec.TotalChats++
		rec.UpdatedAt = l.now().UTC()
		if err := l.store.UpdateUsage(ctx, rec, rec.Version); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Debug("chat consumed", "user_id", userID, "chat_count_today", out.ChatCountToday)
	return out, nil
}

// GrantAdCredit adds amount extra chats for today.
func (l *Ledger) GrantAdCredit(ctx context.Context, userID string, amount int) (*domain.UsageRecord, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: ad credit amount must be positive, got %d", amount)
	}
	var out *domain.UsageRecord
	err := l.retry(ctx, "ledger.grant_ad_credit", func() error {
		rec, err := l.load(ctx, userID)
		if err != nil {
			return err
		}
		rec.RollTo(l.today())
		rec.AdEarnedCredits += int64(amount)
		rec.UpdatedAt = l.now().UTC()
		if err := l.store.UpdateUsage(ctx, rec, rec.Version); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Debug("ad credit granted", "user_id", userID, "amount", amount, "ad_earned_credits", out.AdEarnedCredits)
	return out, nil
}

// AdDue is due exactly when count is a positive multiple of n.
func AdDue(count int64, n int) AdDisplay {
	if n <= 0 {
		return AdDisplay{}
	}
	step := int64(n)
	return AdDisplay{
		ShouldShow:      count > 0 && count%step == 0,
		NextThresholdAt: (count/step + 1) * step,
	}
}

// CheckAdDisplayDue reads today's chat count and applies AdDue. It never
// writes; a stale day counts as zero.
func (l *Ledger) CheckAdDisplayDue(ctx context.Context, userID string) (AdDisplay, error) {
	rec, err := l.store.GetUsage(ctx, userID)
	if err != nil {
		return AdDisplay{}, err
	}
	var count int64
	if rec != nil && rec.Day == l.today() {
		count = rec.ChatCountToday
	}
	return AdDue(count, l.cfg.AdFrequency), nil
}

// RecordGeneration adds a generation's tokens and cost to the cumulative totals.
func (l *Ledger) RecordGeneration(ctx context.Context, userID string, tokens int64, costUSD float64) error {
	if tokens < 0 || costUSD < 0 || math.IsNaN(costUSD) {
		return fmt.Errorf("ledger: invalid generation totals tokens=%d cost=%f", tokens, costUSD)
	}
	micros := int64(math.Round(costUSD * 1e6))
	err := l.store.IncrementUsageTotals(ctx, userID, tokens, micros)
	if errors.Is(err, store.ErrNotFound) {
		if _, err = l.load(ctx, userID); err != nil {
			return err
		}
		err = l.store.IncrementUsageTotals(ctx, userID, tokens, micros)
	}
	if err != nil {
		return err
	}
	l.log.Debug("generation recorded", "user_id", userID, "tokens", tokens, "cost_micros", micros)
	return nil
}

// ApplySubscription is the only write path for tier data.
func (l *Ledger) ApplySubscription(ctx context.Context, userID string, tier domain.Tier, expiresAt *time.Time) (*domain.UsageRecord, error) {
	tier = domain.ParseTier(string(tier))
	var out *domain.UsageRecord
	err := l.retry(ctx, "ledger.apply_subscription", func() error {
		rec, err := l.load(ctx, userID)
		if err != nil {
			return err
		}
		rec.RollTo(l.today())
		rec.Tier = tier
		rec.TierExpiresAt = expiresAt
		rec.UpdatedAt = l.now().UTC()
		if err := l.store.UpdateUsage(ctx, rec, rec.Version); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.subCache.Remove(userID)
	l.log.Info("subscription applied", "user_id", userID, "tier", tier, "expires_at", expiresAt)
	return out, nil
}

// Snapshot returns the user's record with today's effective view applied.
func (l *Ledger) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	info, err := l.GetTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec, err := l.store.GetUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, store.ErrNotFound
	}
	rec.RollTo(l.today())
	remaining := int64(-1)
	if !info.Unlimited() {
		remaining = max(int64(info.DailyLimit)+rec.AdEarnedCredits-rec.ChatCountToday, 0)
	}
	return &Snapshot{
		Record:    *rec,
		Tier:      info,
		Remaining: remaining,
		Ad:        AdDue(rec.ChatCountToday, l.cfg.AdFrequency),
	}, nil
}

// ParseDailyLimits normalizes tier names from configuration.
func ParseDailyLimits(m map[string]int) map[domain.Tier]int {
	out := make(map[domain.Tier]int, len(m))
	for k, v := range m {
		out[domain.Tier(strings.ToLower(strings.TrimSpace(k)))] = v
	}
	return out
}
