package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store"
	"github.com/yungbote/persona-council/internal/store/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLedger(t *testing.T, st store.UsageStore, cfg Config, opts ...Option) (*Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	l, err := New(st, cfg, logger.Nop(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, clock
}

func TestConsumeConcurrentNoLostUpdates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLimits = map[domain.Tier]int{domain.TierFree: -1}
	cfg.ConflictRetries = 1000
	st := memstore.New()
	l, _ := newLedger(t, st, cfg)

	const c = 40
	var g errgroup.Group
	for i := 0; i < c; i++ {
		g.Go(func() error {
			_, err := l.Consume(context.Background(), "u1")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	rec, _ := st.GetUsage(context.Background(), "u1")
	if rec.ChatCountToday != c || rec.TotalChats != c {
		t.Fatalf("counts: want=%d/%d got=%d/%d", c, c, rec.ChatCountToday, rec.TotalChats)
	}
}

func TestConsumeDailyLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLimits = map[domain.Tier]int{domain.TierFree: 2}
	st := memstore.New()
	l, _ := newLedger(t, st, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Consume(ctx, "u1"); err != nil {
			t.Fatalf("Consume #%d: %v", i, err)
		}
	}
	_, err := l.Consume(ctx, "u1")
	if !IsDailyLimitReached(err) {
		t.Fatalf("third Consume: want DailyLimitReachedError got=%v", err)
	}
	rec, _ := st.GetUsage(ctx, "u1")
	if rec.ChatCountToday != 2 {
		t.Fatalf("refusal must not mutate: want=2 got=%d", rec.ChatCountToday)
	}

	if _, err := l.GrantAdCredit(ctx, "u1", 1); err != nil {
		t.Fatalf("GrantAdCredit: %v", err)
	}
	if _, err := l.Consume(ctx, "u1"); err != nil {
		t.Fatalf("Consume after ad credit: %v", err)
	}
	if _, err := l.Consume(ctx, "u1"); !IsDailyLimitReached(err) {
		t.Fatalf("Consume past credit: want DailyLimitReachedError got=%v", err)
	}
}

func TestConsumeRollsOverDay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLimits = map[domain.Tier]int{domain.TierFree: 1}
	st := memstore.New()
	l, clock := newLedger(t, st, cfg)
	ctx := context.Background()

	if _, err := l.Consume(ctx, "u1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := l.GrantAdCredit(ctx, "u1", 2); err != nil {
		t.Fatalf("GrantAdCredit: %v", err)
	}
	clock.Advance(24 * time.Hour)
	rec, err := l.Consume(ctx, "u1")
	if err != nil {
		t.Fatalf("Consume next day: %v", err)
	}
	if rec.Day != "2025-03-11" || rec.ChatCountToday != 1 || rec.TotalChats != 2 || rec.AdEarnedCredits != 0 {
		t.Fatalf("rollover: got day=%s today=%d total=%d credits=%d", rec.Day, rec.ChatCountToday, rec.TotalChats, rec.AdEarnedCredits)
	}
}

func TestGetTierExpiredPremiumDowngradesWithoutMutation(t *testing.T) {
	st := memstore.New()
	l, clock := newLedger(t, st, DefaultConfig())
	ctx := context.Background()
	expired := clock.Now().Add(-time.Hour)
	if _, err := st.CreateUsage(ctx, &domain.UsageRecord{
		UserID: "u1", Day: "2025-03-10", Tier: domain.TierPremium, TierExpiresAt: &expired,
	}); err != nil {
		t.Fatalf("CreateUsage: %v", err)
	}

	info, err := l.GetTier(ctx, "u1")
	if err != nil {
		t.Fatalf("GetTier: %v", err)
	}
	if info.Tier != domain.TierFree || !info.Downgraded {
		t.Fatalf("tier: want=free downgraded got=%s downgraded=%v", info.Tier, info.Downgraded)
	}
	rec, _ := st.GetUsage(ctx, "u1")
	if rec.Tier != domain.TierPremium || rec.TierExpiresAt == nil || !rec.TierExpiresAt.Equal(expired) {
		t.Fatalf("stored tier must be untouched, got tier=%s expires=%v", rec.Tier, rec.TierExpiresAt)
	}
}

func TestGetTierActivePremiumUnlimited(t *testing.T) {
	st := memstore.New()
	l, clock := newLedger(t, st, DefaultConfig())
	ctx := context.Background()
	until := clock.Now().Add(24 * time.Hour)
	if _, err := l.ApplySubscription(ctx, "u1", domain.TierPremium, &until); err != nil {
		t.Fatalf("ApplySubscription: %v", err)
	}
	info, err := l.GetTier(ctx, "u1")
	if err != nil {
		t.Fatalf("GetTier: %v", err)
	}
	if info.Tier != domain.TierPremium || !info.Unlimited() {
		t.Fatalf("want unlimited premium, got %+v", info)
	}
}

func TestGetTierRollsStaleDay(t *testing.T) {
	st := memstore.New()
	l, _ := newLedger(t, st, DefaultConfig())
	ctx := context.Background()
	if _, err := st.CreateUsage(ctx, &domain.UsageRecord{UserID: "u1", Day: "2025-03-01", ChatCountToday: 4, TotalChats: 9, Tier: domain.TierFree}); err != nil {
		t.Fatalf("CreateUsage: %v", err)
	}
	if _, err := l.GetTier(ctx, "u1"); err != nil {
		t.Fatalf("GetTier: %v", err)
	}
	rec, _ := st.GetUsage(ctx, "u1")
	if rec.Day != "2025-03-10" || rec.ChatCountToday != 0 || rec.TotalChats != 9 {
		t.Fatalf("rollover: got day=%s today=%d total=%d", rec.Day, rec.ChatCountToday, rec.TotalChats)
	}
}

func TestAdDue(t *testing.T) {
	cases := []struct {
		count int64
		show  bool
		next  int64
	}{
		{0, false, 3},
		{1, false, 3},
		{2, false, 3},
		{3, true, 6},
		{4, false, 6},
		{6, true, 9},
	}
	for _, tc := range cases {
		got := AdDue(tc.count, 3)
		if got.ShouldShow != tc.show || got.NextThresholdAt != tc.next {
			t.Fatalf("AdDue(%d): want=%v/%d got=%v/%d", tc.count, tc.show, tc.next, got.ShouldShow, got.NextThresholdAt)
		}
	}
	if got := AdDue(3, 0); got.ShouldShow {
		t.Fatalf("AdDue with n=0 should never show")
	}
}

func TestCheckAdDisplayDue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLimits = map[domain.Tier]int{domain.TierFree: -1}
	st := memstore.New()
	l, clock := newLedger(t, st, cfg)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := l.Consume(ctx, "u1"); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	ad, err := l.CheckAdDisplayDue(ctx, "u1")
	if err != nil || !ad.ShouldShow {
		t.Fatalf("after 3 chats: want due got=%+v err=%v", ad, err)
	}
	clock.Advance(24 * time.Hour)
	ad, _ = l.CheckAdDisplayDue(ctx, "u1")
	if ad.ShouldShow || ad.NextThresholdAt != 3 {
		t.Fatalf("next day: want not due/3 got=%+v", ad)
	}
}

func TestRecordGeneration(t *testing.T) {
	st := memstore.New()
	l, _ := newLedger(t, st, DefaultConfig())
	ctx := context.Background()
	if err := l.RecordGeneration(ctx, "u1", 1200, 0.0042); err != nil {
		t.Fatalf("RecordGeneration(first): %v", err)
	}
	if err := l.RecordGeneration(ctx, "u1", 800, 0.001); err != nil {
		t.Fatalf("RecordGeneration: %v", err)
	}
	rec, _ := st.GetUsage(ctx, "u1")
	if rec.TotalTokens != 2000 || rec.TotalCostMicros != 5200 {
		t.Fatalf("totals: want=2000/5200 got=%d/%d", rec.TotalTokens, rec.TotalCostMicros)
	}
	if err := l.RecordGeneration(ctx, "u1", -1, 0); err == nil {
		t.Fatalf("negative tokens: want error")
	}
}

func TestGrantAdCreditRejectsNonPositive(t *testing.T) {
	l, _ := newLedger(t, memstore.New(), DefaultConfig())
	if _, err := l.GrantAdCredit(context.Background(), "u1", 0); err == nil {
		t.Fatalf("want error for zero amount")
	}
}

type countingSource struct {
	mu    sync.Mutex
	calls int
	sub   Subscription
	err   error
}

func (s *countingSource) Lookup(context.Context, string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.sub, s.err
}

func TestSubscriptionSourceSeedsNewRecords(t *testing.T) {
	clockStart := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	until := clockStart.Add(48 * time.Hour)
	src := &countingSource{sub: Subscription{Tier: domain.TierPremium, ExpiresAt: &until}}
	st := memstore.New()
	l, _ := newLedger(t, st, DefaultConfig(), WithSubscriptionSource(src))
	info, err := l.GetTier(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetTier: %v", err)
	}
	if info.Tier != domain.TierPremium {
		t.Fatalf("tier: want=premium got=%s", info.Tier)
	}
	if src.calls != 1 {
		t.Fatalf("lookups: want=1 got=%d", src.calls)
	}
}

func TestSubscriptionSourceFailureDefaultsToFree(t *testing.T) {
	src := &countingSource{err: errors.New("billing down")}
	l, _ := newLedger(t, memstore.New(), DefaultConfig(), WithSubscriptionSource(src))
	info, err := l.GetTier(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetTier: %v", err)
	}
	if info.Tier != domain.TierFree {
		t.Fatalf("tier: want=free got=%s", info.Tier)
	}
}

func TestSubscriptionCacheAvoidsRepeatLookups(t *testing.T) {
	src := &countingSource{sub: Subscription{Tier: domain.TierFree}}
	l, clock := newLedger(t, memstore.New(), DefaultConfig(), WithSubscriptionSource(src))
	ctx := context.Background()
	l.subscription(ctx, "u9")
	l.subscription(ctx, "u9")
	if src.calls != 1 {
		t.Fatalf("cached lookups: want=1 got=%d", src.calls)
	}
	clock.Advance(DefaultConfig().SubscriptionCacheTTL + time.Second)
	l.subscription(ctx, "u9")
	if src.calls != 2 {
		t.Fatalf("after ttl: want=2 got=%d", src.calls)
	}
}

func TestSubscriptionSourceNotConsultedOnceRecordExists(t *testing.T) {
	src := &countingSource{sub: Subscription{Tier: domain.TierPremium}}
	l, clock := newLedger(t, memstore.New(), DefaultConfig(), WithSubscriptionSource(src))
	ctx := context.Background()
	if _, err := l.Consume(ctx, "u1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	clock.Advance(DefaultConfig().SubscriptionCacheTTL + time.Second)
	src.mu.Lock()
	src.sub = Subscription{Tier: domain.TierFree}
	src.mu.Unlock()
	info, err := l.GetTier(ctx, "u1")
	if err != nil {
		t.Fatalf("GetTier: %v", err)
	}
	if info.Tier != domain.TierPremium {
		t.Fatalf("tier: want=premium from the stored record got=%s", info.Tier)
	}
	if src.calls != 1 {
		t.Fatalf("lookups: want=1 got=%d", src.calls)
	}

	if _, err := l.ApplySubscription(ctx, "u1", domain.TierFree, nil); err != nil {
		t.Fatalf("ApplySubscription: %v", err)
	}
	if info, _ := l.GetTier(ctx, "u1"); info.Tier != domain.TierFree {
		t.Fatalf("tier after ApplySubscription: want=free got=%s", info.Tier)
	}
}

func TestSnapshotRemaining(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLimits = map[domain.Tier]int{domain.TierFree: 5}
	l, _ := newLedger(t, memstore.New(), cfg)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := l.Consume(ctx, "u1"); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	snap, err := l.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Remaining != 3 {
		t.Fatalf("remaining: want=3 got=%d", snap.Remaining)
	}
}

func TestConflictObserverSeesRetries(t *testing.T) {
	st := &conflictOnce{UsageStore: memstore.New()}
	var seen []string
	l, _ := newLedger(t, st, DefaultConfig(), WithConflictObserver(func(op string) { seen = append(seen, op) }))
	if _, err := l.Consume(context.Background(), "u1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(seen) != 1 || seen[0] != "ledger.consume" {
		t.Fatalf("observed: want=[ledger.consume] got=%v", seen)
	}
}

// conflictOnce fails the first UpdateUsage with a conflict.
type conflictOnce struct {
	store.UsageStore
	tripped bool
}

func (c *conflictOnce) UpdateUsage(ctx context.Context, rec *domain.UsageRecord, v int64) error {
	if !c.tripped {
		c.tripped = true
		return store.Conflict("usage.update", rec.UserID)
	}
	return c.UsageStore.UpdateUsage(ctx, rec, v)
}
