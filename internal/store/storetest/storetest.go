// Package storetest is a conformance suite every store backend runs.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/store"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.TransactionalStore

func Run(t *testing.T, newStore Factory) {
	t.Run("UsageLifecycle", func(t *testing.T) { testUsageLifecycle(t, newStore(t)) })
	t.Run("UsageTotals", func(t *testing.T) { testUsageTotals(t, newStore(t)) })
	t.Run("MeetingLifecycle", func(t *testing.T) { testMeetingLifecycle(t, newStore(t)) })
	t.Run("MeetingDelete", func(t *testing.T) { testMeetingDelete(t, newStore(t)) })
	t.Run("MeetingConcurrentIncrement", func(t *testing.T) { testMeetingConcurrentIncrement(t, newStore(t)) })
	t.Run("ListMeetingKeys", func(t *testing.T) { testListMeetingKeys(t, newStore(t)) })
	t.Run("Profiles", func(t *testing.T) { testProfiles(t, newStore(t)) })
}

func NewMeeting(key, category string, status domain.MeetingStatus) *domain.MeetingRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.MeetingRecord{
		ID:              uuid.NewString(),
		PersonalityKey:  key,
		ConcernCategory: category,
		Status:          status,
		Conversation: []domain.Round{
			{SpeakerRole: "self", Text: "hello", SequenceIndex: 0},
			{SpeakerRole: "ideal", Text: "hi", SequenceIndex: 1},
		},
		Conclusion: domain.Conclusion{Summary: "s", Recommendations: []string{"r"}, NextSteps: []string{"n"}},
		LastUsedAt: now,
		CreatedAt:  now,
	}
}

func testUsageLifecycle(t *testing.T, s store.TransactionalStore) {
	ctx := context.Background()
	got, err := s.GetUsage(ctx, "u1")
	if err != nil || got != nil {
		t.Fatalf("GetUsage(absent): want=nil,nil got=%v,%v", got, err)
	}
	rec := &domain.UsageRecord{UserID: "u1", Day: "2025-01-01", Tier: domain.TierFree, UpdatedAt: time.Now().UTC()}
	created, err := s.CreateUsage(ctx, rec)
	if err != nil || !created {
		t.Fatalf("CreateUsage: want=true got=%v err=%v", created, err)
	}
	created, err = s.CreateUsage(ctx, &domain.UsageRecord{UserID: "u1", Day: "2025-01-01", Tier: domain.TierFree})
	if err != nil || created {
		t.Fatalf("CreateUsage(dup): want=false got=%v err=%v", created, err)
	}

	cur, err := s.GetUsage(ctx, "u1")
	if err != nil || cur == nil {
		t.Fatalf("GetUsage: %v", err)
	}
	expected := cur.Version
	cur.ChatCountToday = 3
	cur.TotalChats = 3
	if err := s.UpdateUsage(ctx, cur, expected); err != nil {
		t.Fatalf("UpdateUsage: %v", err)
	}
	if cur.Version != expected+1 {
		t.Fatalf("version: want=%d got=%d", expected+1, cur.Version)
	}

	stale := *cur
	stale.ChatCountToday = 99
	err = s.UpdateUsage(ctx, &stale, expected)
	if !store.IsConflict(err) {
		t.Fatalf("UpdateUsage(stale): want conflict got=%v", err)
	}

	cur, _ = s.GetUsage(ctx, "u1")
	if cur.ChatCountToday != 3 || cur.TotalChats != 3 {
		t.Fatalf("stored counts: want=3/3 got=%d/%d", cur.ChatCountToday, cur.TotalChats)
	}
}

func testUsageTotals(t *testing.T, s store.TransactionalStore) {
	ctx := context.Background()
	if err := s.IncrementUsageTotals(ctx, "missing", 1, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("IncrementUsageTotals(missing): want ErrNotFound got=%v", err)
	}
	if _, err := s.CreateUsage(ctx, &domain.UsageRecord{UserID: "u2", Day: "2025-01-01", Tier: domain.TierFree}); err != nil {
		t.Fatalf("CreateUsage: %v", err)
	}
	if err := s.IncrementUsageTotals(ctx, "u2", 100, 250); err != nil {
		t.Fatalf("IncrementUsageTotals: %v", err)
	}
	if err := s.IncrementUsageTotals(ctx, "u2", 50, 50); err != nil {
		t.Fatalf("IncrementUsageTotals: %v", err)
	}
	cur, _ := s.GetUsage(ctx, "u2")
	if cur.TotalTokens != 150 || cur.TotalCostMicros != 300 {
		t.Fatalf("totals: want=150/300 got=%d/%d", cur.TotalTokens, cur.TotalCostMicros)
	}

	// a counter update must not clobber totals written concurrently.
	stale := *cur
	stale.TotalTokens = 0
	stale.ChatCountToday = 1
	if err := s.UpdateUsage(ctx, &stale, stale.Version); err != nil {
		t.Fatalf("UpdateUsage: %v", err)
	}
	cur, _ = s.GetUsage(ctx, "u2")
	if cur.TotalTokens != 150 || cur.ChatCountToday != 1 {
		t.Fatalf("after update: want tokens=150 chats=1 got=%d/%d", cur.TotalTokens, cur.ChatCountToday)
	}
}

func testMeetingLifecycle(t *testing.T, s store.TransactionalStore) {
	ctx := context.Background()
	got, err := s.GetMeeting(ctx, "O3_C3_E3_A3_N3_female", "career")
	if err != nil || got != nil {
		t.Fatalf("GetMeeting(absent): want=nil,nil got=%v,%v", got, err)
	}

	rec := NewMeeting("O3_C3_E3_A3_N3_female", "career", domain.MeetingPending)
	rec.LeaseToken = "lease-1"
	created, err := s.CreateMeeting(ctx, rec)
	if err != nil || !created {
		t.Fatalf("CreateMeeting: want=true got=%v err=%v", created, err)
	}
	dup := NewMeeting("O3_C3_E3_A3_N3_female", "career", domain.MeetingPending)
	created, err = s.CreateMeeting(ctx, dup)
	if err != nil || created {
		t.Fatalf("CreateMeeting(dup pair): want=false got=%v err=%v", created, err)
	}
	other := NewMeeting("O3_C3_E3_A3_N3_female", "health", domain.MeetingPending)
	if created, err := s.CreateMeeting(ctx, other); err != nil || !created {
		t.Fatalf("CreateMeeting(other category): want=true got=%v err=%v", created, err)
	}

	cur, err := s.GetMeeting(ctx, "O3_C3_E3_A3_N3_female", "career")
	if err != nil || cur == nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if cur.ID != rec.ID || cur.Status != domain.MeetingPending || cur.LeaseToken != "lease-1" {
		t.Fatalf("GetMeeting: unexpected record %+v", cur)
	}
	if len(cur.Conversation) != 2 || cur.Conversation[1].SpeakerRole != "ideal" {
		t.Fatalf("conversation not persisted: %+v", cur.Conversation)
	}

	v := cur.Version
	cur.Status = domain.MeetingReady
	cur.LeaseToken = ""
	cur.UsageCount = 1
	cur.ModelUsed = "m1"
	if err := s.UpdateMeeting(ctx, cur, v); err != nil {
		t.Fatalf("UpdateMeeting: %v", err)
	}
	if err := s.UpdateMeeting(ctx, cur, v); !store.IsConflict(err) {
		t.Fatalf("UpdateMeeting(stale): want conflict got=%v", err)
	}

	byID, err := s.GetMeetingByID(ctx, rec.ID)
	if err != nil || byID == nil {
		t.Fatalf("GetMeetingByID: %v", err)
	}
	if !byID.Ready() || byID.UsageCount != 1 || byID.ModelUsed != "m1" || byID.Conclusion.Summary != "s" {
		t.Fatalf("GetMeetingByID: unexpected record %+v", byID)
	}

	inc, err := s.IncrementMeetingUsage(ctx, rec.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("IncrementMeetingUsage: %v", err)
	}
	if inc.UsageCount != 2 {
		t.Fatalf("usage: want=2 got=%d", inc.UsageCount)
	}
	if _, err := s.IncrementMeetingUsage(ctx, "nope", time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("IncrementMeetingUsage(missing): want ErrNotFound got=%v", err)
	}
}

func testMeetingDelete(t *testing.T, s store.TransactionalStore) {
	ctx := context.Background()
	rec := NewMeeting("O1_C1_E1_A1_N1_male", "career", domain.MeetingPending)
	if _, err := s.CreateMeeting(ctx, rec); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	cur, _ := s.GetMeetingByID(ctx, rec.ID)
	if err := s.DeleteMeeting(ctx, rec.ID, cur.Version+1); !store.IsConflict(err) {
		t.Fatalf("DeleteMeeting(stale): want conflict got=%v", err)
	}
	if err := s.DeleteMeeting(ctx, rec.ID, cur.Version); err != nil {
		t.Fatalf("DeleteMeeting: %v", err)
	}
	got, err := s.GetMeeting(ctx, rec.PersonalityKey, rec.ConcernCategory)
	if err != nil || got != nil {
		t.Fatalf("after delete: want=nil got=%v err=%v", got, err)
	}
	// the pair is free again
	again := NewMeeting(rec.PersonalityKey, rec.ConcernCategory, domain.MeetingPending)
	if created, err := s.CreateMeeting(ctx, again); err != nil || !created {
		t.Fatalf("CreateMeeting(after delete): want=true got=%v err=%v", created, err)
	}
}

func testMeetingConcurrentIncrement(t *testing.T, s store.TransactionalStore) {
	ctx := context.Background()
	rec := NewMeeting("O5_C5_E5_A5_N5_other", "career", domain.MeetingReady)
	if _, err := s.CreateMeeting(ctx, rec); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementMeetingUsage(ctx, rec.ID, time.Now().UTC()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("IncrementMeetingUsage: %v", err)
	}
	cur, _ := s.GetMeetingByID(ctx, rec.ID)
	if cur.UsageCount != n {
		t.Fatalf("usage: want=%d got=%d", n, cur.UsageCount)
	}
}

func testListMeetingKeys(t *testing.T, s store.TransactionalStore) {
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		rec := NewMeeting(fmt.Sprintf("O%d_C3_E3_A3_N3_female", i), "career", domain.MeetingReady)
		if _, err := s.CreateMeeting(ctx, rec); err != nil {
			t.Fatalf("CreateMeeting: %v", err)
		}
	}
	if _, err := s.CreateMeeting(ctx, NewMeeting("O4_C3_E3_A3_N3_female", "career", domain.MeetingPending)); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	if _, err := s.CreateMeeting(ctx, NewMeeting("O5_C3_E3_A3_N3_female", "health", domain.MeetingReady)); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	keys, err := s.ListMeetingKeys(ctx, "career", 0)
	if err != nil {
		t.Fatalf("ListMeetingKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("keys: want=3 got=%d (%v)", len(keys), keys)
	}
	keys, _ = s.ListMeetingKeys(ctx, "career", 2)
	if len(keys) != 2 {
		t.Fatalf("keys(limit=2): want=2 got=%d", len(keys))
	}
}

func testProfiles(t *testing.T, s store.TransactionalStore) {
	ctx := context.Background()
	key, err := s.GetProfileKey(ctx, "u1")
	if err != nil || key != "" {
		t.Fatalf("GetProfileKey(absent): want=\"\" got=%q err=%v", key, err)
	}
	if err := s.PutProfileKey(ctx, "u1", "O4_C2_E5_A3_N2_female"); err != nil {
		t.Fatalf("PutProfileKey: %v", err)
	}
	if err := s.PutProfileKey(ctx, "u1", "O4_C2_E4_A3_N2_female"); err != nil {
		t.Fatalf("PutProfileKey(overwrite): %v", err)
	}
	key, _ = s.GetProfileKey(ctx, "u1")
	if key != "O4_C2_E4_A3_N2_female" {
		t.Fatalf("GetProfileKey: want=O4_C2_E4_A3_N2_female got=%q", key)
	}
}
