// Package memstore is a single-process TransactionalStore. Its mutex is the
// native atomicity primitive, so it is only suitable for tests and local runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/store"
)

type Store struct {
	mu       sync.Mutex
	usage    map[string]*domain.UsageRecord
	meetings map[string]*domain.MeetingRecord
	pairs    map[string]string
	profiles map[string]string
}

var _ store.TransactionalStore = (*Store)(nil)

func New() *Store {
	return &Store{
		usage:    map[string]*domain.UsageRecord{},
		meetings: map[string]*domain.MeetingRecord{},
		pairs:    map[string]string{},
		profiles: map[string]string{},
	}
}

func pairKey(personalityKey, category string) string {
	return personalityKey + "\x00" + category
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// ---------------- usage ----------------

func (s *Store) GetUsage(_ context.Context, userID string) (*domain.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.usage[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) CreateUsage(_ context.Context, rec *domain.UsageRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usage[rec.UserID]; ok {
		return false, nil
	}
	cp := *rec
	s.usage[rec.UserID] = &cp
	return true, nil
}

func (s *Store) UpdateUsage(_ context.Context, rec *domain.UsageRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.usage[rec.UserID]
	if !ok || cur.Version != expectedVersion {
		return store.Conflict("usage.update", rec.UserID)
	}
	rec.Version = expectedVersion + 1
	cp := *rec
	// cumulative totals belong to IncrementUsageTotals; keep whatever is stored.
	cp.TotalTokens = cur.TotalTokens
	cp.TotalCostMicros = cur.TotalCostMicros
	s.usage[rec.UserID] = &cp
	rec.TotalTokens, rec.TotalCostMicros = cur.TotalTokens, cur.TotalCostMicros
	return nil
}

func (s *Store) IncrementUsageTotals(_ context.Context, userID string, tokens, costMicros int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.usage[userID]
	if !ok {
		return store.ErrNotFound
	}
	cur.TotalTokens += tokens
	cur.TotalCostMicros += costMicros
	return nil
}

// ---------------- meetings ----------------

func (s *Store) GetMeeting(_ context.Context, personalityKey, category string) (*domain.MeetingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pairs[pairKey(personalityKey, category)]
	if !ok {
		return nil, nil
	}
	return cloneMeeting(s.meetings[id]), nil
}

func (s *Store) GetMeetingByID(_ context.Context, id string) (*domain.MeetingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.meetings[id]
	if !ok {
		return nil, nil
	}
	return cloneMeeting(rec), nil
}

func (s *Store) CreateMeeting(_ context.Context, rec *domain.MeetingRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := pairKey(rec.PersonalityKey, rec.ConcernCategory)
	if _, taken := s.pairs[pk]; taken {
		return false, nil
	}
	if _, taken := s.meetings[rec.ID]; taken {
		return false, nil
	}
	s.meetings[rec.ID] = cloneMeeting(rec)
	s.pairs[pk] = rec.ID
	return true, nil
}

func (s *Store) UpdateMeeting(_ context.Context, rec *domain.MeetingRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.meetings[rec.ID]
	if !ok || cur.Version != expectedVersion {
		return store.Conflict("meeting.update", rec.ID)
	}
	rec.Version = expectedVersion + 1
	next := cloneMeeting(rec)
	// usage is only ever changed through IncrementMeetingUsage or by the caller
	// explicitly raising it; never lowered.
	if next.UsageCount < cur.UsageCount {
		next.UsageCount = cur.UsageCount
		rec.UsageCount = cur.UsageCount
	}
	s.meetings[rec.ID] = next
	return nil
}

func (s *Store) DeleteMeeting(_ context.Context, id string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.meetings[id]
	if !ok || cur.Version != expectedVersion {
		return store.Conflict("meeting.delete", id)
	}
	delete(s.meetings, id)
	delete(s.pairs, pairKey(cur.PersonalityKey, cur.ConcernCategory))
	return nil
}

func (s *Store) IncrementMeetingUsage(_ context.Context, id string, at time.Time) (*domain.MeetingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.meetings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cur.UsageCount++
	cur.LastUsedAt = at
	return cloneMeeting(cur), nil
}

func (s *Store) ListMeetingKeys(_ context.Context, category string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []*domain.MeetingRecord
	for _, m := range s.meetings {
		if m.ConcernCategory == category && m.Status == domain.MeetingReady {
			recs = append(recs, m)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]string, 0, len(recs))
	for _, m := range recs {
		out = append(out, m.PersonalityKey)
	}
	return out, nil
}

// ---------------- profiles ----------------

func (s *Store) GetProfileKey(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userID], nil
}

func (s *Store) PutProfileKey(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = key
	return nil
}

func cloneMeeting(m *domain.MeetingRecord) *domain.MeetingRecord {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Conversation = append([]domain.Round(nil), m.Conversation...)
	cp.Conclusion.Recommendations = append([]string(nil), m.Conclusion.Recommendations...)
	cp.Conclusion.NextSteps = append([]string(nil), m.Conclusion.NextSteps...)
	if m.LeaseExpiresAt != nil {
		t := *m.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	return &cp
}
