// Package store defines the persistence contract shared by the usage ledger and
// the meeting reuse cache.
//
// Every mutation is a single backend-native atomic operation: a conditional
// create, a version compare-and-set, or an increment. Backends never rely on
// in-process locks for cross-request correctness, so several service instances
// may share one store.
package store

import (
	"context"
	"time"

	"github.com/yungbote/persona-council/internal/domain"
)

type UsageStore interface {
	// GetUsage returns nil, nil when the user has no record yet.
	GetUsage(ctx context.Context, userID string) (*domain.UsageRecord, error)
	// CreateUsage inserts rec unless a record for rec.UserID exists.
	CreateUsage(ctx context.Context, rec *domain.UsageRecord) (created bool, err error)
	// UpdateUsage replaces the record only if its stored version equals
	// expectedVersion, then sets rec.Version to expectedVersion+1. A version
	// mismatch returns *TransactionConflictError. The cumulative token and cost
	// totals are left untouched; rec receives the stored values.
	UpdateUsage(ctx context.Context, rec *domain.UsageRecord, expectedVersion int64) error
	// IncrementUsageTotals atomically adds to the cumulative token and cost
	// counters. A missing record returns ErrNotFound.
	IncrementUsageTotals(ctx context.Context, userID string, tokens, costMicros int64) error
}

type MeetingStore interface {
	// GetMeeting returns nil, nil when no record exists for the pair.
	GetMeeting(ctx context.Context, personalityKey, category string) (*domain.MeetingRecord, error)
	GetMeetingByID(ctx context.Context, id string) (*domain.MeetingRecord, error)
	// CreateMeeting inserts rec unless the (PersonalityKey, ConcernCategory)
	// pair is already taken.
	CreateMeeting(ctx context.Context, rec *domain.MeetingRecord) (created bool, err error)
	// UpdateMeeting is a version compare-and-set, see UpdateUsage. A lower
	// UsageCount than the stored one is ignored.
	UpdateMeeting(ctx context.Context, rec *domain.MeetingRecord, expectedVersion int64) error
	// DeleteMeeting removes a record only at expectedVersion.
	DeleteMeeting(ctx context.Context, id string, expectedVersion int64) error
	// IncrementMeetingUsage atomically bumps UsageCount and sets LastUsedAt.
	IncrementMeetingUsage(ctx context.Context, id string, at time.Time) (*domain.MeetingRecord, error)
	// ListMeetingKeys returns personality keys of ready meetings in category.
	ListMeetingKeys(ctx context.Context, category string, limit int) ([]string, error)
}

type ProfileStore interface {
	// GetProfileKey returns "" when the user has not saved a profile.
	GetProfileKey(ctx context.Context, userID string) (string, error)
	PutProfileKey(ctx context.Context, userID, key string) error
}

// TransactionalStore is the full backend surface.
type TransactionalStore interface {
	UsageStore
	MeetingStore
	ProfileStore
	Ping(ctx context.Context) error
	Close() error
}
