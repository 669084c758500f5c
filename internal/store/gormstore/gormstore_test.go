package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store"
	"github.com/yungbote/persona-council/internal/store/storetest"
)

var dbSeq atomic.Int64

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:gormstore_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := Open(Config{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TransactionalStore {
		return New(openSQLite(t), logger.Nop(), nil)
	})
}

func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres integration tests")
	}
	storetest.Run(t, func(t *testing.T) store.TransactionalStore {
		db, err := Open(Config{Driver: "postgres", DSN: dsn})
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		for _, table := range []string{"usage_records", "meeting_records", "user_profiles"} {
			if err := db.Exec("DELETE FROM " + table).Error; err != nil {
				t.Fatalf("clear %s: %v", table, err)
			}
		}
		return New(db, logger.Nop(), nil)
	})
}

type spyHooks struct {
	mu        sync.Mutex
	statuses  map[string]string
	conflicts []string
}

func (h *spyHooks) ObserveOperation(op, status string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.statuses == nil {
		h.statuses = map[string]string{}
	}
	h.statuses[op] = status
}

func (h *spyHooks) IncConflict(op string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflicts = append(h.conflicts, op)
}

func TestHooksSeeConflicts(t *testing.T) {
	hooks := &spyHooks{}
	s := New(openSQLite(t), logger.Nop(), hooks)
	ctx := context.Background()
	rec := storetest.NewMeeting("O2_C2_E2_A2_N2_female", "career", domain.MeetingPending)
	if _, err := s.CreateMeeting(ctx, rec); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	if err := s.UpdateMeeting(ctx, rec, 7); !store.IsConflict(err) {
		t.Fatalf("UpdateMeeting(stale): want conflict got=%v", err)
	}
	if len(hooks.conflicts) != 1 || hooks.conflicts[0] != "meeting.update" {
		t.Fatalf("conflicts: want=[meeting.update] got=%v", hooks.conflicts)
	}
	if hooks.statuses["meeting.create"] != "ok" {
		t.Fatalf("create status: want=ok got=%q", hooks.statuses["meeting.create"])
	}
}

func TestUpdateMeetingKeepsHigherUsage(t *testing.T) {
	s := New(openSQLite(t), logger.Nop(), nil)
	ctx := context.Background()
	rec := storetest.NewMeeting("O2_C2_E2_A2_N2_male", "career", domain.MeetingReady)
	if _, err := s.CreateMeeting(ctx, rec); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.IncrementMeetingUsage(ctx, rec.ID, time.Now().UTC()); err != nil {
			t.Fatalf("IncrementMeetingUsage: %v", err)
		}
	}
	rec.UsageCount = 1
	if err := s.UpdateMeeting(ctx, rec, rec.Version); err != nil {
		t.Fatalf("UpdateMeeting: %v", err)
	}
	if rec.UsageCount != 3 {
		t.Fatalf("usage: want=3 got=%d", rec.UsageCount)
	}
}

func TestMapError(t *testing.T) {
	if err := MapError("op", "k", gorm.ErrRecordNotFound); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("record not found: want ErrNotFound got=%v", err)
	}
	if err := MapError("op", "k", errors.New("UNIQUE constraint failed: meeting_records.id")); !store.IsConflict(err) {
		t.Fatalf("sqlite unique: want conflict got=%v", err)
	}
	if err := MapError("op", "k", errors.New("boom")); err == nil || store.IsConflict(err) {
		t.Fatalf("generic: want wrapped error got=%v", err)
	}
	if MapError("op", "k", nil) != nil {
		t.Fatalf("nil: want nil")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("want error for unsupported driver")
	}
}
