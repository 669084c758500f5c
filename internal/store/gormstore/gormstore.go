// Package gormstore is the relational TransactionalStore backed by gorm. It
// runs on Postgres in production and on SQLite for local runs and tests.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/platform/dbctx"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store"
)

type Config struct {
	Driver       string // postgres | sqlite
	DSN          string
	MaxOpenConns int
	SlowQuery    time.Duration
	AutoMigrate  bool
}

// Open connects to the configured database.
func Open(cfg Config) (*gorm.DB, error) {
	slow := cfg.SlowQuery
	if slow <= 0 {
		slow = time.Second
	}
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres", "postgresql", "pg":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("gormstore: unsupported driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

type Store struct {
	db    *gorm.DB
	tx    TxRunner
	cas   casGuard
	hooks store.Hooks
	log   *logger.Logger
}

var _ store.TransactionalStore = (*Store)(nil)

func New(db *gorm.DB, log *logger.Logger, hooks store.Hooks) *Store {
	if hooks == nil {
		hooks = store.NoopHooks()
	}
	return &Store{
		db:    db,
		tx:    NewTxRunner(db),
		cas:   casGuard{db: db},
		hooks: hooks,
		log:   log.Component("gormstore"),
	}
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) observe(op string, start time.Time, err error) {
	s.hooks.ObserveOperation(op, store.Status(err), time.Since(start))
	if store.IsConflict(err) {
		s.hooks.IncConflict(op)
	}
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---------------- usage ----------------

func (s *Store) GetUsage(ctx context.Context, userID string) (rec *domain.UsageRecord, err error) {
	defer func(start time.Time) { s.observe("usage.get", start, err) }(time.Now())
	var row UsageRow
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, MapError("usage.get", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return usageFromRow(&row), nil
}

func (s *Store) CreateUsage(ctx context.Context, rec *domain.UsageRecord) (created bool, err error) {
	defer func(start time.Time) { s.observe("usage.create", start, err) }(time.Now())
	row := usageToRow(rec)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return false, MapError("usage.create", rec.UserID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateUsage(ctx context.Context, rec *domain.UsageRecord, expectedVersion int64) (err error) {
	defer func(start time.Time) { s.observe("usage.update", start, err) }(time.Now())
	err = s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		ok, err := s.cas.updateByVersion(dbc, &UsageRow{}, "user_id", rec.UserID, expectedVersion, map[string]any{
			"day":               rec.Day,
			"chat_count_today":  rec.ChatCountToday,
			"total_chats":       rec.TotalChats,
			"ad_earned_credits": rec.AdEarnedCredits,
			"tier":              string(rec.Tier),
			"tier_expires_at":   rec.TierExpiresAt,
			"updated_at":        rec.UpdatedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			return store.Conflict("usage.update", rec.UserID)
		}
		var row UsageRow
		if err := dbc.Tx.Select("total_tokens", "total_cost_micros").
			Where("user_id = ?", rec.UserID).Take(&row).Error; err != nil {
			return err
		}
		rec.TotalTokens, rec.TotalCostMicros = row.TotalTokens, row.TotalCostMicros
		return nil
	})
	if err != nil {
		return MapError("usage.update", rec.UserID, err)
	}
	rec.Version = expectedVersion + 1
	return nil
}

func (s *Store) IncrementUsageTotals(ctx context.Context, userID string, tokens, costMicros int64) (err error) {
	defer func(start time.Time) { s.observe("usage.increment_totals", start, err) }(time.Now())
	res := s.db.WithContext(ctx).Model(&UsageRow{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"total_tokens":      gorm.Expr("total_tokens + ?", tokens),
			"total_cost_micros": gorm.Expr("total_cost_micros + ?", costMicros),
		})
	if res.Error != nil {
		return MapError("usage.increment_totals", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---------------- meetings ----------------

func (s *Store) GetMeeting(ctx context.Context, personalityKey, category string) (rec *domain.MeetingRecord, err error) {
	defer func(start time.Time) { s.observe("meeting.get", start, err) }(time.Now())
	return s.findMeeting(ctx, "meeting.get", "personality_key = ? AND concern_category = ?", personalityKey, category)
}

func (s *Store) GetMeetingByID(ctx context.Context, id string) (rec *domain.MeetingRecord, err error) {
	defer func(start time.Time) { s.observe("meeting.get_by_id", start, err) }(time.Now())
	return s.findMeeting(ctx, "meeting.get_by_id", "id = ?", id)
}

func (s *Store) findMeeting(ctx context.Context, op, where string, args ...any) (*domain.MeetingRecord, error) {
	var row MeetingRow
	res := s.db.WithContext(ctx).Where(where, args...).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, MapError(op, fmt.Sprint(args...), res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return meetingFromRow(&row)
}

func (s *Store) CreateMeeting(ctx context.Context, rec *domain.MeetingRecord) (created bool, err error) {
	defer func(start time.Time) { s.observe("meeting.create", start, err) }(time.Now())
	row, err := meetingToRow(rec)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, MapError("meeting.create", rec.PersonalityKey, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateMeeting(ctx context.Context, rec *domain.MeetingRecord, expectedVersion int64) (err error) {
	defer func(start time.Time) { s.observe("meeting.update", start, err) }(time.Now())
	row, err := meetingToRow(rec)
	if err != nil {
		return err
	}
	err = s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		ok, err := s.cas.updateByVersion(dbc, &MeetingRow{}, "id", rec.ID, expectedVersion, map[string]any{
			"status":             row.Status,
			"conversation":       row.Conversation,
			"conclusion":         row.Conclusion,
			"similar_user_count": row.SimilarUserCount,
			"usage_count":        gorm.Expr("CASE WHEN usage_count > ? THEN usage_count ELSE ? END", row.UsageCount, row.UsageCount),
			"model_used":         row.ModelUsed,
			"lease_token":        row.LeaseToken,
			"lease_expires_at":   row.LeaseExpiresAt,
			"last_used_at":       row.LastUsedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			return store.Conflict("meeting.update", rec.ID)
		}
		var cur MeetingRow
		if err := dbc.Tx.Select("usage_count").Where("id = ?", rec.ID).Take(&cur).Error; err != nil {
			return err
		}
		rec.UsageCount = cur.UsageCount
		return nil
	})
	if err != nil {
		return MapError("meeting.update", rec.ID, err)
	}
	rec.Version = expectedVersion + 1
	return nil
}

func (s *Store) DeleteMeeting(ctx context.Context, id string, expectedVersion int64) (err error) {
	defer func(start time.Time) { s.observe("meeting.delete", start, err) }(time.Now())
	ok, err := s.cas.deleteByVersion(dbctx.Context{Ctx: ctx}, &MeetingRow{}, "id", id, expectedVersion)
	if err != nil {
		return MapError("meeting.delete", id, err)
	}
	if !ok {
		return store.Conflict("meeting.delete", id)
	}
	return nil
}

func (s *Store) IncrementMeetingUsage(ctx context.Context, id string, at time.Time) (rec *domain.MeetingRecord, err error) {
	defer func(start time.Time) { s.observe("meeting.increment_usage", start, err) }(time.Now())
	err = s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		res := dbc.Tx.Model(&MeetingRow{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"usage_count":  gorm.Expr("usage_count + 1"),
				"last_used_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		var row MeetingRow
		if err := dbc.Tx.Where("id = ?", id).Take(&row).Error; err != nil {
			return err
		}
		out, err := meetingFromRow(&row)
		rec = out
		return err
	})
	if err != nil {
		return nil, MapError("meeting.increment_usage", id, err)
	}
	return rec, nil
}

func (s *Store) ListMeetingKeys(ctx context.Context, category string, limit int) (keys []string, err error) {
	defer func(start time.Time) { s.observe("meeting.list_keys", start, err) }(time.Now())
	q := s.db.WithContext(ctx).Model(&MeetingRow{}).
		Where("concern_category = ? AND status = ?", category, string(domain.MeetingReady)).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("personality_key", &keys).Error; err != nil {
		return nil, MapError("meeting.list_keys", category, err)
	}
	return keys, nil
}

// ---------------- profiles ----------------

func (s *Store) GetProfileKey(ctx context.Context, userID string) (key string, err error) {
	defer func(start time.Time) { s.observe("profile.get", start, err) }(time.Now())
	var row ProfileRow
	err = s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", MapError("profile.get", userID, err)
	}
	return row.PersonalityKey, nil
}

func (s *Store) PutProfileKey(ctx context.Context, userID, key string) (err error) {
	defer func(start time.Time) { s.observe("profile.put", start, err) }(time.Now())
	row := &ProfileRow{UserID: userID, PersonalityKey: key, UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"personality_key", "updated_at"}),
	}).Create(row).Error
	return MapError("profile.put", userID, err)
}

// ---------------- mapping ----------------

func usageToRow(rec *domain.UsageRecord) *UsageRow {
	return &UsageRow{
		UserID:          rec.UserID,
		Day:             rec.Day,
		ChatCountToday:  rec.ChatCountToday,
		TotalChats:      rec.TotalChats,
		AdEarnedCredits: rec.AdEarnedCredits,
		TotalTokens:     rec.TotalTokens,
		TotalCostMicros: rec.TotalCostMicros,
		Tier:            string(rec.Tier),
		TierExpiresAt:   rec.TierExpiresAt,
		Version:         rec.Version,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func usageFromRow(row *UsageRow) *domain.UsageRecord {
	return &domain.UsageRecord{
		UserID:          row.UserID,
		Day:             row.Day,
		ChatCountToday:  row.ChatCountToday,
		TotalChats:      row.TotalChats,
		AdEarnedCredits: row.AdEarnedCredits,
		TotalTokens:     row.TotalTokens,
		TotalCostMicros: row.TotalCostMicros,
		Tier:            domain.ParseTier(row.Tier),
		TierExpiresAt:   row.TierExpiresAt,
		Version:         row.Version,
		UpdatedAt:       row.UpdatedAt,
	}
}

func meetingToRow(rec *domain.MeetingRecord) (*MeetingRow, error) {
	conv, err := json.Marshal(rec.Conversation)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}
	concl, err := json.Marshal(rec.Conclusion)
	if err != nil {
		return nil, fmt.Errorf("marshal conclusion: %w", err)
	}
	return &MeetingRow{
		ID:               rec.ID,
		PersonalityKey:   rec.PersonalityKey,
		ConcernCategory:  rec.ConcernCategory,
		Status:           string(rec.Status),
		Conversation:     datatypes.JSON(conv),
		Conclusion:       datatypes.JSON(concl),
		SimilarUserCount: rec.SimilarUserCount,
		UsageCount:       rec.UsageCount,
		ModelUsed:        rec.ModelUsed,
		LeaseToken:       rec.LeaseToken,
		LeaseExpiresAt:   rec.LeaseExpiresAt,
		Version:          rec.Version,
		LastUsedAt:       rec.LastUsedAt,
		CreatedAt:        rec.CreatedAt,
	}, nil
}

func meetingFromRow(row *MeetingRow) (*domain.MeetingRecord, error) {
	rec := &domain.MeetingRecord{
		ID:               row.ID,
		PersonalityKey:   row.PersonalityKey,
		ConcernCategory:  row.ConcernCategory,
		Status:           domain.MeetingStatus(row.Status),
		SimilarUserCount: row.SimilarUserCount,
		UsageCount:       row.UsageCount,
		ModelUsed:        row.ModelUsed,
		LeaseToken:       row.LeaseToken,
		LeaseExpiresAt:   row.LeaseExpiresAt,
		Version:          row.Version,
		LastUsedAt:       row.LastUsedAt,
		CreatedAt:        row.CreatedAt,
	}
	if len(row.Conversation) > 0 {
		if err := json.Unmarshal(row.Conversation, &rec.Conversation); err != nil {
			return nil, fmt.Errorf("decode conversation %s: %w", row.ID, err)
		}
	}
	if len(row.Conclusion) > 0 {
		if err := json.Unmarshal(row.Conclusion, &rec.Conclusion); err != nil {
			return nil, fmt.Errorf("decode conclusion %s: %w", row.ID, err)
		}
	}
	return rec, nil
}
