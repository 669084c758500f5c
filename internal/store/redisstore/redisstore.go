// Package redisstore is a TransactionalStore on Redis. Records are JSON
// documents; compare-and-set writes use WATCH/MULTI and counters live in
// hashes so increments never race with document rewrites.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store"
)

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type Store struct {
	rdb    *goredis.Client
	prefix string
	hooks  store.Hooks
	log    *logger.Logger
}

var _ store.TransactionalStore = (*Store)(nil)

// Open dials Redis and pings it before returning.
func Open(ctx context.Context, cfg Config, log *logger.Logger, hooks store.Hooks) (*Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, cfg.KeyPrefix, log, hooks), nil
}

func New(rdb *goredis.Client, prefix string, log *logger.Logger, hooks store.Hooks) *Store {
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "council"
	}
	if hooks == nil {
		hooks = store.NoopHooks()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{rdb: rdb, prefix: prefix, hooks: hooks, log: log.With("service", "RedisStore")}
}

func (s *Store) usageKey(userID string) string  { return s.prefix + ":usage:" + userID }
func (s *Store) totalsKey(userID string) string { return s.prefix + ":usage_totals:" + userID }
func (s *Store) meetingKey(id string) string     { return s.prefix + ":meeting:" + id }
func (s *Store) meetingUseKey(id string) string  { return s.prefix + ":meeting_usage:" + id }
func (s *Store) pairKey(personalityKey, category string) string {
	return s.prefix + ":meeting_pair:" + category + ":" + personalityKey
}
func (s *Store) readyKey(category string) string { return s.prefix + ":meetings_ready:" + category }
func (s *Store) profilesKey() string              { return s.prefix + ":profiles" }

func (s *Store) observe(op string, start time.Time, err error) {
	s.hooks.ObserveOperation(op, store.Status(err), time.Since(start))
	if store.IsConflict(err) {
		s.hooks.IncConflict(op)
	}
}

// mapTxErr turns a failed optimistic transaction into a conflict.
func mapTxErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, goredis.TxFailedErr) {
		return store.Conflict(op, key)
	}
	if store.IsConflict(err) || errors.Is(err, store.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
func (s *Store) Close() error                   { return s.rdb.Close() }

// ---------------- usage ----------------

func (s *Store) GetUsage(ctx context.Context, userID string) (rec *domain.UsageRecord, err error) {
	defer func(start time.Time) { s.observe("usage.get", start, err) }(time.Now())
	rec, err = getJSON[domain.UsageRecord](ctx, s.rdb, s.usageKey(userID))
	if err != nil || rec == nil {
		return nil, mapTxErr("usage.get", userID, err)
	}
	totals, err := s.rdb.HGetAll(ctx, s.totalsKey(userID)).Result()
	if err != nil {
		return nil, mapTxErr("usage.get", userID, err)
	}
	rec.TotalTokens = parseInt(totals["tokens"])
	rec.TotalCostMicros = parseInt(totals["cost_micros"])
	return rec, nil
}

func (s *Store) CreateUsage(ctx context.Context, rec *domain.UsageRecord) (created bool, err error) {
	defer func(start time.Time) { s.observe("usage.create", start, err) }(time.Now())
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	created, err = s.rdb.SetNX(ctx, s.usageKey(rec.UserID), raw, 0).Result()
	if err != nil {
		return false, mapTxErr("usage.create", rec.UserID, err)
	}
	if created && (rec.TotalTokens != 0 || rec.TotalCostMicros != 0) {
		err = s.rdb.HSet(ctx, s.totalsKey(rec.UserID), "tokens", rec.TotalTokens, "cost_micros", rec.TotalCostMicros).Err()
	}
	return created, mapTxErr("usage.create", rec.UserID, err)
}

func (s *Store) UpdateUsage(ctx context.Context, rec *domain.UsageRecord, expectedVersion int64) (err error) {
	defer func(start time.Time) { s.observe("usage.update", start, err) }(time.Now())
	key := s.usageKey(rec.UserID)
	next := *rec
	next.Version = expectedVersion + 1
	next.TotalTokens, next.TotalCostMicros = 0, 0
	raw, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	err = s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := getJSON[domain.UsageRecord](ctx, tx, key)
		if err != nil {
			return err
		}
		if cur == nil || cur.Version != expectedVersion {
			return store.Conflict("usage.update", rec.UserID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return mapTxErr("usage.update", rec.UserID, err)
	}
	rec.Version = expectedVersion + 1
	totals, err := s.rdb.HGetAll(ctx, s.totalsKey(rec.UserID)).Result()
	if err != nil {
		return mapTxErr("usage.update", rec.UserID, err)
	}
	rec.TotalTokens = parseInt(totals["tokens"])
	rec.TotalCostMicros = parseInt(totals["cost_micros"])
	return nil
}

// incrTotals adds to the totals hash only while the usage document exists.
var incrTotals = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HINCRBY", KEYS[2], "tokens", ARGV[1])
redis.call("HINCRBY", KEYS[2], "cost_micros", ARGV[2])
return 1
`)

func (s *Store) IncrementUsageTotals(ctx context.Context, userID string, tokens, costMicros int64) (err error) {
	defer func(start time.Time) { s.observe("usage.increment_totals", start, err) }(time.Now())
	ok, err := incrTotals.Run(ctx, s.rdb, []string{s.usageKey(userID), s.totalsKey(userID)}, tokens, costMicros).Int()
	if err != nil {
		return mapTxErr("usage.increment_totals", userID, err)
	}
	if ok == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---------------- meetings ----------------

func (s *Store) GetMeeting(ctx context.Context, personalityKey, category string) (rec *domain.MeetingRecord, err error) {
	defer func(start time.Time) { s.observe("meeting.get", start, err) }(time.Now())
	id, err := s.rdb.Get(ctx, s.pairKey(personalityKey, category)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, mapTxErr("meeting.get", personalityKey, err)
	}
	return s.loadMeeting(ctx, id)
}

func (s *Store) GetMeetingByID(ctx context.Context, id string) (rec *domain.MeetingRecord, err error) {
	defer func(start time.Time) { s.observe("meeting.get_by_id", start, err) }(time.Now())
	return s.loadMeeting(ctx, id)
}

func (s *Store) loadMeeting(ctx context.Context, id string) (*domain.MeetingRecord, error) {
	rec, err := getJSON[domain.MeetingRecord](ctx, s.rdb, s.meetingKey(id))
	if err != nil || rec == nil {
		return nil, mapTxErr("meeting.load", id, err)
	}
	use, err := s.rdb.HGetAll(ctx, s.meetingUseKey(id)).Result()
	if err != nil {
		return nil, mapTxErr("meeting.load", id, err)
	}
	applyUsage(rec, use)
	return rec, nil
}

func (s *Store) CreateMeeting(ctx context.Context, rec *domain.MeetingRecord) (created bool, err error) {
	defer func(start time.Time) { s.observe("meeting.create", start, err) }(time.Now())
	pair := s.pairKey(rec.PersonalityKey, rec.ConcernCategory)
	doc := s.meetingKey(rec.ID)
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	err = s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, pair, doc).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, doc, raw, 0)
			pipe.Set(ctx, pair, rec.ID, 0)
			pipe.HSet(ctx, s.meetingUseKey(rec.ID), "usage_count", rec.UsageCount, "last_used_at", rec.LastUsedAt.UnixNano())
			if rec.Ready() {
				pipe.ZAdd(ctx, s.readyKey(rec.ConcernCategory), goredis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.PersonalityKey})
			}
			return nil
		})
		if err == nil {
			created = true
		}
		return err
	}, pair, doc)
	if errors.Is(err, goredis.TxFailedErr) {
		// someone else claimed the pair between WATCH and EXEC
		return false, nil
	}
	if err != nil {
		return false, mapTxErr("meeting.create", rec.PersonalityKey, err)
	}
	return created, nil
}

func (s *Store) UpdateMeeting(ctx context.Context, rec *domain.MeetingRecord, expectedVersion int64) (err error) {
	defer func(start time.Time) { s.observe("meeting.update", start, err) }(time.Now())
	doc := s.meetingKey(rec.ID)
	useKey := s.meetingUseKey(rec.ID)
	next := *rec
	next.Version = expectedVersion + 1
	raw, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	var usage int64
	err = s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := getJSON[domain.MeetingRecord](ctx, tx, doc)
		if err != nil {
			return err
		}
		if cur == nil || cur.Version != expectedVersion {
			return store.Conflict("meeting.update", rec.ID)
		}
		stored, err := tx.HGet(ctx, useKey, "usage_count").Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		usage = max(stored, rec.UsageCount)
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, doc, raw, 0)
			pipe.HSet(ctx, useKey, "usage_count", usage, "last_used_at", rec.LastUsedAt.UnixNano())
			if rec.Ready() {
				pipe.ZAdd(ctx, s.readyKey(rec.ConcernCategory), goredis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.PersonalityKey})
			}
			return nil
		})
		return err
	}, doc, useKey)
	if err != nil {
		return mapTxErr("meeting.update", rec.ID, err)
	}
	rec.Version = expectedVersion + 1
	rec.UsageCount = usage
	return nil
}

func (s *Store) DeleteMeeting(ctx context.Context, id string, expectedVersion int64) (err error) {
	defer func(start time.Time) { s.observe("meeting.delete", start, err) }(time.Now())
	doc := s.meetingKey(id)
	err = s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := getJSON[domain.MeetingRecord](ctx, tx, doc)
		if err != nil {
			return err
		}
		if cur == nil || cur.Version != expectedVersion {
			return store.Conflict("meeting.delete", id)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, doc, s.meetingUseKey(id), s.pairKey(cur.PersonalityKey, cur.ConcernCategory))
			pipe.ZRem(ctx, s.readyKey(cur.ConcernCategory), cur.PersonalityKey)
			return nil
		})
		return err
	}, doc)
	return mapTxErr("meeting.delete", id, err)
}

var incrMeetingUsage = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
redis.call("HSET", KEYS[2], "last_used_at", ARGV[1])
return redis.call("HINCRBY", KEYS[2], "usage_count", 1)
`)

func (s *Store) IncrementMeetingUsage(ctx context.Context, id string, at time.Time) (rec *domain.MeetingRecord, err error) {
	defer func(start time.Time) { s.observe("meeting.increment_usage", start, err) }(time.Now())
	n, err := incrMeetingUsage.Run(ctx, s.rdb, []string{s.meetingKey(id), s.meetingUseKey(id)}, at.UnixNano()).Int64()
	if err != nil {
		return nil, mapTxErr("meeting.increment_usage", id, err)
	}
	if n < 0 {
		return nil, store.ErrNotFound
	}
	rec, err = getJSON[domain.MeetingRecord](ctx, s.rdb, s.meetingKey(id))
	if err != nil {
		return nil, mapTxErr("meeting.increment_usage", id, err)
	}
	if rec == nil {
		return nil, store.ErrNotFound
	}
	rec.UsageCount = n
	rec.LastUsedAt = at
	return rec, nil
}

func (s *Store) ListMeetingKeys(ctx context.Context, category string, limit int) (keys []string, err error) {
	defer func(start time.Time) { s.observe("meeting.list_keys", start, err) }(time.Now())
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	keys, err = s.rdb.ZRevRange(ctx, s.readyKey(category), 0, stop).Result()
	return keys, mapTxErr("meeting.list_keys", category, err)
}

// ---------------- profiles ----------------

func (s *Store) GetProfileKey(ctx context.Context, userID string) (key string, err error) {
	defer func(start time.Time) { s.observe("profile.get", start, err) }(time.Now())
	key, err = s.rdb.HGet(ctx, s.profilesKey(), userID).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return key, mapTxErr("profile.get", userID, err)
}

func (s *Store) PutProfileKey(ctx context.Context, userID, key string) (err error) {
	defer func(start time.Time) { s.observe("profile.put", start, err) }(time.Now())
	return mapTxErr("profile.put", userID, s.rdb.HSet(ctx, s.profilesKey(), userID, key).Err())
}

// ---------------- helpers ----------------

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func getJSON[T any](ctx context.Context, c getter, key string) (*T, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &out, nil
}

func applyUsage(rec *domain.MeetingRecord, use map[string]string) {
	if v, ok := use["usage_count"]; ok {
		rec.UsageCount = parseInt(v)
	}
	if v, ok := use["last_used_at"]; ok {
		if ns := parseInt(v); ns > 0 {
			rec.LastUsedAt = time.Unix(0, ns).UTC()
		}
	}
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}
