// Package meeting decides whether a generated council dialogue can be served
// again for a (personality key, concern category) pair.
//
// A miss claims the pair by conditionally creating a pending record that
// carries a lease. Only the lease holder generates; everyone else waits for the
// record to turn ready and then counts as a reuse. A failed generation is
// published as a failed record, so the callers that waited on it share the
// failure and the pair stays closed until its backoff passes. Because the claim is a store
// level conditional create, the at-most-one-generation property holds across
// processes, not just goroutines.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/personality"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store"
)

type Config struct {
	LeaseTTL            time.Duration
	PollInterval        time.Duration
	FailureBackoff      time.Duration
	SimilarityThreshold float64
	ScanLimit           int
	ConflictRetries     int
}

func DefaultConfig() Config {
	return Config{
		LeaseTTL:            90 * time.Second,
		PollInterval:        100 * time.Millisecond,
		FailureBackoff:      10 * time.Second,
		SimilarityThreshold: 0.8,
		ScanLimit:           500,
		ConflictRetries:     store.DefaultConflictRetries,
	}
}

// GenerateFunc produces a new dialogue for the six variants of the key.
type GenerateFunc func(ctx context.Context, variants []personality.Variant, concern string) (*domain.MeetingResult, error)

// Outcome labels for Observer.ObserveLookup.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeWait     = "wait"
	OutcomeTakeover = "takeover"
	OutcomeLost     = "lost"
	OutcomeFailed   = "failed"
	OutcomeShared   = "shared_failure"
)

// GenerationFailedError is returned to callers that find the pair's last
// generation failed and its backoff still running.
type GenerationFailedError struct {
	MeetingID  string
	RetryAfter time.Time
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("meeting: generation failed for meeting %s, retry after %s", e.MeetingID, e.RetryAfter.Format(time.RFC3339))
}

func IsGenerationFailed(err error) bool {
	var gf *GenerationFailedError
	return errors.As(err, &gf)
}

type Observer interface {
	ObserveLookup(outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveLookup(string) {}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(c *Cache) {
		if obs != nil {
			c.obs = obs
		}
	}
}

func WithConflictObserver(fn store.ConflictObserver) Option {
	return func(c *Cache) { c.onConflict = fn }
}

type Cache struct {
	st         store.MeetingStore
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
	obs        Observer
	onConflict store.ConflictObserver
	waits      singleflight.Group
}

func New(st store.MeetingStore, cfg Config, log *logger.Logger, opts ...Option) (*Cache, error) {
	if st == nil {
		return nil, errors.New("meeting: store required")
	}
	def := DefaultConfig()
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = def.ScanLimit
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = def.ConflictRetries
	}
	c := &Cache{
		st:  st,
		cfg: cfg,
		log: log.Component("MeetingReuseCache"),
		now: time.Now,
		obs: noopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetOrCreate returns the ready meeting for the pair, generating it at most
// once. The bool is true when an existing meeting was reused.
func (c *Cache) GetOrCreate(ctx context.Context, personalityKey, category, concern string, generate GenerateFunc) (*domain.MeetingRecord, bool, error) {
	profile, err := personality.DecodeProfile(personalityKey)
	if err != nil {
		c.log.Error("malformed personality key", "personality_key", personalityKey, "error", err)
		return nil, false, err
	}
	if category == "" {
		return nil, false, errors.New("meeting: concern category required")
	}

	conflicts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		rec, err := c.st.GetMeeting(ctx, personalityKey, category)
		if err != nil {
			return nil, false, fmt.Errorf("get meeting: %w", err)
		}

		var owned *domain.MeetingRecord
		switch {
		case rec == nil:
			owned, err = c.claim(ctx, personalityKey, category)
		case rec.Ready():
			hit, err := c.reuse(ctx, rec)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, false, err
			}
			return hit, true, nil
		case rec.Failed() && !rec.RetryAllowed(c.now()):
			c.obs.ObserveLookup(OutcomeShared)
			retryAfter := c.now()
			if rec.LeaseExpiresAt != nil {
				retryAfter = *rec.LeaseExpiresAt
			}
			return nil, false, &GenerationFailedError{MeetingID: rec.ID, RetryAfter: retryAfter}
		case rec.Failed(), rec.LeaseExpired(c.now()):
			owned, err = c.takeover(ctx, rec)
		default:
			c.obs.ObserveLookup(OutcomeWait)
			if err := c.wait(ctx, personalityKey, category); err != nil {
				return nil, false, err
			}
			continue
		}

		if err != nil {
			if !store.IsConflict(err) {
				return nil, false, err
			}
			if err := c.conflict(ctx, "meeting.claim", &conflicts); err != nil {
				return nil, false, err
			}
			continue
		}
		if owned == nil {
			// lost the create race; the winner's record is visible on the next read
			continue
		}

		done, err := c.generate(ctx, owned, profile, concern, generate)
		if store.IsConflict(err) {
			c.obs.ObserveLookup(OutcomeLost)
			c.log.Warn("lease lost during generation, reusing winner", "meeting_id", owned.ID, "personality_key", personalityKey, "concern_category", category)
			if err := c.conflict(ctx, "meeting.complete", &conflicts); err != nil {
				return nil, false, err
			}
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return done, false, nil
	}
}

func (c *Cache) conflict(ctx context.Context, op string, n *int) error {
	*n++
	if c.onConflict != nil {
		c.onConflict(op)
	}
	if *n >= c.cfg.ConflictRetries {
		return fmt.Errorf("%s: gave up after %d conflicts", op, *n)
	}
	return ctx.Err()
}

func (c *Cache) reuse(ctx context.Context, rec *domain.MeetingRecord) (*domain.MeetingRecord, error) {
	out, err := c.st.IncrementMeetingUsage(ctx, rec.ID, c.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("increment meeting usage: %w", err)
	}
	c.obs.ObserveLookup(OutcomeHit)
	c.log.Debug("meeting reused", "meeting_id", out.ID, "concern_category", out.ConcernCategory, "usage_count", out.UsageCount)
	return out, nil
}

// claim creates a pending record. A nil record with nil error means another
// caller created the pair first.
func (c *Cache) claim(ctx context.Context, personalityKey, category string) (*domain.MeetingRecord, error) {
	now := c.now().UTC()
	expires := now.Add(c.cfg.LeaseTTL)
	rec := &domain.MeetingRecord{
		ID:              uuid.New().String(),
		PersonalityKey:  personalityKey,
		ConcernCategory: category,
		Status:          domain.MeetingPending,
		LeaseToken:      uuid.New().String(),
		LeaseExpiresAt:  &expires,
		Version:         1,
		CreatedAt:       now,
		LastUsedAt:      now,
	}
	created, err := c.st.CreateMeeting(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}
	if !created {
		return nil, nil
	}
	c.obs.ObserveLookup(OutcomeMiss)
	return rec, nil
}

func (c *Cache) takeover(ctx context.Context, rec *domain.MeetingRecord) (*domain.MeetingRecord, error) {
	expires := c.now().UTC().Add(c.cfg.LeaseTTL)
	prevToken := rec.LeaseToken
	prevStatus := rec.Status
	rec.Status = domain.MeetingPending
	rec.LeaseToken = uuid.New().String()
	rec.LeaseExpiresAt = &expires
	if err := c.st.UpdateMeeting(ctx, rec, rec.Version); err != nil {
		return nil, err
	}
	c.obs.ObserveLookup(OutcomeTakeover)
	if prevStatus == domain.MeetingFailed {
		c.log.Info("reclaimed failed meeting", "meeting_id", rec.ID, "concern_category", rec.ConcernCategory)
	} else {
		c.log.Warn("took over expired meeting lease", "meeting_id", rec.ID, "previous_lease", prevToken)
	}
	return rec, nil
}

// generate runs the generator for an owned pending record and publishes the
// result. A conflict means the lease was taken over meanwhile.
func (c *Cache) generate(ctx context.Context, rec *domain.MeetingRecord, profile personality.Profile, concern string, generate GenerateFunc) (*domain.MeetingRecord, error) {
	res, err := generate(ctx, personality.Derive(profile), concern)
	if err == nil && res == nil {
		err = errors.New("generator returned no result")
	}
	if err != nil {
		c.obs.ObserveLookup(OutcomeFailed)
		if ctx.Err() != nil {
			// the caller gave up; nothing is known about the providers
			c.release(rec)
		} else {
			c.fail(rec)
		}
		return nil, err
	}

	similar, err := c.similarUsers(ctx, profile, rec.ConcernCategory)
	if err != nil {
		// informational only
		c.log.Warn("similar user scan failed", "concern_category", rec.ConcernCategory, "error", err)
	}

	now := c.now().UTC()
	rec.Status = domain.MeetingReady
	rec.Conversation = res.Conversation
	rec.Conclusion = res.Conclusion
	rec.ModelUsed = res.ModelUsed
	rec.SimilarUserCount = similar
	rec.UsageCount = 1
	rec.LastUsedAt = now
	rec.LeaseToken = ""
	rec.LeaseExpiresAt = nil
	if err := c.st.UpdateMeeting(context.WithoutCancel(ctx), rec, rec.Version); err != nil {
		if store.IsConflict(err) {
			return nil, err
		}
		c.release(rec)
		return nil, fmt.Errorf("publish meeting: %w", err)
	}
	c.log.Debug("meeting generated", "meeting_id", rec.ID, "concern_category", rec.ConcernCategory, "model", rec.ModelUsed, "similar_users", similar)
	return rec, nil
}

// release drops an owned pending record so the next caller can claim the pair.
// It runs detached from the request context so a canceled caller still frees
// the slot.
func (c *Cache) release(rec *domain.MeetingRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.st.DeleteMeeting(ctx, rec.ID, rec.Version); err != nil && !store.IsConflict(err) {
		c.log.Warn("meeting lease release failed", "meeting_id", rec.ID, "error", err)
	}
}

// fail publishes the generation failure on an owned record. Waiters wake on
// it and share the failure instead of generating again.
func (c *Cache) fail(rec *domain.MeetingRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	retryAfter := c.now().UTC().Add(c.cfg.FailureBackoff)
	rec.Status = domain.MeetingFailed
	rec.LeaseToken = ""
	rec.LeaseExpiresAt = &retryAfter
	err := c.st.UpdateMeeting(ctx, rec, rec.Version)
	switch {
	case err == nil:
		c.log.Warn("meeting generation failed", "meeting_id", rec.ID, "concern_category", rec.ConcernCategory, "retry_after", retryAfter)
	case store.IsConflict(err):
		// lease was taken over; the new holder owns the outcome
	default:
		c.log.Warn("publishing meeting failure failed", "meeting_id", rec.ID, "error", err)
		c.release(rec)
	}
}

// wait blocks until the pair is no longer a live pending record. Waiters on
// the same pair share one poll loop.
func (c *Cache) wait(ctx context.Context, personalityKey, category string) error {
	key := personalityKey + "|" + category
	ch := c.waits.DoChan(key, func() (any, error) {
		pollCtx, cancel := context.WithTimeout(context.Background(), c.cfg.LeaseTTL+c.cfg.PollInterval)
		defer cancel()
		t := time.NewTicker(c.cfg.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return nil, nil
			case <-t.C:
			}
			rec, err := c.st.GetMeeting(pollCtx, personalityKey, category)
			if err != nil {
				return nil, err
			}
			if rec == nil || rec.Ready() || rec.Failed() || rec.LeaseExpired(c.now()) {
				return nil, nil
			}
		}
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return fmt.Errorf("wait for meeting: %w", r.Err)
		}
		return nil
	}
}

// similarUsers counts other personality keys in the category whose similarity
// to profile meets the configured threshold.
func (c *Cache) similarUsers(ctx context.Context, profile personality.Profile, category string) (int, error) {
	keys, err := c.st.ListMeetingKeys(ctx, category, c.cfg.ScanLimit)
	if err != nil {
		return 0, err
	}
	self := profile.Key()
	n := 0
	for _, k := range keys {
		if k == self {
			continue
		}
		traits, _, err := personality.Decode(k)
		if err != nil {
			continue
		}
		if personality.SimilarityScore(profile.Traits, traits) >= c.cfg.SimilarityThreshold {
			n++
		}
	}
	return n, nil
}

// Lookup returns a stored meeting by id without counting a reuse.
func (c *Cache) Lookup(ctx context.Context, id string) (*domain.MeetingRecord, error) {
	rec, err := c.st.GetMeetingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	if rec == nil || !rec.Ready() {
		return nil, store.ErrNotFound
	}
	return rec, nil
}
