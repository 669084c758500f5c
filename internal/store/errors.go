package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrNotFound is returned by id-addressed operations on missing records.
var ErrNotFound = errors.New("store: record not found")

// TransactionConflictError reports a lost optimistic-concurrency race. Callers
// re-read and retry; it is never surfaced past the ledger or the cache.
type TransactionConflictError struct {
	Op  string
	Key string
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("store: transaction conflict op=%s key=%s", e.Op, e.Key)
}

func Conflict(op, key string) error {
	return &TransactionConflictError{Op: op, Key: key}
}

func IsConflict(err error) bool {
	var c *TransactionConflictError
	return errors.As(err, &c)
}

// ConflictObserver is notified on every retried conflict.
type ConflictObserver func(op string)

const (
	DefaultConflictRetries = 16
	conflictBaseDelay      = 2 * time.Millisecond
	conflictMaxDelay       = 50 * time.Millisecond
)

// RetryOnConflict runs fn until it succeeds, fails with a non-conflict error,
// exhausts attempts, or ctx ends. fn must re-read state on every call.
func RetryOnConflict(ctx context.Context, op string, attempts int, observe ConflictObserver, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultConflictRetries
	}
	delay := conflictBaseDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsConflict(err) {
			return err
		}
		if observe != nil {
			observe(op)
		}
		if i == attempts-1 {
			break
		}
		// randomized so contending writers spread out
		sleep := delay/2 + time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		if delay < conflictMaxDelay {
			delay *= 2
		}
	}
	return fmt.Errorf("%s: gave up after %d conflicts: %w", op, attempts, err)
}
