package council

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrProfileNotFound = errors.New("council: user has no saved personality profile")
	ErrEmptyConcern    = errors.New("council: concern is required")
	ErrInvalidCategory = errors.New("council: concern category must be 1-64 characters of [a-z0-9_]")
)

// TimeoutError is returned when the request outlives its budget. The model
// call may still complete upstream; its result is discarded.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("council: request timed out after %s", e.After)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
