package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/persona-council/internal/platform/httpx"
)

// ErrorClass drives the retry/fallback decision for a failed call.
type ErrorClass string

const (
	ClassRateLimit        ErrorClass = "rate_limit"
	ClassQuotaExceeded    ErrorClass = "quota_exceeded"
	ClassContextTooLong   ErrorClass = "context_too_long"
	ClassModelUnavailable ErrorClass = "model_unavailable"
	ClassServerError      ErrorClass = "server_error"
	ClassNetworkError     ErrorClass = "network_error"
	ClassUnclassified     ErrorClass = "unclassified"
)

type RateLimitError struct {
	Model      string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("model %s rate limited: %v", e.Model, e.Err)
}
func (e *RateLimitError) Unwrap() error { return e.Err }

type QuotaExceededError struct {
	Model string
	Err   error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("model %s quota exceeded: %v", e.Model, e.Err)
}
func (e *QuotaExceededError) Unwrap() error { return e.Err }

type ContextTooLongError struct {
	Model       string
	InputTokens int
	MaxTokens   int
	Err         error
}

func (e *ContextTooLongError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model %s context too long: %d > %d tokens", e.Model, e.InputTokens, e.MaxTokens)
	}
	return fmt.Sprintf("model %s context too long: %v", e.Model, e.Err)
}
func (e *ContextTooLongError) Unwrap() error { return e.Err }

type ModelUnavailableError struct {
	Model string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.Model, e.Err)
}
func (e *ModelUnavailableError) Unwrap() error { return e.Err }

type ServerError struct {
	Model      string
	StatusCode int
	Err        error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("model %s server error (status=%d): %v", e.Model, e.StatusCode, e.Err)
}
func (e *ServerError) Unwrap() error { return e.Err }

type NetworkError struct {
	Model string
	Err   error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("model %s network error: %v", e.Model, e.Err)
}
func (e *NetworkError) Unwrap() error { return e.Err }

// InvalidOutputError is a completed call whose text could not be used.
type InvalidOutputError struct {
	Model  string
	Reason string
}

func (e *InvalidOutputError) Error() string {
	return fmt.Sprintf("model %s returned invalid output: %s", e.Model, e.Reason)
}

// Classify maps any provider failure onto an ErrorClass. Typed errors win;
// untyped ones fall back to transport checks and message matching.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var (
		rl  *RateLimitError
		qe  *QuotaExceededError
		ctl *ContextTooLongError
		mu  *ModelUnavailableError
		se  *ServerError
		ne  *NetworkError
		inv *InvalidOutputError
	)
	switch {
	case errors.As(err, &rl):
		return ClassRateLimit
	case errors.As(err, &qe):
		return ClassQuotaExceeded
	case errors.As(err, &ctl):
		return ClassContextTooLong
	case errors.As(err, &mu):
		return ClassModelUnavailable
	case errors.As(err, &se):
		return ClassServerError
	case errors.As(err, &ne):
		return ClassNetworkError
	case errors.As(err, &inv):
		return ClassUnclassified
	case errors.Is(err, context.DeadlineExceeded):
		// a per-call timeout; the caller checks its own deadline separately
		return ClassNetworkError
	case httpx.IsNetworkError(err):
		return ClassNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient_quota"), strings.Contains(msg, "quota"):
		return ClassQuotaExceeded
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return ClassRateLimit
	case strings.Contains(msg, "context_length_exceeded"), strings.Contains(msg, "context length"), strings.Contains(msg, "too many tokens"):
		return ClassContextTooLong
	case strings.Contains(msg, "model_not_found"), strings.Contains(msg, "model not found"), strings.Contains(msg, "overloaded"):
		return ClassModelUnavailable
	case strings.Contains(msg, "internal server error"), strings.Contains(msg, "bad gateway"), strings.Contains(msg, "gateway timeout"):
		return ClassServerError
	default:
		return ClassUnclassified
	}
}

// RetryAfterHint returns the provider's requested wait for a rate-limit error.
func RetryAfterHint(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
