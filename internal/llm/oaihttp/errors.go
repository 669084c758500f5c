package oaihttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/platform/httpx"
)

type HTTPError struct {
	StatusCode int
	Body       string
	Header     http.Header
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "upstream http error"
	}
	if e.Body == "" {
		return fmt.Sprintf("upstream http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("upstream http error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode upstream response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// upstreamErrorBody is the OpenAI error envelope.
type upstreamErrorBody struct {
	Error struct {
		Code    any    `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *HTTPError) codes() string {
	var body upstreamErrorBody
	if err := decodeLenient(e.Body, &body); err != nil {
		return strings.ToLower(e.Body)
	}
	return strings.ToLower(fmt.Sprintf("%v %s %s", body.Error.Code, body.Error.Type, body.Error.Message))
}

// mapError converts a failed round trip into a typed llm error. When the
// caller's own context is done its error is returned untouched.
func (e *Engine) mapError(ctx context.Context, model string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var de *decodeError
	if errors.As(err, &de) {
		return &llm.InvalidOutputError{Model: model, Reason: de.Error()}
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		return &llm.NetworkError{Model: model, Err: err}
	}
	codes := he.codes()
	switch {
	case he.StatusCode == http.StatusTooManyRequests && strings.Contains(codes, "insufficient_quota"):
		return &llm.QuotaExceededError{Model: model, Err: he}
	case he.StatusCode == http.StatusTooManyRequests:
		return &llm.RateLimitError{Model: model, RetryAfter: httpx.RetryAfter(he.Header), Err: he}
	case he.StatusCode == http.StatusPaymentRequired:
		return &llm.QuotaExceededError{Model: model, Err: he}
	case he.StatusCode == http.StatusRequestEntityTooLarge,
		he.StatusCode == http.StatusBadRequest && (strings.Contains(codes, "context_length_exceeded") || strings.Contains(codes, "maximum context length")):
		return &llm.ContextTooLongError{Model: model, Err: he}
	case he.StatusCode == http.StatusNotFound,
		strings.Contains(codes, "model_not_found"):
		return &llm.ModelUnavailableError{Model: model, Err: he}
	case he.StatusCode == http.StatusServiceUnavailable && strings.Contains(codes, "overloaded"):
		return &llm.ModelUnavailableError{Model: model, Err: he}
	case he.StatusCode >= 500:
		return &llm.ServerError{Model: model, StatusCode: he.StatusCode, Err: he}
	default:
		return he
	}
}
