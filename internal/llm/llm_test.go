package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestClassifyTypedErrors(t *testing.T) {
	base := errors.New("upstream")
	cases := []struct {
		err  error
		want ErrorClass
	}{
		{&RateLimitError{Model: "m", Err: base}, ClassRateLimit},
		{&QuotaExceededError{Model: "m", Err: base}, ClassQuotaExceeded},
		{&ContextTooLongError{Model: "m", InputTokens: 10, MaxTokens: 5}, ClassContextTooLong},
		{&ModelUnavailableError{Model: "m", Err: base}, ClassModelUnavailable},
		{&ServerError{Model: "m", StatusCode: 502, Err: base}, ClassServerError},
		{&NetworkError{Model: "m", Err: base}, ClassNetworkError},
		{&InvalidOutputError{Model: "m", Reason: "no json"}, ClassUnclassified},
		{fmt.Errorf("wrapped: %w", &QuotaExceededError{Model: "m", Err: base}), ClassQuotaExceeded},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v): want=%s got=%s", tc.err, tc.want, got)
		}
	}
}

func TestClassifyUntypedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorClass
	}{
		{errors.New("HTTP 429: too many requests"), ClassRateLimit},
		{errors.New("insufficient_quota for org"), ClassQuotaExceeded},
		{errors.New("context_length_exceeded"), ClassContextTooLong},
		{errors.New("model_not_found"), ClassModelUnavailable},
		{errors.New("bad gateway"), ClassServerError},
		{&net.OpError{Op: "dial", Err: errors.New("connection refused")}, ClassNetworkError},
		{context.DeadlineExceeded, ClassNetworkError},
		{errors.New("something odd"), ClassUnclassified},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v): want=%s got=%s", tc.err, tc.want, got)
		}
	}
	if Classify(nil) != "" {
		t.Fatalf("Classify(nil): want empty")
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("call: %w", &RateLimitError{Model: "m", RetryAfter: 2 * time.Second})
	if got := RetryAfterHint(err); got != 2*time.Second {
		t.Fatalf("RetryAfterHint: want=2s got=%v", got)
	}
	if got := RetryAfterHint(errors.New("x")); got != 0 {
		t.Fatalf("RetryAfterHint(untyped): want=0 got=%v", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("empty: want=0 got=%d", got)
	}
	if got := EstimateTokens("hi"); got != 1 {
		t.Fatalf("short: want=1 got=%d", got)
	}
	if got := EstimateTokens("a b c d e"); got != 5 {
		t.Fatalf("words: want=5 got=%d", got)
	}
	msgs := []Message{{Role: "system", Content: "a b"}, {Role: "user", Content: "c"}}
	if got := CountMessages(EstimateTokens, msgs); got != 2+4+1+4 {
		t.Fatalf("CountMessages: want=11 got=%d", got)
	}
}

func TestCountTokensDoesNotWaitForEncoding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	WarmTokenizer(ctx)
	if got := CountTokens("hello council"); got <= 0 {
		t.Fatalf("CountTokens: want>0 got=%d", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("counting blocked on the encoding for %v", elapsed)
	}
}
