package oaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/yungbote/persona-council/internal/llm"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func newEngine(t *testing.T, rt roundTripperFunc) *Engine {
	t.Helper()
	e, err := NewWithHTTPClient(Config{BaseURL: "http://upstream", APIKey: "k", Timeout: 2 * time.Second}, &http.Client{Transport: rt})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func respond(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(bytes.NewReader([]byte(body)))}
}

func TestCompleteSuccess(t *testing.T) {
	e := newEngine(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer k" {
			t.Fatalf("authorization: want=Bearer k got=%q", got)
		}
		var in chatCompletionRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			t.Fatalf("decode req: %v", err)
		}
		if in.Model != "gpt-x" || in.MaxTokens != 512 || len(in.Messages) != 2 {
			t.Fatalf("unexpected request: %+v", in)
		}
		return respond(200, `{"choices":[{"message":{"content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":11,"completion_tokens":7}}`, nil), nil
	})
	out, err := e.Complete(context.Background(), llm.Request{
		Model:     "gpt-x",
		MaxTokens: 512,
		Messages: []llm.Message{
			{Role: "system", Content: "sys"},
			{Role: "user", Content: "hi"},
			{Role: "user", Content: "  "},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Text != `{"ok":true}` || out.Usage.InputTokens != 11 || out.Usage.OutputTokens != 7 {
		t.Fatalf("unexpected completion: %+v", out)
	}
}

func TestCompleteErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		header http.Header
		want   llm.ErrorClass
	}{
		{"rate limit", 429, `{"error":{"code":"rate_limit_exceeded"}}`, http.Header{"Retry-After": []string{"3"}}, llm.ClassRateLimit},
		{"quota", 429, `{"error":{"code":"insufficient_quota","type":"insufficient_quota"}}`, nil, llm.ClassQuotaExceeded},
		{"context", 400, `{"error":{"code":"context_length_exceeded"}}`, nil, llm.ClassContextTooLong},
		{"not found", 404, `{"error":{"code":"model_not_found"}}`, nil, llm.ClassModelUnavailable},
		{"overloaded", 503, `{"error":{"type":"overloaded_error"}}`, nil, llm.ClassModelUnavailable},
		{"server", 502, `bad gateway`, nil, llm.ClassServerError},
		{"auth", 401, `{"error":{"code":"invalid_api_key"}}`, nil, llm.ClassUnclassified},
		{"truncated body", 429, `{"error":{"code":"insufficient_quota"`, nil, llm.ClassQuotaExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, func(*http.Request) (*http.Response, error) {
				return respond(tc.status, tc.body, tc.header), nil
			})
			_, err := e.Complete(context.Background(), llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "x"}}})
			if got := llm.Classify(err); got != tc.want {
				t.Fatalf("class: want=%s got=%s (err=%v)", tc.want, got, err)
			}
		})
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	e := newEngine(t, func(*http.Request) (*http.Response, error) {
		return respond(429, `{}`, http.Header{"Retry-After": []string{"2"}}), nil
	})
	_, err := e.Complete(context.Background(), llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if got := llm.RetryAfterHint(err); got != 2*time.Second {
		t.Fatalf("retry after: want=2s got=%v", got)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	e := newEngine(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := e.Complete(context.Background(), llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "x"}}})
	var ne *llm.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("want NetworkError got=%v", err)
	}
}

func TestCanceledContextPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := newEngine(t, func(*http.Request) (*http.Response, error) {
		cancel()
		return nil, context.Canceled
	})
	_, err := e.Complete(ctx, llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled got=%v", err)
	}
}

func TestEmptyCompletionIsInvalidOutput(t *testing.T) {
	e := newEngine(t, func(*http.Request) (*http.Response, error) {
		return respond(200, `{"choices":[{"message":{"content":"  "}}]}`, nil), nil
	})
	_, err := e.Complete(context.Background(), llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "x"}}})
	var inv *llm.InvalidOutputError
	if !errors.As(err, &inv) {
		t.Fatalf("want InvalidOutputError got=%v", err)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("want error without base url")
	}
}
