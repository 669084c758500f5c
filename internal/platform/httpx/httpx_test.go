package httpx

import (
	"errors"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := map[int]bool{200: false, 400: false, 404: false, 408: true, 429: true, 500: true, 503: true}
	for code, want := range cases {
		if got := IsRetryableHTTPStatus(code); got != want {
			t.Fatalf("status %d: want=%v got=%v", code, want, got)
		}
	}
}

func TestRetryAfterDurationCapsAtMax(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "30")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("capped retry-after: want=10s got=%s", got)
	}
	if got := RetryAfterDuration(nil, 2*time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("fallback: want=2s got=%s", got)
	}
}

func TestJitterSleepStaysWithinBand(t *testing.T) {
	base := time.Second
	for i := 0; i < 50; i++ {
		got := JitterSleep(base)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("jitter out of band: %s", got)
		}
	}
}

func TestIsNetworkError(t *testing.T) {
	if !IsNetworkError(&net.OpError{Op: "dial", Err: errors.New("connection refused")}) {
		t.Fatalf("dial error should be a network error")
	}
	if IsNetworkError(errors.New("bad request")) {
		t.Fatalf("plain error should not be a network error")
	}
}
