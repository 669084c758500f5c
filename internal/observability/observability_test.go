package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/retry"
	"github.com/yungbote/persona-council/internal/store"
)

var _ store.Hooks = (*Metrics)(nil)
var _ retry.Observer = (*Metrics)(nil)

func TestMetricsRecordEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.IncConflict("usage.update")
	m.IncConflict("usage.update")
	m.ObserveAttempt("mid-model", llm.ClassRateLimit, retry.StepRetry, 20*time.Millisecond)
	m.IncFallback("mid-model", llm.ClassQuotaExceeded)
	m.ObserveLookup("hit")
	m.ObserveDialogue("miss", time.Second)
	m.ObserveTokens("mid-model", 1200)
	m.ObserveHTTP("POST", "/v1/dialogues", 200, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.storeConflict.WithLabelValues("usage.update")); got != 2 {
		t.Fatalf("conflicts: want=2 got=%v", got)
	}
	if got := testutil.ToFloat64(m.llmAttempts.WithLabelValues("mid-model", "rate_limit", "retry")); got != 1 {
		t.Fatalf("attempts: want=1 got=%v", got)
	}
	if got := testutil.ToFloat64(m.llmFallbacks.WithLabelValues("mid-model", "quota_exceeded")); got != 1 {
		t.Fatalf("fallbacks: want=1 got=%v", got)
	}
	if got := testutil.ToFloat64(m.llmTokens.WithLabelValues("mid-model")); got != 1200 {
		t.Fatalf("tokens: want=1200 got=%v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/v1/dialogues", "200")); got != 1 {
		t.Fatalf("http requests: want=1 got=%v", got)
	}
}

func TestMustNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNewMetrics(reg)
	b := MustNewMetrics(reg)
	a.ObserveLookup("miss")
	if got := testutil.ToFloat64(b.meetingLookup.WithLabelValues("miss")); got != 1 {
		t.Fatalf("second instance should share collectors, got=%v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncConflict("x")
	m.ObserveAttempt("m", "", retry.StepSuccess, time.Millisecond)
	m.ObserveHTTP("GET", "", 200, time.Millisecond)
}

func TestInitOTelDisabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	shutdown := InitOTel(context.Background(), logger.Nop(), OtelConfig{})
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestParseHeaders(t *testing.T) {
	h := parseHeaders(" a=1, b = 2 ,broken, =x")
	if len(h) != 2 || h["a"] != "1" || h["b"] != "2" {
		t.Fatalf("headers: got=%v", h)
	}
	if parseHeaders("") != nil {
		t.Fatalf("empty headers should be nil")
	}
}

func TestSampleRatioClamped(t *testing.T) {
	t.Setenv("OTEL_SAMPLER_RATIO", "3")
	if got := sampleRatio(); got != 1 {
		t.Fatalf("ratio: want=1 got=%v", got)
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "nope")
	if got := sampleRatio(); got != 0.1 {
		t.Fatalf("ratio: want=0.1 got=%v", got)
	}
}
