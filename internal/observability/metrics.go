package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/retry"
)

const namespace = "persona_council"

// Metrics holds every collector the service exports. It satisfies the
// observer hooks of the store backends, the retry orchestrator, the meeting
// cache and the council service. A nil *Metrics is a valid no-op.
type Metrics struct {
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	httpInflight  prometheus.Gauge
	storeOps      *prometheus.HistogramVec
	storeConflict *prometheus.CounterVec
	llmAttempts   *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
	llmFallbacks  *prometheus.CounterVec
	llmTokens     *prometheus.CounterVec
	meetingLookup *prometheus.CounterVec
	dialogues     *prometheus.CounterVec
	dialogueDur   *prometheus.HistogramVec
}

// MustNewMetrics registers the collectors on reg, reusing collectors that are
// already registered under the same name. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		httpRequests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"})),
		httpLatency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})),
		httpInflight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "Requests currently being served.",
		})),
		storeOps: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "operation_duration_seconds",
			Help: "Store operation latency by outcome.", Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op", "status"})),
		storeConflict: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "conflicts_total",
			Help: "Optimistic concurrency conflicts that were retried.",
		}, []string{"op"})),
		llmAttempts: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "attempts_total",
			Help: "Model call attempts by error class and resulting step.",
		}, []string{"model", "class", "step"})),
		llmLatency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "llm", Name: "attempt_duration_seconds",
			Help: "Model call latency.", Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"model"})),
		llmFallbacks: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "fallbacks_total",
			Help: "Fallbacks away from a model by error class.",
		}, []string{"from_model", "class"})),
		llmTokens: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "tokens_total",
			Help: "Tokens consumed by successful generations.",
		}, []string{"model"})),
		meetingLookup: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "meeting", Name: "lookups_total",
			Help: "Meeting cache lookups by outcome.",
		}, []string{"outcome"})),
		dialogues: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "council", Name: "dialogues_total",
			Help: "Dialogue requests by outcome.",
		}, []string{"outcome"})),
		dialogueDur: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "council", Name: "dialogue_duration_seconds",
			Help: "End-to-end dialogue latency.", Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// store.Hooks

func (m *Metrics) ObserveOperation(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op, status).Observe(dur.Seconds())
}

func (m *Metrics) IncConflict(op string) {
	if m == nil {
		return
	}
	m.storeConflict.WithLabelValues(op).Inc()
}

// retry.Observer

func (m *Metrics) ObserveAttempt(model string, class llm.ErrorClass, step retry.Step, dur time.Duration) {
	if m == nil {
		return
	}
	c := string(class)
	if c == "" {
		c = "none"
	}
	m.llmAttempts.WithLabelValues(model, c, step.String()).Inc()
	if dur > 0 {
		m.llmLatency.WithLabelValues(model).Observe(dur.Seconds())
	}
}

func (m *Metrics) IncFallback(fromModel string, class llm.ErrorClass) {
	if m == nil {
		return
	}
	m.llmFallbacks.WithLabelValues(fromModel, string(class)).Inc()
}

// meeting.Observer

func (m *Metrics) ObserveLookup(outcome string) {
	if m == nil {
		return
	}
	m.meetingLookup.WithLabelValues(outcome).Inc()
}

// council.Observer

func (m *Metrics) ObserveDialogue(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.dialogues.WithLabelValues(outcome).Inc()
	m.dialogueDur.WithLabelValues(outcome).Observe(dur.Seconds())
}

func (m *Metrics) ObserveTokens(model string, tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	m.llmTokens.WithLabelValues(model).Add(float64(tokens))
}

// HTTP

func (m *Metrics) IncInflight() {
	if m == nil {
		return
	}
	m.httpInflight.Inc()
}

func (m *Metrics) DecInflight() {
	if m == nil {
		return
	}
	m.httpInflight.Dec()
}

func (m *Metrics) ObserveHTTP(method, route string, code int, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}
