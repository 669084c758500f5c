// Package retry runs one logical model call across a fallback chain. Each
// failure is classified and moves a small state machine: retry the same model
// after a delay, fall back to the next model, or stop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/routing"
)

const (
	DefaultMaxRetries   = 3
	defaultBaseDelay    = 500 * time.Millisecond
	defaultMaxDelay     = 8 * time.Second
	defaultShortDelay   = 250 * time.Millisecond
	defaultJitterFactor = 0.2
)

type Policy struct {
	// MaxRetries is the number of calls made against one model, including the first.
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	ServerErrorDelay  time.Duration
	NetworkErrorDelay time.Duration
	// Jitter spreads rate-limit backoff by ±20%.
	Jitter bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        DefaultMaxRetries,
		BaseDelay:         defaultBaseDelay,
		MaxDelay:          defaultMaxDelay,
		ServerErrorDelay:  defaultShortDelay,
		NetworkErrorDelay: defaultShortDelay,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.ServerErrorDelay <= 0 {
		p.ServerErrorDelay = def.ServerErrorDelay
	}
	if p.NetworkErrorDelay <= 0 {
		p.NetworkErrorDelay = def.NetworkErrorDelay
	}
	return p
}

// Backoff is BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// Step is the state machine's transition out of one attempt.
type Step int

const (
	StepSuccess Step = iota
	StepRetry
	StepFallback
	StepExhausted
)

func (s Step) String() string {
	switch s {
	case StepSuccess:
		return "success"
	case StepRetry:
		return "retry"
	case StepFallback:
		return "fallback"
	case StepExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Attempt records one call, or one skipped model when N is 0.
type Attempt struct {
	Model    string
	N        int
	Class    llm.ErrorClass
	Step     Step
	Delay    time.Duration
	Duration time.Duration
	Err      error
}

// AllModelsExhaustedError is the terminal failure: no model in the chain
// produced a usable result.
type AllModelsExhaustedError struct {
	Last     error
	Attempts []Attempt
}

func (e *AllModelsExhaustedError) Error() string {
	models := make([]string, 0, len(e.Attempts))
	seen := map[string]bool{}
	for _, a := range e.Attempts {
		if !seen[a.Model] {
			seen[a.Model] = true
			models = append(models, a.Model)
		}
	}
	return fmt.Sprintf("all models exhausted [%s]: %v", strings.Join(models, ","), e.Last)
}

func (e *AllModelsExhaustedError) Unwrap() error { return e.Last }

func IsAllModelsExhausted(err error) bool {
	var x *AllModelsExhaustedError
	return errors.As(err, &x)
}

// ErrBudgetExceeded reports that the next delay would overrun the caller's
// deadline. It wraps context.DeadlineExceeded.
var ErrBudgetExceeded = fmt.Errorf("retry delay exceeds remaining deadline: %w", context.DeadlineExceeded)

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Observer receives per-attempt events for metrics.
type Observer interface {
	ObserveAttempt(model string, class llm.ErrorClass, step Step, dur time.Duration)
	IncFallback(fromModel string, class llm.ErrorClass)
}

type noopObserver struct{}

func (noopObserver) ObserveAttempt(string, llm.ErrorClass, Step, time.Duration) {}
func (noopObserver) IncFallback(string, llm.ErrorClass)                         {}

// RequestBuilder produces the request for one model of the chain.
type RequestBuilder func(model routing.ModelProfile) llm.Request

// Validator rejects completions whose content is unusable. Its error is
// classified like any provider error.
type Validator func(model string, c *llm.Completion) error

type Result struct {
	Completion   *llm.Completion
	ModelUsed    string
	FallbackUsed bool
	Attempts     []Attempt
}

type Option func(*Orchestrator)

func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleeper = s
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.obs = obs
		}
	}
}

// WithRand fixes the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) { o.rnd = r }
}

type Orchestrator struct {
	provider llm.Provider
	policy   Policy
	sleeper  Sleeper
	obs      Observer
	rnd      *rand.Rand
	log      *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func New(provider llm.Provider, policy Policy, log *logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		policy:   policy.withDefaults(),
		sleeper:  timerSleeper{},
		obs:      noopObserver{},
		log:      log.Component("RetryOrchestrator"),
		tracer:   otel.Tracer("persona-council/retry"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Policy() Policy { return o.policy }

// decide maps a classified failure on attempt n to the next step.
func (o *Orchestrator) decide(class llm.ErrorClass, n int, err error) (Step, time.Duration) {
	switch class {
	case llm.ClassRateLimit:
		if n >= o.policy.MaxRetries {
			return StepFallback, 0
		}
		d := o.jitter(o.policy.Backoff(n))
		if hint := llm.RetryAfterHint(err); hint > 0 {
			if hint > o.policy.MaxDelay {
				return StepFallback, 0
			}
			d = max(d, hint)
		}
		return StepRetry, d
	case llm.ClassServerError:
		if n >= o.policy.MaxRetries {
			return StepFallback, 0
		}
		return StepRetry, o.policy.ServerErrorDelay
	case llm.ClassNetworkError:
		if n >= o.policy.MaxRetries {
			return StepExhausted, 0
		}
		return StepRetry, o.policy.NetworkErrorDelay
	default:
		// quota, context length, unavailable model and anything unclassified
		return StepFallback, 0
	}
}

func (o *Orchestrator) jitter(d time.Duration) time.Duration {
	if !o.policy.Jitter || d <= 0 {
		return d
	}
	f := rand.Float64
	if o.rnd != nil {
		f = o.rnd.Float64
	}
	spread := float64(d) * defaultJitterFactor
	return time.Duration(float64(d) - spread + f()*2*spread)
}

// fitsDeadline reports whether sleeping d leaves the caller's deadline intact.
func (o *Orchestrator) fitsDeadline(ctx context.Context, d time.Duration) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return o.now().Add(d).Before(deadline)
}

// Execute runs the chain in order until one model returns a completion that
// passes validate. Models whose context window cannot hold the estimated
// input are skipped without a call.
func (o *Orchestrator) Execute(ctx context.Context, chain []routing.ModelProfile, build RequestBuilder, validate Validator) (*Result, error) {
	if len(chain) == 0 {
		return nil, &AllModelsExhaustedError{Last: errors.New("empty model chain")}
	}
	ctx, span := o.tracer.Start(ctx, "retry.Execute", trace.WithAttributes(
		attribute.Int("retry.chain_length", len(chain)),
		attribute.String("retry.primary_model", chain[0].ID),
	))
	defer span.End()

	res, err := o.run(ctx, chain, build, validate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("retry.model_used", res.ModelUsed),
		attribute.Bool("retry.fallback_used", res.FallbackUsed),
		attribute.Int("retry.attempts", len(res.Attempts)),
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, chain []routing.ModelProfile, build RequestBuilder, validate Validator) (*Result, error) {
	var (
		attempts []Attempt
		lastErr  error
	)
	span := trace.SpanFromContext(ctx)

	for mi, model := range chain {
		req := build(model)
		req.Model = model.ID

		if model.MaxContextTokens > 0 && req.EstimatedInputTokens > model.MaxContextTokens {
			lastErr = &llm.ContextTooLongError{Model: model.ID, InputTokens: req.EstimatedInputTokens, MaxTokens: model.MaxContextTokens}
			attempts = append(attempts, Attempt{Model: model.ID, Class: llm.ClassContextTooLong, Step: StepFallback, Err: lastErr})
			o.obs.IncFallback(model.ID, llm.ClassContextTooLong)
			o.log.Warn("model skipped, prompt exceeds context window", "model", model.ID, "input_tokens", req.EstimatedInputTokens, "max_context", model.MaxContextTokens)
			continue
		}

	attemptLoop:
		for n := 1; ; n++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			start := o.now()
			comp, err := o.provider.Complete(ctx, req)
			if err == nil && validate != nil {
				err = validate(model.ID, comp)
			}
			dur := o.now().Sub(start)
			if err == nil {
				attempts = append(attempts, Attempt{Model: model.ID, N: n, Step: StepSuccess, Duration: dur})
				o.obs.ObserveAttempt(model.ID, "", StepSuccess, dur)
				if mi > 0 {
					o.log.Info("fallback model succeeded", "model", model.ID, "primary", chain[0].ID)
				}
				return &Result{Completion: comp, ModelUsed: model.ID, FallbackUsed: mi > 0, Attempts: attempts}, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				// the caller stopped waiting; whatever came back is discarded
				return nil, ctxErr
			}

			class := llm.Classify(err)
			step, delay := o.decide(class, n, err)
			attempts = append(attempts, Attempt{Model: model.ID, N: n, Class: class, Step: step, Delay: delay, Duration: dur, Err: err})
			o.obs.ObserveAttempt(model.ID, class, step, dur)
			span.AddEvent("attempt", trace.WithAttributes(
				attribute.String("model", model.ID),
				attribute.Int("n", n),
				attribute.String("class", string(class)),
				attribute.String("step", step.String()),
			))
			lastErr = err

			switch step {
			case StepRetry:
				if !o.fitsDeadline(ctx, delay) {
					return nil, ErrBudgetExceeded
				}
				o.log.Warn("model call failed, retrying", "model", model.ID, "attempt", n, "class", class, "delay", delay)
				if err := o.sleeper.Sleep(ctx, delay); err != nil {
					return nil, err
				}
			case StepFallback:
				o.obs.IncFallback(model.ID, class)
				o.log.Warn("model call failed, falling back", "model", model.ID, "attempt", n, "class", class, "error", err)
				break attemptLoop
			case StepExhausted:
				o.log.Warn("model call failed, not falling back", "model", model.ID, "attempt", n, "class", class, "error", err)
				return nil, &AllModelsExhaustedError{Last: lastErr, Attempts: attempts}
			}
		}
	}
	return nil, &AllModelsExhaustedError{Last: lastErr, Attempts: attempts}
}
