package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

const tracerName = "github.com/willvelida/m365-sdk-proxy/internal/resilience"

// Pipeline executes operations under one Spec. A Pipeline is safe for
// concurrent use; its circuit breaker is shared by all callers.
type Pipeline struct {
	spec    Spec
	breaker *breaker
	logger  *slog.Logger
	tracer  trace.Tracer
	wait    func(context.Context, time.Duration) error
	jitter  func(time.Duration) time.Duration
}

// Option configures a Pipeline or Registry.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
	wait   func(context.Context, time.Duration) error
	jitter func(time.Duration) time.Duration
	tracer trace.Tracer
}

// WithLogger sets the logger for retry and breaker events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces the breaker clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithWait replaces the function used to sleep between retries.
func WithWait(wait func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.wait = wait }
}

// WithJitter replaces the jitter function applied to each delay.
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(o *options) { o.jitter = jitter }
}

// WithTracer sets the tracer used for attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		wait:   sleepContext,
		jitter: fullJitter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// New builds a pipeline from spec.
func New(spec Spec, opts ...Option) *Pipeline {
	o := buildOptions(opts)
	p := &Pipeline{
		spec:   spec,
		logger: o.logger,
		tracer: o.tracer,
		wait:   o.wait,
		jitter: o.jitter,
	}
	if spec.Breaker != nil {
		p.breaker = newBreaker(spec.Name, *spec.Breaker, o.now, o.logger)
	}
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.spec.Name
}

// Spec returns the pipeline configuration.
func (p *Pipeline) Spec() Spec {
	return p.spec
}

// State returns the circuit state, or StateClosed when the pipeline has no
// breaker.
func (p *Pipeline) State() BreakerState {
	if p.breaker == nil {
		return StateClosed
	}
	return p.breaker.currentState()
}

// HasBreaker reports whether the pipeline includes a circuit breaker.
func (p *Pipeline) HasBreaker() bool {
	return p.breaker != nil
}

// Execute runs op under the pipeline. Each attempt's context is cancelled
// when op returns.
func (p *Pipeline) Execute(ctx context.Context, op func(context.Context) error) error {
	release, err := p.Open(ctx, op)
	if release != nil {
		release()
	}
	return err
}

// Open runs op under the pipeline like Execute, but on success the attempt's
// context (and its timeout) stays live until release is called. Use it for
// operations whose result, such as a response body, outlives op.
func (p *Pipeline) Open(ctx context.Context, op func(context.Context) error) (release func(), err error) {
	maxAttempts := p.spec.Retry.MaxAttempts()

	for attempt := 1; ; attempt++ {
		rel, aerr := p.attempt(ctx, attempt, op)
		if aerr == nil {
			return rel, nil
		}

		if ctx.Err() != nil || attempt >= maxAttempts || !p.retryable(aerr) {
			return nil, &Failure{Pipeline: p.spec.Name, Attempts: attempt, Err: aerr}
		}

		delay := p.spec.Retry.Delay(attempt)
		if p.spec.Retry.Jitter {
			delay = p.jitter(delay)
		}

		p.logger.Warn("operation failed, retrying",
			slog.String("pipeline", p.spec.Name),
			slog.String("correlation_id", correlation.ID(ctx)),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", aerr.Error()),
		)

		if werr := p.wait(ctx, delay); werr != nil {
			return nil, &Failure{Pipeline: p.spec.Name, Attempts: attempt, Err: werr}
		}
	}
}

func (p *Pipeline) retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if p.spec.Retry.Retryable == nil {
		return false
	}
	return p.spec.Retry.Retryable(err)
}

func (p *Pipeline) attempt(ctx context.Context, n int, op func(context.Context) error) (func(), error) {
	var trial bool
	if p.breaker != nil {
		var err error
		trial, err = p.breaker.allow()
		if err != nil {
			return nil, err
		}
	}

	spanCtx, span := p.tracer.Start(ctx, "resilience."+p.spec.Name+".attempt",
		trace.WithAttributes(
			attribute.String("resilience.pipeline", p.spec.Name),
			attribute.Int("resilience.attempt", n),
		))
	defer span.End()

	actx, cancel := context.WithTimeout(spanCtx, p.spec.Timeout)

	// A trial that never reports back would hold the half-open slot forever.
	returned := false
	if trial {
		defer func() {
			if returned {
				return
			}
			cancel()
			r := recover()
			p.breaker.record(true, outcomeFailure, fmt.Errorf("%s pipeline operation panicked: %v", p.spec.Name, r))
			if r != nil {
				panic(r)
			}
		}()
	}

	err := op(actx)
	returned = true

	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = domain.NewTimeoutError(fmt.Sprintf("%s pipeline timed out after %s", p.spec.Name, p.spec.Timeout)).
			WithCorrelationID(correlation.ID(ctx)).
			WithCause(err)
	}

	if p.breaker != nil {
		p.breaker.record(trial, p.classify(ctx, err), err)
	}

	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return cancel, nil
}

func (p *Pipeline) classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case ctx.Err() != nil:
		return outcomeIgnored
	case p.spec.Breaker.Handles == nil || p.spec.Breaker.Handles(err):
		return outcomeFailure
	default:
		return outcomeSuccess
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}
