package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// outcome is what a finished call reports to the breaker.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeIgnored is used for caller cancellations.
	outcomeIgnored
)

const breakerBuckets = 10

type bucket struct {
	start     time.Time
	successes int
	failures  int
}

// breaker is a Closed/Open/HalfOpen state machine over a rolling window of
// outcomes. All fields are guarded by mu.
type breaker struct {
	name   string
	spec   BreakerSpec
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	openedAt time.Time
	trial    bool
	lastErr  error
	window   []bucket
}

func newBreaker(name string, spec BreakerSpec, now func() time.Time, logger *slog.Logger) *breaker {
	return &breaker{
		name:   name,
		spec:   spec,
		now:    now,
		logger: logger,
	}
}

// allow reports whether a call may proceed. trial is true when the call is
// the single half-open probe and must be reported back with trial set.
func (b *breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.state == StateOpen {
		elapsed := now.Sub(b.openedAt)
		if elapsed < b.spec.BreakDuration {
			return false, b.openError(b.spec.BreakDuration - elapsed)
		}
		b.state = StateHalfOpen
		b.trial = false
		b.logger.Info("circuit breaker half-opened", slog.String("pipeline", b.name))
	}

	if b.state == StateHalfOpen {
		if b.trial {
			return false, b.openError(0)
		}
		b.trial = true
		return true, nil
	}

	return false, nil
}

func (b *breaker) openError(retryAfter time.Duration) *CircuitOpenError {
	return &CircuitOpenError{Pipeline: b.name, RetryAfter: retryAfter, Last: b.lastErr}
}

// record reports the outcome of a call admitted by allow.
func (b *breaker) record(trial bool, o outcome, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if trial {
		b.trial = false
		switch o {
		case outcomeSuccess:
			b.state = StateClosed
			b.window = b.window[:0]
			b.logger.Info("circuit breaker closed", slog.String("pipeline", b.name))
		case outcomeFailure:
			b.lastErr = err
			b.trip(now)
		}
		return
	}

	// Calls admitted while closed may finish after the circuit moved on.
	if b.state != StateClosed || o == outcomeIgnored {
		return
	}

	cur := b.current(now)
	if o == outcomeFailure {
		cur.failures++
		b.lastErr = err
	} else {
		cur.successes++
	}

	if o != outcomeFailure {
		return
	}

	var total, failures int
	for _, bk := range b.window {
		total += bk.successes + bk.failures
		failures += bk.failures
	}
	if total >= b.spec.MinimumThroughput && float64(failures)/float64(total) >= b.spec.FailureRatio {
		b.trip(now)
	}
}

func (b *breaker) trip(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.window = b.window[:0]
	b.logger.Error("circuit breaker opened",
		slog.String("pipeline", b.name),
		slog.Duration("break_duration", b.spec.BreakDuration),
	)
}

// current prunes buckets older than the sampling window and returns the
// bucket for now, appending a new one when the newest has aged out.
func (b *breaker) current(now time.Time) *bucket {
	cutoff := now.Add(-b.spec.SamplingWindow)
	keep := b.window[:0]
	for _, bk := range b.window {
		if bk.start.After(cutoff) {
			keep = append(keep, bk)
		}
	}
	b.window = keep

	size := b.spec.SamplingWindow / breakerBuckets
	if n := len(b.window); n == 0 || now.Sub(b.window[n-1].start) >= size {
		b.window = append(b.window, bucket{start: now})
	}
	return &b.window[len(b.window)-1]
}

func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.spec.BreakDuration {
		return StateHalfOpen
	}
	return b.state
}
