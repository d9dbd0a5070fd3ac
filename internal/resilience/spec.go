// Package resilience wraps outbound calls in named pipelines that combine a
// per-attempt timeout, an optional circuit breaker and a retry loop with
// backoff and jitter.
package resilience

import (
	"time"
)

// BackoffKind selects how the retry delay grows between attempts.
type BackoffKind int

const (
	// BackoffLinear waits base*n before retry n.
	BackoffLinear BackoffKind = iota
	// BackoffExponential waits base*2^(n-1) before retry n.
	BackoffExponential
)

func (b BackoffKind) String() string {
	if b == BackoffExponential {
		return "exponential"
	}
	return "linear"
}

// Predicate classifies an error.
type Predicate func(error) bool

// RetrySpec configures the retry layer.
type RetrySpec struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps every computed delay. Zero means no cap.
	MaxDelay time.Duration
	Backoff  BackoffKind
	// Jitter draws the actual delay uniformly from [0, delay].
	Jitter    bool
	Retryable Predicate
}

// MaxAttempts is the total number of invocations the retry layer allows.
func (r RetrySpec) MaxAttempts() int {
	return r.MaxRetries + 1
}

// Delay returns the un-jittered wait before retry n (1-based), capped at
// MaxDelay.
func (r RetrySpec) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	var d time.Duration
	switch r.Backoff {
	case BackoffExponential:
		shift := n - 1
		if shift > 30 {
			shift = 30
		}
		d = r.BaseDelay * time.Duration(1<<shift)
	default:
		d = r.BaseDelay * time.Duration(n)
	}
	if r.MaxDelay > 0 && (d > r.MaxDelay || d < 0) {
		d = r.MaxDelay
	}
	return d
}

// BreakerSpec configures the circuit breaker layer.
type BreakerSpec struct {
	// FailureRatio in (0, 1] opens the circuit once reached.
	FailureRatio      float64
	SamplingWindow    time.Duration
	MinimumThroughput int
	BreakDuration     time.Duration
	// Handles selects which failures count against the circuit. Other
	// outcomes count as successes.
	Handles Predicate
}

// Spec describes one named pipeline. It is treated as immutable once a
// pipeline is built from it.
type Spec struct {
	Name    string
	Retry   RetrySpec
	Breaker *BreakerSpec
	Timeout time.Duration
}
