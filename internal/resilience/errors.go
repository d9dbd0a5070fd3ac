package resilience

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen matches failures caused by an open or busy circuit.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Failure is returned when a pipeline gives up. It wraps the last failure so
// errors.As still reaches the original classified error.
type Failure struct {
	Pipeline string
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s pipeline failed after %d attempt(s): %v", f.Pipeline, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// CircuitOpenError is returned without invoking the operation while the
// circuit is open, or while a half-open trial is already in flight.
type CircuitOpenError struct {
	Pipeline   string
	RetryAfter time.Duration
	// Last is the most recent failure the circuit recorded.
	Last error
}

func (e *CircuitOpenError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s: %s (retry after %s): %v", e.Pipeline, ErrCircuitOpen, e.RetryAfter, e.Last)
	}
	return fmt.Sprintf("%s: %s (retry after %s)", e.Pipeline, ErrCircuitOpen, e.RetryAfter)
}

func (e *CircuitOpenError) Unwrap() error {
	return e.Last
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// AttemptsOf returns the attempt count recorded on a pipeline failure, or 0.
func AttemptsOf(err error) int {
	var f *Failure
	if errors.As(err, &f) {
		return f.Attempts
	}
	return 0
}
