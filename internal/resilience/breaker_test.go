package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

func breakerPipeline(clock *fakeClock) *Pipeline {
	return New(Spec{
		Name: "backend",
		Breaker: &BreakerSpec{
			FailureRatio:      0.5,
			SamplingWindow:    10 * time.Second,
			MinimumThroughput: 4,
			BreakDuration:     5 * time.Second,
			Handles: func(err error) bool {
				return domain.IsKind(err, domain.KindBackendCommunication)
			},
		},
		Timeout: time.Minute,
	}, WithLogger(quietLogger()), WithClock(clock.Now))
}

func fail(p *Pipeline) error {
	return p.Execute(context.Background(), func(context.Context) error { return backendFailure(500) })
}

func succeed(p *Pipeline) error {
	return p.Execute(context.Background(), func(context.Context) error { return nil })
}

func TestBreaker_OpensAfterThresholdAndFailsFast(t *testing.T) {
	clock := newFakeClock()
	p := breakerPipeline(clock)

	for range 4 {
		require.Error(t, fail(p))
	}
	assert.Equal(t, StateOpen, p.State())

	var invoked atomic.Bool
	err := p.Execute(context.Background(), func(context.Context) error {
		invoked.Store(true)
		return nil
	})

	require.Error(t, err)
	assert.False(t, invoked.Load(), "operation must not run while open")
	assert.ErrorIs(t, err, ErrCircuitOpen)

	de, ok := domain.AsError(err)
	require.True(t, ok, "fail-fast surfaces the last recorded failure")
	assert.Equal(t, 500, de.StatusCode)
}

func TestBreaker_RespectsMinimumThroughput(t *testing.T) {
	clock := newFakeClock()
	p := breakerPipeline(clock)

	for range 3 {
		require.Error(t, fail(p))
	}
	assert.Equal(t, StateClosed, p.State())
}

func TestBreaker_RatioBelowThresholdStaysClosed(t *testing.T) {
	clock := newFakeClock()
	p := breakerPipeline(clock)

	require.NoError(t, succeed(p))
	require.NoError(t, succeed(p))
	require.NoError(t, succeed(p))
	require.Error(t, fail(p))
	assert.Equal(t, StateClosed, p.State(), "1 of 4 is below 50%")

	require.Error(t, fail(p))
	require.Error(t, fail(p))
	assert.Equal(t, StateOpen, p.State(), "3 of 6 reaches 50%")
}

func TestBreaker_OldOutcomesLeaveTheWindow(t *testing.T) {
	clock := newFakeClock()
	p := breakerPipeline(clock)

	for range 3 {
		require.Error(t, fail(p))
	}
	clock.Advance(11 * time.Second)
	require.Error(t, fail(p))

	assert.Equal(t, StateClosed, p.State())
}

func TestBreaker_IgnoresUnhandledFailures(t *testing.T) {
	clock := newFakeClock()
	p := breakerPipeline(clock)

	for range 6 {
		err := p.Execute(context.Background(), func(context.Context) error {
			return domain.NewValidationError("bad input")
		})
		require.Error(t, err)
	}
	assert.Equal(t, StateClosed, p.State())
}

func TestBreaker_HalfOpenAllowsExactlyOneTrial(t *testing.T) {
	clock := newFakeClock()
	p := breakerPipeline(clock)

	for range 4 {
		require.Error(t, fail(p))
	}
	clock.Advance(4 * time.Second)
	assert.ErrorIs(t, succeed(p), ErrCircuitOpen, "break duration has not elapsed")

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, p.State())

	entered := make(chan struct{})
	finish := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- p.Execute(context.Background(), func(context.Context) error {
			close(entered)
			<-finish
			return nil
		})
	}()
	<-entered

	var invoked atomic.Bool
	err := p.Execute(context.Background(), func(context.Context) error {
		invoked.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked.Load(), "second caller must not run during the trial")

	close(finish)
	require.NoError(t, <-trialDone)
	assert.Equal(t, StateClosed, p.State())
	assert.NoError(t, succeed(p))
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	p := breakerPipeline(clock)

	for range 4 {
		require.Error(t, fail(p))
	}
	clock.Advance(5 * time.Second)

	require.Error(t, fail(p))
	assert.Equal(t, StateOpen, p.State())
	assert.ErrorIs(t, succeed(p), ErrCircuitOpen)
}

func TestBreaker_CancelledTrialKeepsHalfOpen(t *testing.T) {
	clock := newFakeClock()
	p := breakerPipeline(clock)

	for range 4 {
		require.Error(t, fail(p))
	}
	clock.Advance(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	err := p.Execute(ctx, func(context.Context) error {
		cancel()
		return context.Canceled
	})
	require.Error(t, err)
	assert.Equal(t, StateHalfOpen, p.State())

	require.NoError(t, succeed(p))
	assert.Equal(t, StateClosed, p.State())
}

func TestBreaker_PanickingTrialReopens(t *testing.T) {
	clock := newFakeClock()
	p := breakerPipeline(clock)

	for range 4 {
		require.Error(t, fail(p))
	}
	clock.Advance(5 * time.Second)

	assert.PanicsWithValue(t, "boom", func() {
		_ = p.Execute(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, StateOpen, p.State(), "a panicking trial counts as a failed trial")
	assert.ErrorIs(t, succeed(p), ErrCircuitOpen)

	clock.Advance(5 * time.Second)
	require.NoError(t, succeed(p))
	assert.Equal(t, StateClosed, p.State())
}

func TestBreaker_ConcurrentOutcomes(t *testing.T) {
	clock := newFakeClock()
	p := New(Spec{
		Name: "backend",
		Breaker: &BreakerSpec{
			FailureRatio:      0.9,
			SamplingWindow:    time.Minute,
			MinimumThroughput: 1000,
			BreakDuration:     time.Second,
		},
		Timeout: time.Minute,
	}, WithLogger(quietLogger()), WithClock(clock.Now))

	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Execute(context.Background(), func(context.Context) error {
				if i%2 == 0 {
					return errors.New("fail")
				}
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, p.State())

	var total int
	p.breaker.mu.Lock()
	for _, b := range p.breaker.window {
		total += b.successes + b.failures
	}
	p.breaker.mu.Unlock()
	assert.Equal(t, 200, total, "every outcome is recorded exactly once")
}
