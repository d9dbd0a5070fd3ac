package resilience

import (
	"time"

	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

// Names of the built-in pipelines.
const (
	Authentication = "authentication"
	Backend        = "backend"
	Transport      = "transport"
)

// DefaultSpecs returns the built-in pipeline configurations.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Name: Authentication,
			Retry: RetrySpec{
				MaxRetries: 3,
				BaseDelay:  500 * time.Millisecond,
				MaxDelay:   5 * time.Second,
				Backoff:    BackoffExponential,
				Jitter:     true,
				Retryable:  AuthenticationRetryable,
			},
			Breaker: &BreakerSpec{
				FailureRatio:      0.5,
				SamplingWindow:    30 * time.Second,
				MinimumThroughput: 5,
				BreakDuration:     15 * time.Second,
				Handles: func(err error) bool {
					return domain.IsKind(err, domain.KindAuthentication)
				},
			},
			Timeout: 30 * time.Second,
		},
		{
			Name: Backend,
			Retry: RetrySpec{
				MaxRetries: 2,
				BaseDelay:  time.Second,
				MaxDelay:   10 * time.Second,
				Backoff:    BackoffExponential,
				Jitter:     true,
				Retryable:  BackendRetryable,
			},
			Breaker: &BreakerSpec{
				FailureRatio:      0.6,
				SamplingWindow:    60 * time.Second,
				MinimumThroughput: 3,
				BreakDuration:     30 * time.Second,
				Handles: func(err error) bool {
					return domain.IsKind(err, domain.KindBackendCommunication)
				},
			},
			Timeout: 45 * time.Second,
		},
		{
			Name: Transport,
			Retry: RetrySpec{
				MaxRetries: 3,
				BaseDelay:  200 * time.Millisecond,
				MaxDelay:   2 * time.Second,
				Backoff:    BackoffLinear,
				Jitter:     true,
				Retryable:  TransportRetryable,
			},
			Timeout: 10 * time.Second,
		},
	}
}

// Registry holds the named pipelines of one process.
type Registry struct {
	pipelines map[string]*Pipeline
	order     []string
}

// NewRegistry builds the default pipelines. Options apply to every pipeline.
func NewRegistry(opts ...Option) *Registry {
	return NewRegistryFromSpecs(DefaultSpecs(), opts...)
}

// NewRegistryFromSpecs builds a registry from explicit specs.
func NewRegistryFromSpecs(specs []Spec, opts ...Option) *Registry {
	r := &Registry{pipelines: make(map[string]*Pipeline, len(specs))}
	for _, spec := range specs {
		r.pipelines[spec.Name] = New(spec, opts...)
		r.order = append(r.order, spec.Name)
	}
	return r
}

// Get returns the pipeline with the given name.
func (r *Registry) Get(name string) (*Pipeline, bool) {
	p, ok := r.pipelines[name]
	return p, ok
}

// Authentication returns the pipeline guarding credential acquisition.
func (r *Registry) Authentication() *Pipeline { return r.pipelines[Authentication] }

// Backend returns the pipeline guarding backend conversation calls.
func (r *Registry) Backend() *Pipeline { return r.pipelines[Backend] }

// Transport returns the pipeline guarding generic outbound HTTP calls.
func (r *Registry) Transport() *Pipeline { return r.pipelines[Transport] }

// States returns the circuit state of every pipeline that has a breaker.
func (r *Registry) States() map[string]BreakerState {
	states := make(map[string]BreakerState)
	for _, name := range r.order {
		if p := r.pipelines[name]; p.HasBreaker() {
			states[name] = p.State()
		}
	}
	return states
}
