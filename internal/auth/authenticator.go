package auth

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
	"github.com/willvelida/m365-sdk-proxy/internal/resilience"
)

// DefaultExpiryDelta refreshes credentials this long before they expire.
const DefaultExpiryDelta = 10 * time.Second

const flightKey = "credential"

// Authenticator caches one credential and refreshes it on demand. Concurrent
// callers that find no usable credential share a single acquisition.
type Authenticator struct {
	acquirer    Acquirer
	pipeline    *resilience.Pipeline
	scopeSource func() []string
	tenantID    string
	logger      *slog.Logger
	now         func() time.Time
	expiryDelta time.Duration

	scopesOnce sync.Once
	scopes     []string

	mu     sync.RWMutex
	cached *Credential

	group singleflight.Group
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithPipeline runs every acquisition under p.
func WithPipeline(p *resilience.Pipeline) Option {
	return func(a *Authenticator) { a.pipeline = p }
}

// WithScopes sets the scope source. It is called once, on first use.
func WithScopes(source func() []string) Option {
	return func(a *Authenticator) { a.scopeSource = source }
}

// WithTenantID records the tenant on authentication errors.
func WithTenantID(tenantID string) Option {
	return func(a *Authenticator) { a.tenantID = tenantID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithExpiryDelta sets how early a credential is considered expired.
func WithExpiryDelta(d time.Duration) Option {
	return func(a *Authenticator) { a.expiryDelta = d }
}

// NewAuthenticator creates an Authenticator backed by acquirer.
func NewAuthenticator(acquirer Acquirer, opts ...Option) *Authenticator {
	a := &Authenticator{
		acquirer:    acquirer,
		logger:      slog.Default(),
		now:         time.Now,
		expiryDelta: DefaultExpiryDelta,
		scopeSource: func() []string { return nil },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Scopes returns the fixed scope set, computing it on first call.
func (a *Authenticator) Scopes() []string {
	a.scopesOnce.Do(func() {
		a.scopes = slices.Clone(a.scopeSource())
	})
	return a.scopes
}

// Authenticate returns a usable credential, acquiring one when none is cached
// or the cached one has expired. A caller whose ctx ends stops waiting; the
// shared acquisition continues for the remaining callers.
func (a *Authenticator) Authenticate(ctx context.Context) (*Credential, error) {
	if c := a.current(); c != nil {
		return c, nil
	}

	ch := a.group.DoChan(flightKey, func() (any, error) {
		if c := a.current(); c != nil {
			return c, nil
		}
		return a.acquire(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Credential).clone(), nil
	}
}

func (a *Authenticator) current() *Credential {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.cached.Valid(a.now(), a.expiryDelta) {
		return a.cached.clone()
	}
	return nil
}

func (a *Authenticator) acquire(ctx context.Context) (*Credential, error) {
	scopes := a.Scopes()
	start := time.Now()

	var cred *Credential
	op := func(ctx context.Context) error {
		c, err := a.acquirer.Acquire(ctx, slices.Clone(scopes))
		if err != nil {
			return a.classify(err)
		}
		cred = c
		return nil
	}

	var err error
	if a.pipeline != nil {
		err = a.pipeline.Execute(ctx, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		a.logger.Error("backend credential acquisition failed",
			slog.String("correlation_id", correlation.ID(ctx)),
			slog.String("tenant_id", a.tenantID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if len(cred.Scopes) == 0 {
		cred.Scopes = slices.Clone(scopes)
	}

	a.mu.Lock()
	a.cached = cred
	a.mu.Unlock()

	a.logger.Info("backend credential acquired",
		slog.String("correlation_id", correlation.ID(ctx)),
		slog.Time("expiry", cred.Expiry),
		slog.Int("scopes", len(cred.Scopes)),
		slog.Duration("duration", time.Since(start)),
	)
	return cred, nil
}

func (a *Authenticator) classify(err error) error {
	if domain.IsKind(err, domain.KindAuthentication) {
		return err
	}
	return domain.NewAuthenticationError("client credential acquisition failed", a.tenantID).
		WithOperation("ClientCredentials").
		WithCorrelationID(correlation.New()).
		WithCause(err)
}
