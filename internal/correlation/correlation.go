// Package correlation scopes an opaque id to one logical operation through
// context.Context so every log line and error of that operation can be tied
// together.
package correlation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// HeaderName is the HTTP header used to carry correlation ids.
const HeaderName = "X-Correlation-ID"

type contextKey struct{}

// scope holds the id for one operation. It is created empty by NewContext and
// filled on first read.
type scope struct {
	mu sync.Mutex
	id string
}

// NewContext installs an empty operation scope. The first call to ID on the
// returned context (or any context derived from it) generates the id.
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, &scope{})
}

// WithID binds id to the operation. An empty id installs an empty scope.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, &scope{id: id})
}

// ID returns the id bound to the operation, generating and binding a new one
// on first access. Without a scope in ctx a fresh id is returned each call.
func ID(ctx context.Context) string {
	s, ok := ctx.Value(contextKey{}).(*scope)
	if !ok {
		return New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = New()
	}
	return s.id
}

// Lookup returns the bound id without generating one.
func Lookup(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(contextKey{}).(*scope)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.id != ""
}

// New returns a fresh correlation id.
func New() string {
	return uuid.NewString()
}
