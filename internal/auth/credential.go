// Package auth obtains and caches the backend access credential using the
// OAuth2 client-credentials flow, and attaches it to outbound requests.
package auth

import (
	"context"
	"slices"
	"time"
)

// Credential is a cached bearer credential.
type Credential struct {
	AccessToken string
	Expiry      time.Time
	Scopes      []string
}

// Valid reports whether the credential can still be used at now, treating it
// as expired delta before its actual expiry. A zero expiry never expires.
func (c *Credential) Valid(now time.Time, delta time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.Expiry.IsZero() {
		return true
	}
	return now.Add(delta).Before(c.Expiry)
}

func (c *Credential) clone() *Credential {
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

// Acquirer performs one credential acquisition for the given scopes.
type Acquirer interface {
	Acquire(ctx context.Context, scopes []string) (*Credential, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context, scopes []string) (*Credential, error)

// Acquire calls f.
func (f AcquirerFunc) Acquire(ctx context.Context, scopes []string) (*Credential, error) {
	return f(ctx, scopes)
}

// TokenSource yields a usable credential.
type TokenSource interface {
	Authenticate(ctx context.Context) (*Credential, error)
}
