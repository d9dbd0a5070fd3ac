package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentials acquires tokens from a Microsoft identity platform v2
// token endpoint using an application id and secret.
type ClientCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the endpoint derived from AuthorityHost and TenantID.
	TokenURL string
	// AuthorityHost defaults to login.microsoftonline.com.
	AuthorityHost string
	HTTPClient    *http.Client
}

// Endpoint returns the token endpoint URL.
func (c *ClientCredentials) Endpoint() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	host := c.AuthorityHost
	if host == "" {
		host = "login.microsoftonline.com"
	}
	return fmt.Sprintf("https://%s/%s/oauth2/v2.0/token", host, c.TenantID)
}

// Acquire requests a token for scopes.
func (c *ClientCredentials) Acquire(ctx context.Context, scopes []string) (*Credential, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, errors.New("client id and secret are required")
	}

	cfg := clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.Endpoint(),
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	if c.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	}

	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}

	return &Credential{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
		Scopes:      slices.Clone(scopes),
	}, nil
}
