// Package auth provides bearer-token credentials for the backend REST API.
package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenProvider yields the bearer token attached to API requests.
type TokenProvider interface {
	// Token returns a currently valid bearer token.
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, typically loaded from the environment.
type StaticToken string

// Token returns the static token.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("auth: no token configured")
	}
	return string(t), nil
}

// OAuthProvider adapts an oauth2.TokenSource, refreshing expired tokens
// transparently.
type OAuthProvider struct {
	source oauth2.TokenSource
}

// NewOAuthProvider wraps a token source with caching so refreshes only
// happen when the current token expires.
func NewOAuthProvider(src oauth2.TokenSource) *OAuthProvider {
	return &OAuthProvider{source: oauth2.ReuseTokenSource(nil, src)}
}

// Token returns a valid access token, refreshing if needed.
func (p *OAuthProvider) Token(ctx context.Context) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("auth: token refresh failed: %w", err)
	}
	return tok.AccessToken, nil
}

var (
	_ TokenProvider = StaticToken("")
	_ TokenProvider = (*OAuthProvider)(nil)
)
