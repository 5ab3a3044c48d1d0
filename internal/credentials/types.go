// Package credentials stores per-user OAuth tokens for connected streaming
// services, encrypted at rest, and hands out valid access tokens with a
// single-flight refresh per (user, service).
package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/mthorsen/playlistwatch/internal/provider"
)

var (
	// ErrNotLinked means the user has no stored credential for the service.
	ErrNotLinked = errors.New("service not linked")

	// ErrTokenExpired means the stored token is expired and could not be
	// refreshed (no refresh token, or the provider rejected it).
	ErrTokenExpired = errors.New("token expired")

	// ErrAuthenticationFailed means the provider rejected the refresh token
	// outright; the user must reconnect the service.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// Credential is a stored token row, decrypted.
type Credential struct {
	ID           int64            `json:"id"`
	UserID       int64            `json:"user_id"`
	Service      provider.Service `json:"service"`
	AccessToken  string           `json:"-"`
	RefreshToken string           `json:"-"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Scope        string           `json:"scope,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Expired reports whether the access token is past (or within skew of) its
// expiry. A zero ExpiresAt means the token never expires.
func (c *Credential) Expired(skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(skew).After(c.ExpiresAt)
}

// TokenSet is the result of an OAuth exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// Refresher exchanges a refresh token for a new token set. Each service
// adapter's auth flow registers one with the store.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}
