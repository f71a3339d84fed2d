// Package auth implements the OAuth device-authorization flow against
// the model provider: PKCE-bound device-code requests, the token
// polling loop with server-driven backoff, lazy refresh near expiry,
// and persistence of the resulting credential.
package auth

import (
	"strings"
	"time"
)

// RefreshBuffer is how long before expiry a token counts as stale. A
// token inside this window is refreshed before being handed out.
const RefreshBuffer = 30 * time.Second

// Credential is the persisted authentication record. It is either
// wholly absent or fully populated; partial records are never written.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ResourceURL  string    `json:"resource_url,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the credential carries a usable access token.
func (c *Credential) Valid() bool {
	return c != nil && strings.TrimSpace(c.AccessToken) != ""
}

// ExpiresSoon reports whether the token is inside the refresh window at
// the given instant. Boundary rule: exactly RefreshBuffer remaining is
// still fresh; anything less is stale.
func (c *Credential) ExpiresSoon(now time.Time) bool {
	if c == nil {
		return true
	}
	return c.ExpiresAt.Sub(now) < RefreshBuffer
}
