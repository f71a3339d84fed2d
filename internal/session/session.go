// Package session holds the process-wide authentication state: the
// current credential and the lazily built transport used for chat
// completions. A single writer (the auth manager or an explicit logout)
// mutates it; readers only observe.
package session

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chatpad-dev/chatpad/internal/auth"
)

// apiPathSuffix is appended to every base endpoint so callers always
// target the versioned API surface.
const apiPathSuffix = "/v1"

// Session is the shared state object. The zero value is unusable; use New.
type Session struct {
	mu sync.RWMutex

	defaultEndpoint string
	cred            *auth.Credential
	httpClient      *http.Client
}

// New creates an empty session. defaultEndpoint is used whenever the
// credential carries no usable resource URL.
func New(defaultEndpoint string) *Session {
	return &Session{defaultEndpoint: normalizeEndpoint(defaultEndpoint, defaultEndpoint)}
}

// IsAuthenticated reports whether a credential with a non-blank access
// token is present.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred.Valid()
}

// Credential returns the current credential, or nil.
func (s *Session) Credential() *auth.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// SetCredential installs a new credential and tears down the transport
// so the next request rebuilds it against the (possibly new) endpoint.
// A nil credential is equivalent to Reset.
func (s *Session) SetCredential(cred *auth.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.httpClient = nil
}

// Reset clears the credential and transport. Used on logout.
func (s *Session) Reset() {
	s.SetCredential(nil)
}

// BaseEndpoint derives the chat API base URL from the credential's
// resource URL when present and parseable, falling back to the default.
// A missing scheme is normalized to https and the versioned path suffix
// is guaranteed.
func (s *Session) BaseEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred != nil && strings.TrimSpace(s.cred.ResourceURL) != "" {
		return normalizeEndpoint(s.cred.ResourceURL, s.defaultEndpoint)
	}
	return s.defaultEndpoint
}

// HTTPClient returns the transport session handle, building it on first
// use after a credential change.
func (s *Session) HTTPClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpClient == nil {
		s.httpClient = &http.Client{
			// No overall timeout: completion streams are long-lived.
			// Cancellation rides on the request context.
			Timeout: 0,
			Transport: &http.Transport{
				ResponseHeaderTimeout: 60 * time.Second,
			},
		}
	}
	return s.httpClient
}

func normalizeEndpoint(raw, fallback string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return ensureSuffix(fallback)
	}
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return ensureSuffix(fallback)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(u.Path, apiPathSuffix) {
		u.Path += apiPathSuffix
	}
	return u.String()
}

func ensureSuffix(endpoint string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if strings.HasSuffix(trimmed, apiPathSuffix) {
		return trimmed
	}
	return trimmed + apiPathSuffix
}
