package auth

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	log "github.com/chatpad-dev/chatpad/internal/logging"
	"github.com/chatpad-dev/chatpad/internal/oauth/pkce"
)

// refreshKey is the singleflight key; there is a single credential per
// process, so all refresh attempts coalesce onto one call.
const refreshKey = "refresh"

// DeviceFlowCallbacks let the caller render progress during the
// polling loop. Either field may be nil.
type DeviceFlowCallbacks struct {
	// OnVerification is invoked once with the URI the user must visit
	// and the code to enter there.
	OnVerification func(uri, uriComplete, userCode string)

	// OnPending is invoked for each poll that comes back pending.
	OnPending func()
}

// Manager owns the credential lifecycle: it runs the device flow,
// persists results, and refreshes tokens near expiry. At most one
// refresh is in flight at a time.
type Manager struct {
	client *Client
	store  Store
	sf     singleflight.Group

	// onUpdate is notified whenever the stored credential changes, so
	// the session layer can tear down and rebuild its transport.
	onUpdate func(*Credential)

	// now is swappable for tests.
	now func() time.Time
}

// NewManager wires the OAuth client and credential store together.
// onUpdate may be nil.
func NewManager(client *Client, store Store, onUpdate func(*Credential)) *Manager {
	return &Manager{client: client, store: store, onUpdate: onUpdate, now: time.Now}
}

// StartDeviceFlow runs one complete authentication attempt: generate a
// PKCE pair, obtain a device code, poll until approval, persist the
// credential. Cancelling ctx aborts the in-progress wait immediately.
func (m *Manager) StartDeviceFlow(ctx context.Context, callbacks DeviceFlowCallbacks) (*Credential, error) {
	codes, err := pkce.Generate()
	if err != nil {
		return nil, err
	}

	da, err := m.client.RequestDeviceAuthorization(ctx, codes.Challenge)
	if err != nil {
		return nil, err
	}
	if callbacks.OnVerification != nil {
		callbacks.OnVerification(da.VerificationURI, da.VerificationURIComplete, da.UserCode)
	}

	cred, err := m.client.PollToken(ctx, da, codes.Verifier, callbacks.OnPending)
	if err != nil {
		return nil, err
	}

	if err := m.persist(cred); err != nil {
		return nil, err
	}
	log.Infof("auth: device flow complete, token expires at %s", cred.ExpiresAt.Format(time.RFC3339))
	return cred, nil
}

// ValidCredential returns a credential whose access token is usable for
// at least the refresh buffer, refreshing it first when stale. It fails
// fast with ErrNotAuthenticated when nothing is stored or the stored
// token is blank; no network call is attempted in that case.
func (m *Manager) ValidCredential(ctx context.Context) (*Credential, error) {
	cred, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if cred == nil || strings.TrimSpace(cred.AccessToken) == "" {
		return nil, ErrNotAuthenticated
	}

	if !cred.ExpiresSoon(m.now()) {
		return cred, nil
	}

	result, err, _ := m.sf.Do(refreshKey, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// refreshed already.
		current, err := m.store.Load()
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrNotAuthenticated
		}
		if !current.ExpiresSoon(m.now()) {
			return current, nil
		}

		refreshed, err := m.client.Refresh(ctx, current)
		if err != nil {
			return nil, err
		}
		if err := m.persist(refreshed); err != nil {
			return nil, err
		}
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Credential), nil
}

// Logout removes the credential from every backend. Idempotent.
func (m *Manager) Logout() error {
	if err := m.store.Clear(); err != nil {
		return err
	}
	if m.onUpdate != nil {
		m.onUpdate(nil)
	}
	return nil
}

// Save persists an externally supplied credential (e.g. imported by the
// host editor) and notifies the session layer.
func (m *Manager) Save(cred *Credential) error {
	return m.persist(cred)
}

func (m *Manager) persist(cred *Credential) error {
	if err := m.store.Save(cred); err != nil {
		return err
	}
	if m.onUpdate != nil {
		m.onUpdate(cred)
	}
	return nil
}
