package auth

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when an operation needs a credential
// and none is stored, or the stored access token is blank. Callers
// should prompt for login rather than retry.
var ErrNotAuthenticated = errors.New("not authenticated: no stored credential")

// ErrDeviceFlowTimeout is returned when the device-flow polling window
// declared by the server elapses before the user approves the device.
// Distinct from cancellation so callers can offer a retry.
var ErrDeviceFlowTimeout = errors.New("device authorization timed out")

// AuthorizationError carries a provider-issued OAuth error. It is
// terminal for the current attempt; there is no automatic retry.
type AuthorizationError struct {
	Endpoint    string
	Status      int
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s (%s, status %d from %s)", e.Description, e.Code, e.Status, e.Endpoint)
	}
	return fmt.Sprintf("authorization failed: %s (status %d from %s)", e.Code, e.Status, e.Endpoint)
}

// TransportError wraps a network or HTTP-level failure with enough
// context (endpoint, status) for diagnosis.
type TransportError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request to %s failed with status %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
