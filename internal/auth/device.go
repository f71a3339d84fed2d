package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/tidwall/gjson"

	"github.com/chatpad-dev/chatpad/internal/config"
	"github.com/chatpad-dev/chatpad/internal/json"
	log "github.com/chatpad-dev/chatpad/internal/logging"
	"github.com/chatpad-dev/chatpad/internal/oauth/pkce"
)

// Polling parameters for the device flow. The base interval is used
// unless the server declares a longer one; every slow_down signal
// multiplies the current interval by backoffFactor up to maxPollInterval.
const (
	basePollInterval = 2 * time.Second
	maxPollInterval  = 10 * time.Second
	backoffFactor    = 1.5
)

const deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"

// DeviceAuthorization is the ephemeral state of one authentication
// attempt. It lives only for the duration of the polling loop that
// created it and is never persisted.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// tokenPayload is the token endpoint success shape, shared by the
// device-code grant and the refresh_token grant.
type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ResourceURL  string `json:"resource_url"`
}

// Client talks to the provider's OAuth endpoints.
type Client struct {
	cfg  *config.Config
	http *http.Client

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds an OAuth client. httpClient may be nil.
func NewClient(cfg *config.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient, now: time.Now, sleep: sleepCtx}
}

// deviceAuthRetry retries the device-authorization request on network
// failures and 5xx responses. OAuth error payloads are 4xx and are
// never retried.
var deviceAuthRetry = retrypolicy.Builder[*http.Response]().
	HandleIf(func(resp *http.Response, err error) bool {
		if err != nil {
			return true
		}
		return resp != nil && resp.StatusCode >= 500
	}).
	WithBackoff(500*time.Millisecond, 5*time.Second).
	WithMaxRetries(2).
	Build()

// RequestDeviceAuthorization asks the provider for a device code and a
// user-facing verification URI, binding the attempt to the given PKCE
// challenge. The raw verifier is never sent here.
func (c *Client) RequestDeviceAuthorization(ctx context.Context, challenge string) (*DeviceAuthorization, error) {
	endpoint := c.cfg.Endpoints.DeviceAuth
	form := url.Values{
		"client_id":             {c.cfg.OAuth.ClientID},
		"scope":                 {c.cfg.OAuth.Scope},
		"code_challenge":        {challenge},
		"code_challenge_method": {pkce.Method},
	}

	resp, err := failsafe.Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, deviceAuthRetry)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, oauthError(endpoint, resp.StatusCode, body)
	}

	var da DeviceAuthorization
	if err := json.Unmarshal(body, &da); err != nil {
		return nil, &TransportError{Endpoint: endpoint, Status: resp.StatusCode, Err: err}
	}
	if da.DeviceCode == "" || da.UserCode == "" {
		return nil, oauthError(endpoint, resp.StatusCode, body)
	}
	log.Debugf("auth: device authorization issued, user code %s, expires in %ds", da.UserCode, da.ExpiresIn)
	return &da, nil
}

// PollToken drives the device polling loop until the user approves,
// the server-declared window elapses, the provider returns a hard
// error, or ctx is cancelled. Cancellation interrupts an in-progress
// wait immediately. onPending, when non-nil, is invoked once per
// pending poll so callers can render progress.
func (c *Client) PollToken(ctx context.Context, da *DeviceAuthorization, verifier string, onPending func()) (*Credential, error) {
	interval := basePollInterval
	if server := time.Duration(da.Interval) * time.Second; server > interval {
		interval = server
	}
	if interval > maxPollInterval {
		interval = maxPollInterval
	}

	start := c.now()
	window := time.Duration(da.ExpiresIn) * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if window > 0 && c.now().Sub(start) > window {
			return nil, ErrDeviceFlowTimeout
		}

		cred, signal, err := c.pollOnce(ctx, da.DeviceCode, verifier)
		if err != nil {
			return nil, err
		}
		if cred != nil {
			return cred, nil
		}

		switch signal {
		case signalSlowDown:
			interval = time.Duration(float64(interval) * backoffFactor)
			if interval > maxPollInterval {
				interval = maxPollInterval
			}
			log.Debugf("auth: provider asked to slow down, poll interval now %v", interval)
		case signalPending:
			if onPending != nil {
				onPending()
			}
		}

		if err := c.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

type pollSignal int

const (
	signalPending pollSignal = iota
	signalSlowDown
)

// pollOnce performs a single token-endpoint poll. It returns a
// credential on success, a throttling signal while the user has not
// yet approved, or a terminal error.
func (c *Client) pollOnce(ctx context.Context, deviceCode, verifier string) (*Credential, pollSignal, error) {
	endpoint := c.cfg.Endpoints.Token
	form := url.Values{
		"grant_type":    {deviceCodeGrant},
		"client_id":     {c.cfg.OAuth.ClientID},
		"device_code":   {deviceCode},
		"code_verifier": {verifier},
	}

	status, body, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return nil, 0, err
	}

	if status >= 200 && status < 300 {
		cred, err := c.credentialFrom(body, "")
		if err != nil {
			return nil, 0, &TransportError{Endpoint: endpoint, Status: status, Err: err}
		}
		return cred, 0, nil
	}

	code := gjson.GetBytes(body, "error").String()
	switch {
	case status == http.StatusTooManyRequests || code == "slow_down":
		return nil, signalSlowDown, nil
	case status == http.StatusBadRequest && code == "authorization_pending":
		return nil, signalPending, nil
	default:
		return nil, 0, oauthError(endpoint, status, body)
	}
}

// Refresh exchanges the refresh token for a new access token. When the
// server omits a new refresh token the old one is preserved.
func (c *Client) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred == nil || strings.TrimSpace(cred.RefreshToken) == "" {
		return nil, ErrNotAuthenticated
	}

	endpoint := c.cfg.Endpoints.Token
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
		"client_id":     {c.cfg.OAuth.ClientID},
	}

	status, body, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, oauthError(endpoint, status, body)
	}

	refreshed, err := c.credentialFrom(body, cred.RefreshToken)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Status: status, Err: err}
	}
	log.Debugf("auth: token refreshed, expires at %s", refreshed.ExpiresAt.Format(time.RFC3339))
	return refreshed, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Context cancellation surfaces as-is so callers can tell a
		// user-initiated stop from a network failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, &TransportError{Endpoint: endpoint, Status: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, body, nil
}

// credentialFrom builds a Credential from a token payload. An empty
// access token or non-positive expiry is malformed.
func (c *Client) credentialFrom(body []byte, fallbackRefresh string) (*Credential, error) {
	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.AccessToken) == "" || payload.ExpiresIn <= 0 {
		return nil, errMalformedToken
	}
	refresh := payload.RefreshToken
	if strings.TrimSpace(refresh) == "" {
		refresh = fallbackRefresh
	}
	tokenType := payload.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Credential{
		AccessToken:  payload.AccessToken,
		RefreshToken: refresh,
		TokenType:    tokenType,
		ResourceURL:  payload.ResourceURL,
		ExpiresAt:    c.now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

var errMalformedToken = &malformedTokenError{}

type malformedTokenError struct{}

func (*malformedTokenError) Error() string { return "token payload missing access_token or expires_in" }

// oauthError extracts the provider's error/error_description pair,
// keeping status and raw body context for diagnosis.
func oauthError(endpoint string, status int, body []byte) error {
	code := gjson.GetBytes(body, "error").String()
	if code == "" {
		code = "http_" + http.StatusText(status)
	}
	return &AuthorizationError{
		Endpoint:    endpoint,
		Status:      status,
		Code:        code,
		Description: gjson.GetBytes(body, "error_description").String(),
	}
}

// sleepCtx suspends for d or until ctx is cancelled, whichever is
// first. The wait itself is the cancellation point the polling loop
// relies on; it never busy-waits.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
