package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatpad-dev/chatpad/internal/config"
)

func testConfig(deviceURL, tokenURL string) *config.Config {
	cfg := config.Default()
	cfg.Endpoints.DeviceAuth = deviceURL
	cfg.Endpoints.Token = tokenURL
	return cfg
}

// recordingSleeper captures wait durations and returns instantly.
type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.waits = append(s.waits, d)
	return nil
}

func tokenSuccessBody() string {
	return `{"access_token":"tok-abc","refresh_token":"ref-xyz","token_type":"Bearer","expires_in":3600,"resource_url":"models.example.com"}`
}

func TestRequestDeviceAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("code_challenge_method"); got != "S256" {
			t.Errorf("code_challenge_method = %q, want S256", got)
		}
		if r.PostForm.Get("code_challenge") == "" {
			t.Error("missing code_challenge")
		}
		if r.PostForm.Get("code_verifier") != "" {
			t.Error("verifier must never reach the authorization endpoint")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"device_code":"dev-1","user_code":"ABCD-EFGH","verification_uri":"https://auth.example.com/device","verification_uri_complete":"https://auth.example.com/device?user_code=ABCD-EFGH","expires_in":900,"interval":5}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())
	da, err := client.RequestDeviceAuthorization(context.Background(), "challenge-value")
	if err != nil {
		t.Fatalf("RequestDeviceAuthorization: %v", err)
	}
	if da.DeviceCode != "dev-1" || da.UserCode != "ABCD-EFGH" || da.ExpiresIn != 900 {
		t.Errorf("unexpected device authorization: %+v", da)
	}
}

func TestRequestDeviceAuthorizationErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_client","error_description":"unknown client"}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())
	_, err := client.RequestDeviceAuthorization(context.Background(), "challenge")

	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type = %T, want *AuthorizationError", err)
	}
	if authErr.Code != "invalid_client" || authErr.Description != "unknown client" || authErr.Status != 400 {
		t.Errorf("unexpected error detail: %+v", authErr)
	}
}

func TestPollTokenPendingThenSuccess(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("device_code"); got != "dev-1" {
			t.Errorf("device_code = %q", got)
		}
		if got := r.PostForm.Get("code_verifier"); got != "verifier-1" {
			t.Errorf("code_verifier = %q", got)
		}
		if polls.Add(1) <= 3 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"authorization_pending"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenSuccessBody()))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())
	sleeper := &recordingSleeper{}
	client.sleep = sleeper.sleep

	pendings := 0
	cred, err := client.PollToken(context.Background(), &DeviceAuthorization{
		DeviceCode: "dev-1",
		ExpiresIn:  900,
	}, "verifier-1", func() { pendings++ })
	if err != nil {
		t.Fatalf("PollToken: %v", err)
	}

	if cred.AccessToken != "tok-abc" || cred.RefreshToken != "ref-xyz" {
		t.Errorf("unexpected credential: %+v", cred)
	}
	if got := polls.Load(); got != 4 {
		t.Errorf("polls = %d, want 4", got)
	}
	if len(sleeper.waits) != 3 {
		t.Fatalf("waits = %d, want exactly 3", len(sleeper.waits))
	}
	for i, d := range sleeper.waits {
		if d != basePollInterval {
			t.Errorf("wait %d = %v, want %v (no backoff without slow_down)", i, d, basePollInterval)
		}
	}
	if pendings != 3 {
		t.Errorf("pending callbacks = %d, want 3", pendings)
	}
}

func TestPollTokenSlowDownBackoffCapped(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) <= 8 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"slow_down"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenSuccessBody()))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())
	sleeper := &recordingSleeper{}
	client.sleep = sleeper.sleep

	if _, err := client.PollToken(context.Background(), &DeviceAuthorization{
		DeviceCode: "dev-1",
		ExpiresIn:  900,
	}, "verifier-1", nil); err != nil {
		t.Fatalf("PollToken: %v", err)
	}

	if len(sleeper.waits) != 8 {
		t.Fatalf("waits = %d, want 8", len(sleeper.waits))
	}
	// 2s grows by x1.5 per slow_down: 3, 4.5, 6.75, then capped at 10.
	want := []time.Duration{
		3 * time.Second,
		4500 * time.Millisecond,
		6750 * time.Millisecond,
	}
	for i, d := range want {
		if sleeper.waits[i] != d {
			t.Errorf("wait %d = %v, want %v", i, sleeper.waits[i], d)
		}
	}
	for i := 3; i < len(sleeper.waits); i++ {
		if sleeper.waits[i] != maxPollInterval {
			t.Errorf("wait %d = %v, want capped at %v", i, sleeper.waits[i], maxPollInterval)
		}
	}
}

func TestPollTokenCancelInterruptsWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"authorization_pending"}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.PollToken(ctx, &DeviceAuthorization{
		DeviceCode: "dev-1",
		ExpiresIn:  900,
		Interval:   30, // long server interval: the wait itself must be interruptible
	}, "verifier-1", nil)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("cancellation took %v, wait was not interrupted", elapsed)
	}
}

func TestPollTokenWindowExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"authorization_pending"}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())
	sleeper := &recordingSleeper{}
	client.sleep = sleeper.sleep

	// Fake clock: every observation advances time by 10 minutes, so the
	// second deadline check sees the 15-minute window exceeded.
	base := time.Now()
	var ticks int
	client.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * 10 * time.Minute)
	}

	_, err := client.PollToken(context.Background(), &DeviceAuthorization{
		DeviceCode: "dev-1",
		ExpiresIn:  900,
	}, "verifier-1", nil)
	if !errors.Is(err, ErrDeviceFlowTimeout) {
		t.Fatalf("error = %v, want ErrDeviceFlowTimeout", err)
	}
}

func TestPollTokenHardErrorStopsLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"access_denied","error_description":"user rejected the request"}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())
	sleeper := &recordingSleeper{}
	client.sleep = sleeper.sleep

	_, err := client.PollToken(context.Background(), &DeviceAuthorization{
		DeviceCode: "dev-1",
		ExpiresIn:  900,
	}, "verifier-1", nil)

	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type = %T, want *AuthorizationError", err)
	}
	if authErr.Code != "access_denied" {
		t.Errorf("code = %q, want access_denied", authErr.Code)
	}
	if len(sleeper.waits) != 0 {
		t.Errorf("loop waited %d times after a hard error, want 0", len(sleeper.waits))
	}
}

func TestRefreshPreservesOldRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		// No refresh_token in the response: the old one must survive.
		w.Write([]byte(`{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())
	refreshed, err := client.Refresh(context.Background(), &Credential{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken != "new-access" {
		t.Errorf("access token = %q", refreshed.AccessToken)
	}
	if refreshed.RefreshToken != "old-refresh" {
		t.Errorf("refresh token = %q, want the old one preserved", refreshed.RefreshToken)
	}
}

func TestRefreshWithoutRefreshTokenFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected without a refresh token")
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())
	if _, err := client.Refresh(context.Background(), &Credential{AccessToken: "x"}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}
