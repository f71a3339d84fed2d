package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestManager(t *testing.T, tokenHandler http.HandlerFunc) (*Manager, Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(tokenHandler)
	t.Cleanup(srv.Close)

	store := NewStore(nil, filepath.Join(t.TempDir(), "credentials.json"))
	client := NewClient(testConfig(srv.URL, srv.URL), srv.Client())
	return NewManager(client, store, nil), store, srv
}

func TestValidCredentialFailsFastWhenAbsent(t *testing.T) {
	manager, _, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected without a credential")
	})

	if _, err := manager.ValidCredential(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestValidCredentialFailsFastOnBlankToken(t *testing.T) {
	manager, store, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected for a blank access token")
	})
	if err := store.Save(&Credential{AccessToken: "   ", RefreshToken: "r"}); err != nil {
		t.Fatal(err)
	}

	if _, err := manager.ValidCredential(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestValidCredentialRefreshBoundary(t *testing.T) {
	cases := []struct {
		name        string
		remaining   time.Duration
		wantRefresh bool
	}{
		{"just outside the buffer", RefreshBuffer + time.Second, false},
		{"exactly on the buffer", RefreshBuffer, false},
		{"just inside the buffer", RefreshBuffer - time.Millisecond, true},
		{"already expired", -time.Minute, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var refreshes atomic.Int32
			manager, store, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
				refreshes.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
			})

			now := time.Now()
			manager.now = func() time.Time { return now }
			manager.client.now = func() time.Time { return now }
			if err := store.Save(&Credential{
				AccessToken:  "stale-or-fresh",
				RefreshToken: "refresh-1",
				ExpiresAt:    now.Add(tc.remaining),
			}); err != nil {
				t.Fatal(err)
			}

			cred, err := manager.ValidCredential(context.Background())
			if err != nil {
				t.Fatalf("ValidCredential: %v", err)
			}

			if tc.wantRefresh {
				if refreshes.Load() != 1 {
					t.Errorf("refreshes = %d, want 1", refreshes.Load())
				}
				if cred.AccessToken != "fresh" {
					t.Errorf("access token = %q, want refreshed", cred.AccessToken)
				}
				if cred.RefreshToken != "refresh-1" {
					t.Errorf("refresh token = %q, want preserved", cred.RefreshToken)
				}
			} else {
				if refreshes.Load() != 0 {
					t.Errorf("refreshes = %d, want 0", refreshes.Load())
				}
				if cred.AccessToken != "stale-or-fresh" {
					t.Errorf("access token = %q, want stored one", cred.AccessToken)
				}
			}
		})
	}
}

func TestValidCredentialRefreshPersists(t *testing.T) {
	manager, store, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","refresh_token":"refresh-2","token_type":"Bearer","expires_in":3600}`))
	})
	if err := store.Save(&Credential{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Second),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := manager.ValidCredential(context.Background()); err != nil {
		t.Fatalf("ValidCredential: %v", err)
	}

	stored, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if stored.AccessToken != "fresh" || stored.RefreshToken != "refresh-2" {
		t.Errorf("refreshed credential was not persisted: %+v", stored)
	}
}

func TestValidCredentialCoalescesConcurrentRefreshes(t *testing.T) {
	var refreshes atomic.Int32
	manager, store, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		time.Sleep(50 * time.Millisecond) // widen the race window
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	})
	if err := store.Save(&Credential{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Second),
	}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := manager.ValidCredential(context.Background()); err != nil {
				t.Errorf("ValidCredential: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1 (singleflight)", got)
	}
}

func TestRefreshFailurePropagates(t *testing.T) {
	manager, store, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	})
	if err := store.Save(&Credential{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(time.Second),
	}); err != nil {
		t.Fatal(err)
	}

	_, err := manager.ValidCredential(context.Background())
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type = %T, want *AuthorizationError", err)
	}
	if authErr.Code != "invalid_grant" {
		t.Errorf("code = %q", authErr.Code)
	}
}

func TestLogoutNotifiesAndIsIdempotent(t *testing.T) {
	var updates []*Credential
	store := NewStore(nil, filepath.Join(t.TempDir(), "credentials.json"))
	manager := NewManager(NewClient(testConfig("http://unused", "http://unused"), nil), store, func(cred *Credential) {
		updates = append(updates, cred)
	})

	if err := manager.Save(testCredential()); err != nil {
		t.Fatal(err)
	}
	if err := manager.Logout(); err != nil {
		t.Fatalf("first Logout: %v", err)
	}
	if err := manager.Logout(); err != nil {
		t.Fatalf("second Logout: %v", err)
	}

	if len(updates) != 3 {
		t.Fatalf("updates = %d, want 3 (save + two logouts)", len(updates))
	}
	if updates[0] == nil || updates[1] != nil || updates[2] != nil {
		t.Error("logout updates must carry a nil credential")
	}
}
