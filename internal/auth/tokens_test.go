package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thinkscotty/daybook/internal/models"
)

type fakeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]models.Token
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]models.Token)}
}

func (s *fakeTokenStore) GetToken(key string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[key]
	if !ok {
		return models.Token{}, sql.ErrNoRows
	}
	return t, nil
}

func (s *fakeTokenStore) SaveToken(t models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Key] = t
	return nil
}

func testCreds() GoogleCredentials {
	return GoogleCredentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"}
}

func testCache(store TokenStore, tokenURL string) *TokenCache {
	c := NewTokenCache(store, testCreds())
	c.tokenURL = tokenURL
	return c
}

func TestTokenNotConfigured(t *testing.T) {
	c := NewTokenCache(newFakeTokenStore(), GoogleCredentials{})
	if _, err := c.Token(context.Background(), "google:primary"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Token() error = %v, want ErrNotConfigured", err)
	}
}

func TestTokenUsesFreshCachedToken(t *testing.T) {
	store := newFakeTokenStore()
	store.SaveToken(models.Token{
		Key:         "google:primary",
		AccessToken: "cached",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("refresh endpoint called for a fresh token")
	}))
	defer srv.Close()

	c := testCache(store, srv.URL)
	got, err := c.Token(context.Background(), "google:primary")
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "cached" {
		t.Errorf("Token() = %q, want %q", got, "cached")
	}
}

func TestTokenRefreshesStaleToken(t *testing.T) {
	store := newFakeTokenStore()
	// Expires inside the 2 minute skew window, so it counts as stale.
	store.SaveToken(models.Token{
		Key:         "google:primary",
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(30 * time.Second),
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"minted","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := testCache(store, srv.URL)
	got, err := c.Token(context.Background(), "google:primary")
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "minted" {
		t.Errorf("Token() = %q, want %q", got, "minted")
	}

	saved, err := store.GetToken("google:primary")
	if err != nil {
		t.Fatalf("token was not persisted: %v", err)
	}
	if saved.AccessToken != "minted" {
		t.Errorf("persisted token = %q, want %q", saved.AccessToken, "minted")
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		time.Sleep(50 * time.Millisecond) // widen the window for racing callers
		w.Write([]byte(`{"access_token":"minted","expires_in":3600}`))
	}))
	defer srv.Close()

	c := testCache(newFakeTokenStore(), srv.URL)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.Token(context.Background(), "google:primary")
			if err != nil {
				errs <- err
				return
			}
			if tok != "minted" {
				errs <- errors.New("got token " + tok)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if n := refreshes.Load(); n != 1 {
		t.Errorf("refresh endpoint hit %d times, want 1", n)
	}
}

func TestRefreshRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been revoked."}`))
	}))
	defer srv.Close()

	c := testCache(newFakeTokenStore(), srv.URL)
	_, err := c.Token(context.Background(), "google:primary")
	if !errors.Is(err, ErrRefreshRejected) {
		t.Errorf("Token() error = %v, want ErrRefreshRejected", err)
	}
}

func TestRefreshUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testCache(newFakeTokenStore(), srv.URL)
	_, err := c.Token(context.Background(), "google:primary")
	if err == nil {
		t.Fatal("Token() = nil error, want error on 502")
	}
	if errors.Is(err, ErrRefreshRejected) {
		t.Error("502 classified as ErrRefreshRejected, want retryable upstream error")
	}
}
