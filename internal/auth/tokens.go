package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/thinkscotty/daybook/internal/models"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

// ErrNotConfigured is returned when Google credentials are absent; callers
// treat it as "skip this source" rather than a failure.
var ErrNotConfigured = errors.New("google credentials not configured")

// ErrRefreshRejected marks a refresh the authorization server refused
// (revoked or invalid grant). Retrying will not help until the operator
// re-authorizes.
var ErrRefreshRejected = errors.New("token refresh rejected")

// TokenStore is the slice of the database the cache persists through.
type TokenStore interface {
	GetToken(key string) (models.Token, error)
	SaveToken(t models.Token) error
}

type GoogleCredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (c GoogleCredentials) configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// TokenCache hands out fresh access tokens, refreshing lazily. Refreshes for
// the same key are serialized: concurrent callers block on a per-key mutex
// and re-check the store after acquiring it, so a burst of fetches costs one
// refresh.
type TokenCache struct {
	store    TokenStore
	creds    GoogleCredentials
	client   *http.Client
	tokenURL string
	locks    sync.Map // key -> *sync.Mutex
	now      func() time.Time
	skew     time.Duration
}

func NewTokenCache(store TokenStore, creds GoogleCredentials) *TokenCache {
	return &TokenCache{
		store:    store,
		creds:    creds,
		client:   &http.Client{Timeout: 15 * time.Second},
		tokenURL: googleTokenURL,
		now:      time.Now,
		skew:     2 * time.Minute,
	}
}

// Configured reports whether the cache can mint tokens at all.
func (c *TokenCache) Configured() bool {
	return c.creds.configured()
}

// Token returns a valid access token for the key, refreshing if the cached
// one is missing or expires within the skew window.
func (c *TokenCache) Token(ctx context.Context, key string) (string, error) {
	if !c.creds.configured() {
		return "", ErrNotConfigured
	}

	if tok, err := c.store.GetToken(key); err == nil && tok.Valid(c.now(), c.skew) {
		return tok.AccessToken, nil
	}

	muAny, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if tok, err := c.store.GetToken(key); err == nil && tok.Valid(c.now(), c.skew) {
		return tok.AccessToken, nil
	}

	tok, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}
	tok.Key = key
	if err := c.store.SaveToken(tok); err != nil {
		return "", fmt.Errorf("save token: %w", err)
	}
	return tok.AccessToken, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

func (c *TokenCache) refresh(ctx context.Context) (models.Token, error) {
	form := url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"refresh_token": {c.creds.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.Token{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Token{}, fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Token{}, fmt.Errorf("read refresh response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return models.Token{}, fmt.Errorf("decode refresh response (status %d): %w", resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if tr.AccessToken == "" {
			return models.Token{}, fmt.Errorf("refresh response missing access_token")
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return models.Token{}, fmt.Errorf("%w: %s %s (status %d)", ErrRefreshRejected, tr.Error, tr.ErrorDesc, resp.StatusCode)
	default:
		return models.Token{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	if tr.TokenType == "" {
		tr.TokenType = "Bearer"
	}
	return models.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		ExpiresAt:   c.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
