package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thinkscotty/daybook/internal/config"
)

func TestHealthFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"steps": 8412, "sleep_hours": 7.2, "battery": 88, "resting_heart_rate": 54}`))
	}))
	defer srv.Close()

	h := NewHealth(config.HealthConfig{URL: srv.URL}, false)
	payload, err := h.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got := payload["steps"]; got != float64(8412) {
		t.Errorf("steps = %v, want 8412", got)
	}
	if got := payload["sleep_hours"]; got != 7.2 {
		t.Errorf("sleep_hours = %v, want 7.2", got)
	}
	// Unknown fields must not leak into the digest payload.
	if _, ok := payload["battery"]; ok {
		t.Error("payload carried unknown field battery")
	}
}

func TestHealthFetchNoKnownFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"battery": 88}`))
	}))
	defer srv.Close()

	h := NewHealth(config.HealthConfig{URL: srv.URL}, false)
	_, err := h.Fetch(context.Background())
	if !IsKind(err, MalformedResponse) {
		t.Errorf("Fetch() error = %v, want MalformedResponse", err)
	}
}

func TestHealthFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHealth(config.HealthConfig{URL: srv.URL}, false)
	_, err := h.Fetch(context.Background())
	if !IsKind(err, UpstreamUnavailable) {
		t.Errorf("Fetch() error = %v, want UpstreamUnavailable", err)
	}
}

func TestHealthFetchUnconfigured(t *testing.T) {
	h := NewHealth(config.HealthConfig{}, false)
	_, err := h.Fetch(context.Background())
	if !errors.Is(err, ErrSkipped) {
		t.Errorf("Fetch() with no URL = %v, want ErrSkipped", err)
	}
}
