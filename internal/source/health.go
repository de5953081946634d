package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/thinkscotty/daybook/internal/config"
)

// Health pulls the day's numbers from a personal health bridge: any endpoint
// that answers JSON with some of the known fields (a Health Auto Export
// receiver, a homegrown shim, whatever the operator runs).
type Health struct {
	url      string
	client   *http.Client
	disabled bool
}

// Known health fields; the endpoint may supply any subset.
var healthFields = []string{
	"steps", "sleep_hours", "resting_heart_rate", "active_energy", "exercise_minutes",
}

func NewHealth(cfg config.HealthConfig, disabled bool) *Health {
	return &Health{
		url:      cfg.URL,
		client:   &http.Client{Timeout: 15 * time.Second},
		disabled: disabled,
	}
}

func (h *Health) Name() string { return "health" }

func (h *Health) Fetch(ctx context.Context) (map[string]any, error) {
	if h.disabled || h.url == "" {
		return nil, ErrSkipped
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, wrapErr(h.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(h.Name(), statusKind(resp.StatusCode), fmt.Errorf("health endpoint returned status %d", resp.StatusCode))
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, newError(h.Name(), MalformedResponse, fmt.Errorf("decode health response: %w", err))
	}

	payload := make(map[string]any)
	for _, field := range healthFields {
		if v, ok := raw[field]; ok {
			payload[field] = v
		}
	}
	if len(payload) == 0 {
		return nil, newError(h.Name(), MalformedResponse, fmt.Errorf("health response carried none of the known fields"))
	}
	return payload, nil
}
