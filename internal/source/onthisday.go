package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const onThisDayEventCount = 3

// OnThisDay pulls a few curated historical events for today's date from the
// Wikipedia REST API. No credentials required.
type OnThisDay struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	disabled   bool
	loc        *time.Location
	now        func() time.Time
}

func NewOnThisDay(loc *time.Location, disabled bool) *OnThisDay {
	return &OnThisDay{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    "https://en.wikipedia.org/api/rest_v1",
		userAgent:  userAgent,
		disabled:   disabled,
		loc:        loc,
		now:        time.Now,
	}
}

func (o *OnThisDay) Name() string { return "onthisday" }

func (o *OnThisDay) Fetch(ctx context.Context) (map[string]any, error) {
	if o.disabled {
		return nil, ErrSkipped
	}

	today := o.now().In(o.loc)
	url := fmt.Sprintf("%s/feed/onthisday/selected/%02d/%02d", o.baseURL, int(today.Month()), today.Day())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, wrapErr(o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(o.Name(), statusKind(resp.StatusCode), fmt.Errorf("wikipedia API returned status %d", resp.StatusCode))
	}

	var feed struct {
		Selected []struct {
			Text string `json:"text"`
			Year int    `json:"year"`
		} `json:"selected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, newError(o.Name(), MalformedResponse, fmt.Errorf("failed to parse on-this-day feed: %w", err))
	}
	if len(feed.Selected) == 0 {
		return nil, newError(o.Name(), MalformedResponse, fmt.Errorf("on-this-day feed had no selected events"))
	}

	events := make([]map[string]any, 0, onThisDayEventCount)
	for i, ev := range feed.Selected {
		if i >= onThisDayEventCount {
			break
		}
		events = append(events, map[string]any{
			"year": ev.Year,
			"text": ev.Text,
		})
	}

	return map[string]any{
		"date":   today.Format("January 2"),
		"events": events,
	}, nil
}
