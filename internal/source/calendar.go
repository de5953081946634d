package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/thinkscotty/daybook/internal/auth"
	"github.com/thinkscotty/daybook/internal/config"
)

const calendarBaseURL = "https://www.googleapis.com/calendar/v3"

// Calendar fetches today's and tomorrow's events from Google Calendar.
type Calendar struct {
	tokens     TokenSource
	calendarID string
	loc        *time.Location
	baseURL    string
	client     *http.Client
	disabled   bool
	now        func() time.Time
}

func NewCalendar(cfg config.CalendarConfig, tokens TokenSource, loc *time.Location, disabled bool) *Calendar {
	return &Calendar{
		tokens:     tokens,
		calendarID: cfg.CalendarID,
		loc:        loc,
		baseURL:    calendarBaseURL,
		client:     &http.Client{Timeout: 20 * time.Second},
		disabled:   disabled,
		now:        time.Now,
	}
}

func (c *Calendar) Name() string { return "calendar" }

type calendarEvent struct {
	Summary  string `json:"summary"`
	Location string `json:"location"`
	Status   string `json:"status"`
	Start    struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"`
	} `json:"end"`
}

func (c *Calendar) Fetch(ctx context.Context) (map[string]any, error) {
	if c.disabled || !c.tokens.Configured() {
		return nil, ErrSkipped
	}

	token, err := c.tokens.Token(ctx, googleTokenKey)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			return nil, ErrSkipped
		}
		if errors.Is(err, auth.ErrRefreshRejected) {
			return nil, newError(c.Name(), AuthFailure, err)
		}
		return nil, wrapErr(c.Name(), err)
	}

	now := c.now().In(c.loc)
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
	endOfTomorrow := startOfToday.AddDate(0, 0, 2)

	params := url.Values{
		"timeMin":      {now.Format(time.RFC3339)},
		"timeMax":      {endOfTomorrow.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {"20"},
	}
	reqURL := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(c.calendarID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, wrapErr(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(c.Name(), statusKind(resp.StatusCode), fmt.Errorf("calendar API returned status %d", resp.StatusCode))
	}

	var result struct {
		Items []calendarEvent `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, newError(c.Name(), MalformedResponse, fmt.Errorf("decode events: %w", err))
	}

	var today, tomorrow []map[string]any
	tomorrowStart := startOfToday.AddDate(0, 0, 1)
	for _, ev := range result.Items {
		if ev.Status == "cancelled" {
			continue
		}
		start, allDay, ok := c.parseEventTime(ev.Start.DateTime, ev.Start.Date)
		if !ok {
			continue
		}
		entry := map[string]any{
			"summary": ev.Summary,
			"all_day": allDay,
		}
		if !allDay {
			entry["start"] = start.In(c.loc).Format("15:04")
			if end, endAllDay, ok := c.parseEventTime(ev.End.DateTime, ev.End.Date); ok && !endAllDay {
				entry["end"] = end.In(c.loc).Format("15:04")
			}
		}
		if ev.Location != "" {
			entry["location"] = ev.Location
		}
		switch {
		case start.Before(tomorrowStart):
			today = append(today, entry)
		case start.Before(endOfTomorrow):
			tomorrow = append(tomorrow, entry)
		}
	}

	return map[string]any{
		"calendar":       c.calendarID,
		"today":          today,
		"tomorrow":       tomorrow,
		"today_count":    len(today),
		"tomorrow_count": len(tomorrow),
	}, nil
}

func (c *Calendar) parseEventTime(dateTime, date string) (t time.Time, allDay, ok bool) {
	if dateTime != "" {
		parsed, err := time.Parse(time.RFC3339, dateTime)
		if err != nil {
			return time.Time{}, false, false
		}
		return parsed, false, true
	}
	if date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", date, c.loc)
		if err != nil {
			return time.Time{}, false, false
		}
		return parsed, true, true
	}
	return time.Time{}, false, false
}
