package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thinkscotty/daybook/internal/config"
)

const slackAPIBaseURL = "https://slack.com/api"

// SlackActivity reads the workspace through the bot token: channels the bot
// is in, recent traffic, and mentions of the bot user.
type SlackActivity struct {
	token       string
	maxChannels int
	baseURL     string
	client      *http.Client
	disabled    bool
	now         func() time.Time
}

func NewSlackActivity(cfg config.SlackReadConfig, botToken string, disabled bool) *SlackActivity {
	return &SlackActivity{
		token:       botToken,
		maxChannels: cfg.MaxChannels,
		baseURL:     slackAPIBaseURL,
		client:      &http.Client{Timeout: 20 * time.Second},
		disabled:    disabled,
		now:         time.Now,
	}
}

func (s *SlackActivity) Name() string { return "slack" }

func (s *SlackActivity) Fetch(ctx context.Context) (map[string]any, error) {
	if s.disabled || s.token == "" {
		return nil, ErrSkipped
	}

	identity, err := s.authTest(ctx)
	if err != nil {
		return nil, err
	}

	channels, err := s.botChannels(ctx)
	if err != nil {
		return nil, err
	}

	oldest := s.now().Add(-24 * time.Hour)
	mention := "<@" + identity.UserID + ">"

	recentMessages := 0
	mentions := 0
	checked := 0
	historyFailures := 0
	for _, ch := range channels {
		if checked >= s.maxChannels {
			break
		}
		checked++
		messages, err := s.channelHistory(ctx, ch.ID, oldest)
		if err != nil {
			historyFailures++
			continue
		}
		recentMessages += len(messages)
		for _, text := range messages {
			if strings.Contains(text, mention) {
				mentions++
			}
		}
	}

	payload := map[string]any{
		"team":             identity.Team,
		"bot_user":         identity.User,
		"channels_in":      len(channels),
		"channels_checked": checked,
		"recent_messages":  recentMessages,
		"mentions":         mentions,
	}

	if historyFailures > 0 && historyFailures == checked {
		return nil, newError(s.Name(), UpstreamUnavailable, fmt.Errorf("history failed for all %d channels", checked))
	}
	if historyFailures > 0 {
		return payload, newError(s.Name(), UpstreamUnavailable, fmt.Errorf("history failed for %d of %d channels", historyFailures, checked))
	}
	return payload, nil
}

type slackIdentity struct {
	Team   string
	User   string
	UserID string
}

func (s *SlackActivity) authTest(ctx context.Context) (slackIdentity, error) {
	var result struct {
		OK     bool   `json:"ok"`
		Error  string `json:"error"`
		Team   string `json:"team"`
		User   string `json:"user"`
		UserID string `json:"user_id"`
	}
	if err := s.call(ctx, "auth.test", nil, &result); err != nil {
		return slackIdentity{}, err
	}
	if !result.OK {
		return slackIdentity{}, newError(s.Name(), slackErrorKind(result.Error), fmt.Errorf("auth.test: %s", result.Error))
	}
	return slackIdentity{Team: result.Team, User: result.User, UserID: result.UserID}, nil
}

type slackChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *SlackActivity) botChannels(ctx context.Context) ([]slackChannel, error) {
	params := url.Values{
		"types":            {"public_channel,private_channel"},
		"exclude_archived": {"true"},
		"limit":            {"20"},
	}
	var result struct {
		OK       bool           `json:"ok"`
		Error    string         `json:"error"`
		Channels []slackChannel `json:"channels"`
	}
	if err := s.call(ctx, "users.conversations", params, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, newError(s.Name(), slackErrorKind(result.Error), fmt.Errorf("users.conversations: %s", result.Error))
	}
	return result.Channels, nil
}

func (s *SlackActivity) channelHistory(ctx context.Context, channelID string, oldest time.Time) ([]string, error) {
	params := url.Values{
		"channel": {channelID},
		"oldest":  {fmt.Sprintf("%d", oldest.Unix())},
		"limit":   {"50"},
	}
	var result struct {
		OK       bool   `json:"ok"`
		Error    string `json:"error"`
		Messages []struct {
			Text string `json:"text"`
		} `json:"messages"`
	}
	if err := s.call(ctx, "conversations.history", params, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, newError(s.Name(), slackErrorKind(result.Error), fmt.Errorf("conversations.history: %s", result.Error))
	}
	texts := make([]string, 0, len(result.Messages))
	for _, m := range result.Messages {
		texts = append(texts, m.Text)
	}
	return texts, nil
}

func (s *SlackActivity) call(ctx context.Context, method string, params url.Values, out any) error {
	reqURL := s.baseURL + "/" + method
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return wrapErr(s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError(s.Name(), statusKind(resp.StatusCode), fmt.Errorf("slack %s returned status %d", method, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(s.Name(), MalformedResponse, fmt.Errorf("decode %s: %w", method, err))
	}
	return nil
}

// slackErrorKind classifies Slack's in-band error strings; the HTTP status
// is 200 even for failures.
func slackErrorKind(apiError string) ErrorKind {
	switch apiError {
	case "invalid_auth", "not_authed", "token_revoked", "account_inactive", "missing_scope":
		return AuthFailure
	case "ratelimited", "service_unavailable", "fatal_error", "internal_error":
		return UpstreamUnavailable
	default:
		return MalformedResponse
	}
}
