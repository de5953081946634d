// Package slack posts the finished digest. The bot API is preferred when a
// token is configured; an incoming webhook covers the no-bot setup and acts
// as a same-attempt fallback when the bot path fails permanently.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/metrics"
	"github.com/thinkscotty/daybook/internal/models"
)

const (
	slackAPIBaseURL = "https://slack.com/api"

	// Slack rejects chat.postMessage text beyond 40,000 characters.
	maxMessageBytes = 40000

	maxRetryAfter = 5 * time.Minute
)

type DeliveryKind string

const (
	Transient DeliveryKind = "transient"
	Permanent DeliveryKind = "permanent"
)

// DeliveryError is a classified delivery failure. RetryAfter carries the
// server's backoff hint from a 429 when one was sane.
type DeliveryError struct {
	Kind       DeliveryKind
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("delivery %s", e.Kind)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a delivery failure worth retrying.
func IsTransient(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == Transient
}

func transientErr(err error) *DeliveryError { return &DeliveryError{Kind: Transient, Err: err} }
func permanentErr(err error) *DeliveryError { return &DeliveryError{Kind: Permanent, Err: err} }

// Slack API errors that are worth retrying; everything else the API reports
// (invalid_auth, channel_not_found, invalid_payload, ...) will not get
// better on a second attempt.
var transientAPIErrors = map[string]bool{
	"ratelimited":         true,
	"rate_limited":        true,
	"service_unavailable": true,
	"internal_error":      true,
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	botToken   string
	webhookURL string
	channel    string
	retries    int
	backoff    time.Duration
	metrics    *metrics.Metrics
}

func New(cfg config.SlackConfig, secrets config.Secrets, m *metrics.Metrics) *Client {
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := time.Duration(cfg.BackoffSeconds) * time.Second
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    slackAPIBaseURL,
		botToken:   secrets.SlackBotToken,
		webhookURL: secrets.SlackWebhookURL,
		channel:    cfg.Channel,
		retries:    retries,
		backoff:    backoff,
		metrics:    m,
	}
}

// Configured reports whether any transport is available.
func (c *Client) Configured() bool {
	return c.botToken != "" || c.webhookURL != ""
}

// Deliver posts text, retrying transient failures with exponential backoff.
// The attempt count covers everything tried, including the failures.
func (c *Client) Deliver(ctx context.Context, text string) (models.Delivery, error) {
	if !c.Configured() {
		return models.Delivery{}, permanentErr(errors.New("no slack transport configured"))
	}

	text = truncateMessage(text)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt, lastErr); err != nil {
				return models.Delivery{Attempts: attempt}, transientErr(err)
			}
		}

		transport, err := c.attempt(ctx, text)
		success := err == nil
		if c.metrics != nil {
			c.metrics.RecordDeliveryAttempt(success)
		}
		if success {
			return models.Delivery{Attempts: attempt + 1, Transport: transport}, nil
		}

		lastErr = err
		if !IsTransient(err) {
			slog.Error("Delivery failed permanently", "attempt", attempt+1, "error", err)
			return models.Delivery{Attempts: attempt + 1}, err
		}
		slog.Warn("Delivery attempt failed", "attempt", attempt+1, "error", err)
	}

	return models.Delivery{Attempts: c.retries + 1}, lastErr
}

// attempt makes one delivery try. With both transports configured, a
// permanent bot failure falls through to the webhook within the same
// attempt; transient bot failures stay with the bot for the retry loop.
func (c *Client) attempt(ctx context.Context, text string) (string, error) {
	if c.botToken == "" {
		return "webhook", c.postWebhook(ctx, text)
	}

	err := c.postMessage(ctx, text)
	if err == nil {
		return "bot", nil
	}
	if !IsTransient(err) && c.webhookURL != "" {
		slog.Warn("Bot delivery failed permanently, falling back to webhook", "error", err)
		if whErr := c.postWebhook(ctx, text); whErr == nil {
			return "webhook", nil
		}
	}
	return "bot", err
}

// wait sleeps out the backoff before a retry, honoring any server hint and
// the context.
func (c *Client) wait(ctx context.Context, attempt int, lastErr error) error {
	delay := c.backoff * (1 << (attempt - 1))

	var de *DeliveryError
	if errors.As(lastErr, &de) && de.RetryAfter > 0 && de.RetryAfter <= maxRetryAfter {
		delay = de.RetryAfter
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) postMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]any{
		"channel": c.channel,
		"text":    text,
		"mrkdwn":  true,
	})
	if err != nil {
		return permanentErr(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return permanentErr(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures (refused, reset, DNS, timeout) are retryable.
		return transientErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return classifyStatus(resp)
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return transientErr(fmt.Errorf("parse slack response: %w", err))
	}
	if !result.OK {
		err := fmt.Errorf("slack API error: %s", result.Error)
		if transientAPIErrors[result.Error] {
			return transientErr(err)
		}
		return permanentErr(err)
	}
	return nil
}

func (c *Client) postWebhook(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return permanentErr(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return permanentErr(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transientErr(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp)
	}
	return nil
}

// Check verifies the delivery path without posting: auth.test for the bot,
// URL validation for a webhook-only setup.
func (c *Client) Check(ctx context.Context) error {
	if c.botToken != "" {
		return c.authTest(ctx)
	}
	if c.webhookURL != "" {
		u, err := url.Parse(c.webhookURL)
		if err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}
		if u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("webhook URL must be https")
		}
		return nil
	}
	return errors.New("no slack transport configured")
}

func (c *Client) authTest(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/auth.test", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		Team  string `json:"team"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parse slack response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack API error: %s", result.Error)
	}
	return nil
}

func classifyStatus(resp *http.Response) *DeliveryError {
	err := fmt.Errorf("slack returned status %d", resp.StatusCode)
	switch {
	case resp.StatusCode == 429:
		de := transientErr(err)
		if secs, parseErr := strconv.Atoi(resp.Header.Get("Retry-After")); parseErr == nil && secs > 0 {
			de.RetryAfter = time.Duration(secs) * time.Second
		}
		return de
	case resp.StatusCode >= 500:
		return transientErr(err)
	default:
		return permanentErr(err)
	}
}

func truncateMessage(text string) string {
	if len(text) <= maxMessageBytes {
		return text
	}
	const marker = "\n... (truncated)"
	return text[:maxMessageBytes-len(marker)] + marker
}
