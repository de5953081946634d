package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/thinkscotty/daybook/internal/auth"
	"github.com/thinkscotty/daybook/internal/config"
)

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1"

// Gmail summarizes the unread inbox: count, senders, subject lines.
type Gmail struct {
	tokens      TokenSource
	query       string
	maxMessages int
	baseURL     string
	client      *http.Client
	disabled    bool
}

func NewGmail(cfg config.GmailConfig, tokens TokenSource, disabled bool) *Gmail {
	return &Gmail{
		tokens:      tokens,
		query:       cfg.Query,
		maxMessages: cfg.MaxMessages,
		baseURL:     gmailBaseURL,
		client:      &http.Client{Timeout: 20 * time.Second},
		disabled:    disabled,
	}
}

func (g *Gmail) Name() string { return "gmail" }

func (g *Gmail) Fetch(ctx context.Context) (map[string]any, error) {
	if g.disabled || !g.tokens.Configured() {
		return nil, ErrSkipped
	}

	token, err := g.tokens.Token(ctx, googleTokenKey)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			return nil, ErrSkipped
		}
		if errors.Is(err, auth.ErrRefreshRejected) {
			return nil, newError(g.Name(), AuthFailure, err)
		}
		return nil, wrapErr(g.Name(), err)
	}

	ids, estimate, err := g.listMessages(ctx, token)
	if err != nil {
		return nil, err
	}

	var messages []map[string]any
	senders := make(map[string]int)
	lookupFailures := 0
	for _, id := range ids {
		if len(messages) >= g.maxMessages {
			break
		}
		from, subject, err := g.messageMetadata(ctx, token, id)
		if err != nil {
			lookupFailures++
			continue
		}
		messages = append(messages, map[string]any{
			"from":    from,
			"subject": subject,
		})
		senders[from]++
	}

	payload := map[string]any{
		"unread_count": estimate,
		"messages":     messages,
		"top_senders":  topSenders(senders, 5),
	}

	if lookupFailures > 0 && len(messages) == 0 {
		return nil, newError(g.Name(), UpstreamUnavailable, fmt.Errorf("all %d message lookups failed", lookupFailures))
	}
	if lookupFailures > 0 {
		return payload, newError(g.Name(), UpstreamUnavailable, fmt.Errorf("%d message lookups failed", lookupFailures))
	}
	return payload, nil
}

func (g *Gmail) listMessages(ctx context.Context, token string) ([]string, int, error) {
	params := url.Values{
		"q":          {g.query},
		"maxResults": {fmt.Sprintf("%d", g.maxMessages)},
	}
	reqURL := fmt.Sprintf("%s/users/me/messages?%s", g.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, wrapErr(g.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, newError(g.Name(), statusKind(resp.StatusCode), fmt.Errorf("gmail list returned status %d", resp.StatusCode))
	}

	var result struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
		ResultSizeEstimate int `json:"resultSizeEstimate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, 0, newError(g.Name(), MalformedResponse, fmt.Errorf("decode message list: %w", err))
	}

	ids := make([]string, 0, len(result.Messages))
	for _, m := range result.Messages {
		ids = append(ids, m.ID)
	}
	return ids, result.ResultSizeEstimate, nil
}

func (g *Gmail) messageMetadata(ctx context.Context, token, id string) (from, subject string, err error) {
	reqURL := fmt.Sprintf("%s/users/me/messages/%s?format=metadata&metadataHeaders=From&metadataHeaders=Subject", g.baseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", "", wrapErr(g.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", newError(g.Name(), statusKind(resp.StatusCode), fmt.Errorf("gmail message returned status %d", resp.StatusCode))
	}

	var result struct {
		Payload struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", newError(g.Name(), MalformedResponse, fmt.Errorf("decode message: %w", err))
	}

	for _, h := range result.Payload.Headers {
		switch h.Name {
		case "From":
			from = h.Value
		case "Subject":
			subject = h.Value
		}
	}
	return from, subject, nil
}

func topSenders(counts map[string]int, limit int) []string {
	type sender struct {
		name  string
		count int
	}
	ranked := make([]sender, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, sender{name, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].name < ranked[j].name
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	names := make([]string, len(ranked))
	for i, s := range ranked {
		names[i] = s.name
	}
	return names
}
