package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/thinkscotty/daybook/internal/config"
)

const (
	redditLinksPerSub = 5
	redditMinScore    = 10
)

// Reddit pulls the day's top link posts from the configured subreddits.
// The unauthenticated JSON API allows roughly one request per second, so
// fetches across subreddits are spaced out.
type Reddit struct {
	cfg         config.RedditConfig
	httpClient  *http.Client
	baseURL     string
	disabled    bool
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

func NewReddit(cfg config.RedditConfig, disabled bool) *Reddit {
	return &Reddit{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 20 * time.Second},
		baseURL:     "https://www.reddit.com",
		disabled:    disabled,
		minInterval: 1100 * time.Millisecond,
	}
}

func (r *Reddit) Name() string { return "reddit" }

func (r *Reddit) Fetch(ctx context.Context) (map[string]any, error) {
	if r.disabled || len(r.cfg.Subreddits) == 0 {
		return nil, ErrSkipped
	}

	groups := make([]map[string]any, 0, len(r.cfg.Subreddits))
	var problems []string
	for _, sub := range r.cfg.Subreddits {
		links, err := r.topLinks(ctx, sub)
		if err != nil {
			problems = append(problems, fmt.Sprintf("r/%s: %v", sub, err))
			continue
		}
		groups = append(groups, map[string]any{
			"subreddit": sub,
			"links":     links,
		})
	}

	if len(groups) == 0 {
		return nil, newError(r.Name(), UpstreamUnavailable, fmt.Errorf("every subreddit failed: %s", strings.Join(problems, "; ")))
	}

	payload := map[string]any{
		"subreddits": groups,
	}
	if len(problems) > 0 {
		return payload, newError(r.Name(), UpstreamUnavailable, fmt.Errorf("%s", strings.Join(problems, "; ")))
	}
	return payload, nil
}

// topLinks fetches a subreddit's top posts of the day and keeps upvoted
// external links. Self posts, low-score posts, and media hosts are dropped.
func (r *Reddit) topLinks(ctx context.Context, subreddit string) ([]map[string]any, error) {
	if err := r.pace(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/r/%s/top.json?t=day&limit=25", r.baseURL, subreddit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("subreddit not found")
	case http.StatusForbidden:
		return nil, fmt.Errorf("subreddit is private or quarantined")
	default:
		return nil, fmt.Errorf("reddit returned status %d", resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	links := make([]map[string]any, 0, redditLinksPerSub)
	for _, child := range listing.Data.Children {
		if len(links) >= redditLinksPerSub {
			break
		}
		post := child.Data
		if post.IsSelf || post.Score < redditMinScore || isMediaDomain(post.Domain) {
			continue
		}
		links = append(links, map[string]any{
			"title":  strings.TrimSpace(post.Title),
			"url":    post.URL,
			"domain": post.Domain,
			"score":  post.Score,
		})
	}
	return links, nil
}

// pace serializes requests and keeps them at least minInterval apart.
func (r *Reddit) pace(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wait := r.minInterval - time.Since(r.lastRequest); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	r.lastRequest = time.Now()
	return nil
}

// isMediaDomain reports whether a domain is an image or video host rather
// than something worth linking in a digest.
func isMediaDomain(domain string) bool {
	mediaDomains := []string{
		"i.redd.it", "v.redd.it", "imgur.com", "i.imgur.com",
		"youtube.com", "youtu.be", "gfycat.com", "streamable.com",
		"twitter.com", "x.com", "reddit.com",
	}
	domain = strings.ToLower(domain)
	for _, m := range mediaDomains {
		if domain == m || strings.HasSuffix(domain, "."+m) {
			return true
		}
	}
	return false
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
	IsSelf bool   `json:"is_self"`
	Score  int    `json:"score"`
}
