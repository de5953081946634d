package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/feeds"
	"github.com/thinkscotty/daybook/internal/models"
	"github.com/thinkscotty/daybook/internal/scraper"
	"github.com/thinkscotty/daybook/internal/similarity"
)

const newsAPIBaseURL = "https://newsapi.org"

const (
	itemsPerFeed = 5
	enrichCount  = 3
	excerptCap   = 500
)

// HeadlineStore remembers delivered headlines for freshness filtering.
type HeadlineStore interface {
	RecentHeadlines(since time.Time) ([]models.Headline, error)
	SaveHeadlines(hs []models.Headline) error
	PruneHeadlines(keepDays int) (int64, error)
}

// News assembles headlines from NewsAPI (when a key is configured) and RSS
// feeds, drops anything too similar to recently delivered stories, and
// enriches the top few with article text. Individual path failures degrade
// the payload; the source only fails outright when every path failed.
type News struct {
	cfg         config.NewsConfig
	apiKey      string
	store       HeadlineStore
	checker     *similarity.Checker
	scraper     *scraper.Scraper
	parser      *gofeed.Parser
	client      *http.Client
	baseURL     string
	windowHours int
	keepDays    int
	disabled    bool
	now         func() time.Time
}

func NewNews(cfg config.NewsConfig, sim config.SimilarityConfig, apiKey string, store HeadlineStore, checker *similarity.Checker, scr *scraper.Scraper, disabled bool) *News {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &News{
		cfg:         cfg,
		apiKey:      apiKey,
		store:       store,
		checker:     checker,
		scraper:     scr,
		parser:      parser,
		client:      &http.Client{Timeout: 20 * time.Second},
		baseURL:     newsAPIBaseURL,
		windowHours: sim.WindowHours,
		keepDays:    sim.KeepDays,
		disabled:    disabled,
		now:         time.Now,
	}
}

func (n *News) Name() string { return "news" }

type headline struct {
	Title  string
	URL    string
	Source string
}

func (n *News) Fetch(ctx context.Context) (map[string]any, error) {
	if n.disabled {
		return nil, ErrSkipped
	}

	var candidates []headline
	var problems []string

	if n.apiKey != "" {
		articles, err := n.topHeadlines(ctx)
		if err != nil {
			problems = append(problems, fmt.Sprintf("newsapi: %v", err))
		} else {
			candidates = append(candidates, articles...)
		}
	}

	feedURLs := n.cfg.Feeds
	if len(feedURLs) == 0 {
		feedURLs = feeds.DefaultURLs()
	}
	feedFailures := 0
	for _, feedURL := range feedURLs {
		feed, err := n.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			feedFailures++
			continue
		}
		for i, item := range feed.Items {
			if i >= itemsPerFeed {
				break
			}
			candidates = append(candidates, headline{
				Title:  strings.TrimSpace(item.Title),
				URL:    item.Link,
				Source: feed.Title,
			})
		}
	}
	if feedFailures > 0 {
		problems = append(problems, fmt.Sprintf("%d of %d feeds failed", feedFailures, len(feedURLs)))
	}

	if len(candidates) == 0 && len(problems) > 0 {
		return nil, newError(n.Name(), UpstreamUnavailable, fmt.Errorf("every news path failed: %s", strings.Join(problems, "; ")))
	}

	fresh, duplicates, storeProblem := n.filterFresh(candidates)
	if storeProblem != "" {
		problems = append(problems, storeProblem)
	}

	excerpts := n.enrich(ctx, fresh)

	entries := make([]map[string]any, 0, len(fresh))
	for _, h := range fresh {
		entry := map[string]any{
			"title":  h.Title,
			"source": h.Source,
		}
		if h.URL != "" {
			entry["url"] = h.URL
		}
		if excerpt, ok := excerpts[h.URL]; ok {
			entry["excerpt"] = excerpt
		}
		entries = append(entries, entry)
	}

	payload := map[string]any{
		"headlines":           entries,
		"count":               len(entries),
		"filtered_duplicates": duplicates,
		"feeds_used":          len(feedURLs) - feedFailures,
	}

	if len(problems) > 0 {
		return payload, newError(n.Name(), UpstreamUnavailable, fmt.Errorf("%s", strings.Join(problems, "; ")))
	}
	return payload, nil
}

// filterFresh drops candidates too similar to recently delivered headlines
// (and to each other), caps the list, and records what it kept.
func (n *News) filterFresh(candidates []headline) (fresh []headline, duplicates int, problem string) {
	var seen []similarity.StoredTrigrams
	recent, err := n.store.RecentHeadlines(n.now().Add(-time.Duration(n.windowHours) * time.Hour))
	if err != nil {
		problem = fmt.Sprintf("headline history unavailable: %v", err)
	} else {
		for _, h := range recent {
			seen = append(seen, similarity.StoredTrigrams{ID: h.ID, Trigrams: h.Trigrams})
		}
	}

	for _, cand := range candidates {
		if cand.Title == "" {
			continue
		}
		if len(fresh) >= n.cfg.MaxHeadlines {
			break
		}
		if n.checker.IsTooSimilar(cand.Title, seen) {
			duplicates++
			continue
		}
		fresh = append(fresh, cand)
		seen = append(seen, similarity.StoredTrigrams{Trigrams: n.checker.Fingerprint(cand.Title)})
	}

	if len(fresh) > 0 {
		toSave := make([]models.Headline, len(fresh))
		for i, h := range fresh {
			toSave[i] = models.Headline{Title: h.Title, Trigrams: n.checker.Fingerprint(h.Title)}
		}
		if err := n.store.SaveHeadlines(toSave); err != nil {
			problem = fmt.Sprintf("saving headlines failed: %v", err)
		}
		if _, err := n.store.PruneHeadlines(n.keepDays); err != nil {
			slog.Debug("Headline prune failed", "error", err)
		}
	}
	return fresh, duplicates, problem
}

// enrich fetches article text for the top headlines that carry a URL.
func (n *News) enrich(ctx context.Context, fresh []headline) map[string]string {
	var urls []string
	for _, h := range fresh {
		if len(urls) >= enrichCount {
			break
		}
		if h.URL != "" {
			urls = append(urls, h.URL)
		}
	}
	excerpts := make(map[string]string)
	if len(urls) == 0 {
		return excerpts
	}
	for _, res := range n.scraper.FetchAll(ctx, urls) {
		if res.Err != nil {
			continue
		}
		content := res.Article.Content
		if len(content) > excerptCap {
			content = content[:excerptCap] + "..."
		}
		excerpts[res.URL] = content
	}
	return excerpts
}

func (n *News) topHeadlines(ctx context.Context) ([]headline, error) {
	params := url.Values{
		"country":  {n.cfg.Country},
		"category": {n.cfg.Category},
		"pageSize": {"20"},
	}
	reqURL := fmt.Sprintf("%s/v2/top-headlines?%s", n.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", n.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, wrapErr(n.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(n.Name(), statusKind(resp.StatusCode), fmt.Errorf("newsapi returned status %d", resp.StatusCode))
	}

	var result struct {
		Status   string `json:"status"`
		Code     string `json:"code"`
		Message  string `json:"message"`
		Articles []struct {
			Title  string `json:"title"`
			URL    string `json:"url"`
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, newError(n.Name(), MalformedResponse, fmt.Errorf("decode newsapi response: %w", err))
	}
	if result.Status != "ok" {
		kind := MalformedResponse
		switch result.Code {
		case "apiKeyInvalid", "apiKeyMissing", "apiKeyDisabled":
			kind = AuthFailure
		case "rateLimited":
			kind = UpstreamUnavailable
		}
		return nil, newError(n.Name(), kind, fmt.Errorf("newsapi: %s (%s)", result.Message, result.Code))
	}

	headlines := make([]headline, 0, len(result.Articles))
	for _, a := range result.Articles {
		headlines = append(headlines, headline{
			Title:  strings.TrimSpace(a.Title),
			URL:    a.URL,
			Source: a.Source.Name,
		})
	}
	return headlines, nil
}
