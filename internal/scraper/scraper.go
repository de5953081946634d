package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// Scraper fetches readable article text for headline enrichment.
type Scraper struct {
	userAgent     string
	timeout       time.Duration
	maxBytes      int
	parallelLimit int
}

// Article is the extracted text of one page.
type Article struct {
	URL     string
	Title   string
	Content string
}

// Result pairs a URL with its fetch outcome.
type Result struct {
	URL     string
	Article Article
	Err     error
}

func New(timeout time.Duration, maxBytes int) *Scraper {
	return &Scraper{
		userAgent:     "Daybook/1.0 (Daily Digest; +https://github.com/thinkscotty/daybook)",
		timeout:       timeout,
		maxBytes:      maxBytes,
		parallelLimit: 3,
	}
}

// Fetch extracts the main text of a single article page.
func (s *Scraper) Fetch(ctx context.Context, pageURL string) (Article, error) {
	if err := ctx.Err(); err != nil {
		return Article{}, err
	}
	if err := ValidateURL(pageURL); err != nil {
		return Article{}, err
	}

	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(s.timeout)

	var content strings.Builder
	var title string
	var mu sync.Mutex

	c.OnHTML("title", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		if title == "" {
			title = strings.TrimSpace(e.Text)
		}
	})

	contentSelectors := []string{
		"article", "main", ".content", ".post",
		".article", ".entry-content", "#content", "#main",
	}
	for _, selector := range contentSelectors {
		c.OnHTML(selector, func(e *colly.HTMLElement) {
			mu.Lock()
			defer mu.Unlock()
			text := cleanText(e.Text)
			if len(text) > 100 {
				content.WriteString(text)
				content.WriteString("\n\n")
			}
		})
	}

	c.OnHTML("p", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		text := cleanText(e.Text)
		if len(text) > 50 && len(text) < 2000 {
			content.WriteString(text)
			content.WriteString("\n")
		}
	})

	var scrapeErr error
	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = fmt.Errorf("scrape error for %s: %w (status: %d)", pageURL, err, r.StatusCode)
	})

	if err := c.Visit(pageURL); err != nil {
		return Article{}, fmt.Errorf("failed to visit %s: %w", pageURL, err)
	}
	c.Wait()

	if scrapeErr != nil {
		return Article{}, scrapeErr
	}

	contentStr := content.String()
	if len(contentStr) < 100 {
		return Article{}, fmt.Errorf("insufficient content scraped from %s", pageURL)
	}
	if len(contentStr) > s.maxBytes {
		contentStr = contentStr[:s.maxBytes] + "..."
	}

	return Article{URL: pageURL, Title: title, Content: contentStr}, nil
}

// FetchAll fetches several articles concurrently, bounded by the parallel
// limit. A panicking fetch is reported as that URL's error.
func (s *Scraper) FetchAll(ctx context.Context, urls []string) []Result {
	var results []Result
	var mu sync.Mutex

	sem := make(chan struct{}, s.parallelLimit)
	var wg sync.WaitGroup

	for _, pageURL := range urls {
		select {
		case <-ctx.Done():
			return results
		default:
		}

		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					results = append(results, Result{URL: u, Err: fmt.Errorf("panic while scraping: %v", r)})
					mu.Unlock()
				}
			}()

			sem <- struct{}{}
			defer func() { <-sem }()

			article, err := s.Fetch(ctx, u)

			mu.Lock()
			results = append(results, Result{URL: u, Article: article, Err: err})
			mu.Unlock()
		}(pageURL)
	}

	wg.Wait()
	return results
}

// ValidateURL checks if a URL is valid and uses http/https.
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
