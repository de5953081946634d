package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validProviders = map[string]bool{"ollama": true, "openai": true, "anthropic": true, "gemini": true}

var validSources = map[string]bool{
	"calendar": true, "gmail": true, "slack": true, "health": true,
	"nutrition": true, "news": true, "reddit": true, "football": true,
	"clickup": true, "sysstats": true, "onthisday": true,
}

var subredditRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	if _, err := c.Schedule.Location(); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if _, _, err := ParseClock(c.Schedule.Morning); err != nil {
		return fmt.Errorf("schedule.morning: %w", err)
	}
	if _, _, err := ParseClock(c.Schedule.Evening); err != nil {
		return fmt.Errorf("schedule.evening: %w", err)
	}
	if c.Schedule.GraceSeconds < 0 {
		return fmt.Errorf("schedule.grace_seconds must not be negative")
	}
	if c.Schedule.RunBudgetSeconds < 0 {
		return fmt.Errorf("schedule.run_budget_seconds must not be negative")
	}
	if c.Aggregate.Parallelism < 1 {
		return fmt.Errorf("aggregate.parallelism must be at least 1")
	}
	if c.Aggregate.SourceTimeoutSeconds < 1 {
		return fmt.Errorf("aggregate.source_timeout_seconds must be at least 1")
	}
	for _, p := range c.Generation.Providers {
		if !validProviders[p] {
			return fmt.Errorf("generation.providers: unknown provider %q", p)
		}
	}
	if c.Generation.MaxTokens < 1 {
		return fmt.Errorf("generation.max_tokens must be at least 1")
	}
	if c.Generation.ProviderTimeoutSeconds < 1 {
		return fmt.Errorf("generation.provider_timeout_seconds must be at least 1")
	}
	if c.Generation.RequestsPerMinute < 1 {
		return fmt.Errorf("generation.requests_per_minute must be at least 1")
	}
	if c.Generation.SourceByteCap < 256 {
		return fmt.Errorf("generation.source_byte_cap must be at least 256")
	}
	if err := validateURL(c.Generation.OllamaBaseURL); err != nil {
		return fmt.Errorf("generation.ollama_base_url: %w", err)
	}
	if c.Slack.Retries < 0 || c.Slack.Retries > 10 {
		return fmt.Errorf("slack.retries %d out of range (0..10)", c.Slack.Retries)
	}
	if c.Slack.BackoffSeconds < 1 {
		return fmt.Errorf("slack.backoff_seconds must be at least 1")
	}
	for _, name := range c.Sources.Disabled {
		if !validSources[name] {
			return fmt.Errorf("sources.disabled: unknown source %q", name)
		}
	}
	if c.Sources.Health.URL != "" {
		if err := validateURL(c.Sources.Health.URL); err != nil {
			return fmt.Errorf("sources.health.url: %w", err)
		}
	}
	for _, f := range c.Sources.News.Feeds {
		if err := validateURL(f); err != nil {
			return fmt.Errorf("sources.news.feeds: %w", err)
		}
	}
	if c.Sources.News.MaxHeadlines < 1 || c.Sources.News.MaxHeadlines > 50 {
		return fmt.Errorf("sources.news.max_headlines %d out of range (1..50)", c.Sources.News.MaxHeadlines)
	}
	for _, s := range c.Sources.Reddit.Subreddits {
		if !subredditRe.MatchString(s) {
			return fmt.Errorf("sources.reddit.subreddits: invalid name %q", s)
		}
	}
	if c.Sources.Football.TeamID < 1 {
		return fmt.Errorf("sources.football.team_id must be positive")
	}
	if c.Similarity.Threshold <= 0 || c.Similarity.Threshold > 1 {
		return fmt.Errorf("similarity.threshold %v out of range (0..1]", c.Similarity.Threshold)
	}
	if c.Similarity.NGramSize < 2 || c.Similarity.NGramSize > 5 {
		return fmt.Errorf("similarity.ngram_size %d out of range (2..5)", c.Similarity.NGramSize)
	}
	if c.Similarity.WindowHours < 1 {
		return fmt.Errorf("similarity.window_hours must be at least 1")
	}
	if c.Similarity.KeepDays < 1 {
		return fmt.Errorf("similarity.keep_days must be at least 1")
	}
	if c.Scraper.MaxArticleBytes < 256 {
		return fmt.Errorf("scraper.max_article_bytes must be at least 256")
	}
	if c.Scraper.TimeoutSeconds < 1 {
		return fmt.Errorf("scraper.timeout_seconds must be at least 1")
	}
	return nil
}

// SourceDisabled reports whether the named source is listed under
// sources.disabled.
func (c Config) SourceDisabled(name string) bool {
	for _, d := range c.Sources.Disabled {
		if d == name {
			return true
		}
	}
	return false
}

func (s ScheduleConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// ParseClock parses a local wall-clock time in "HH:MM" form.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}
