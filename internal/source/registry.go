package source

import (
	"time"

	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/scraper"
	"github.com/thinkscotty/daybook/internal/similarity"
)

// Registry builds every connector in digest order. Connectors are always
// constructed; ones that are disabled or missing credentials report skipped
// from Fetch rather than being absent from the snapshot.
func Registry(cfg config.Config, tokens TokenSource, store HeadlineStore, checker *similarity.Checker, scr *scraper.Scraper, loc *time.Location) []Source {
	sec := cfg.Secrets
	return []Source{
		NewCalendar(cfg.Sources.Calendar, tokens, loc, cfg.SourceDisabled("calendar")),
		NewGmail(cfg.Sources.Gmail, tokens, cfg.SourceDisabled("gmail")),
		NewSlackActivity(cfg.Sources.Slack, sec.SlackBotToken, cfg.SourceDisabled("slack")),
		NewHealth(cfg.Sources.Health, cfg.SourceDisabled("health")),
		NewNutrition(cfg.Sources.Nutrition, sec.MFPUsername, cfg.SourceDisabled("nutrition")),
		NewNews(cfg.Sources.News, cfg.Similarity, sec.NewsAPIKey, store, checker, scr, cfg.SourceDisabled("news")),
		NewReddit(cfg.Sources.Reddit, cfg.SourceDisabled("reddit")),
		NewFootball(cfg.Sources.Football, sec.FootballDataKey, cfg.SourceDisabled("football")),
		NewClickUp(sec.ClickUpToken, cfg.SourceDisabled("clickup")),
		NewSysStats(cfg.SourceDisabled("sysstats")),
		NewOnThisDay(loc, cfg.SourceDisabled("onthisday")),
	}
}
