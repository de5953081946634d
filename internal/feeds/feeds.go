// Package feeds carries the curated default RSS feeds the news source falls
// back to when the config lists none.
package feeds

// Feed is one curated RSS/Atom feed.
type Feed struct {
	Name        string
	URL         string
	Description string
}

// Defaults is the built-in general-news selection used when the config
// lists no feeds of its own.
var Defaults = []Feed{
	{Name: "BBC News", URL: "https://feeds.bbci.co.uk/news/world/rss.xml", Description: "BBC News - World"},
	{Name: "Reuters", URL: "https://www.reutersagency.com/feed/?best-topics=top-news", Description: "Reuters top news"},
	{Name: "AP News", URL: "https://apnews.com/hub/ap-top-news/rss", Description: "Associated Press top stories"},
	{Name: "The Verge", URL: "https://www.theverge.com/rss/index.xml", Description: "The Verge - All Posts"},
	{Name: "Hacker News", URL: "https://news.ycombinator.com/rss", Description: "Hacker News front page"},
}

// DefaultURLs returns just the feed URLs, in order.
func DefaultURLs() []string {
	urls := make([]string, len(Defaults))
	for i, f := range Defaults {
		urls[i] = f.URL
	}
	return urls
}
