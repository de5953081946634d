package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const articlePage = `<html>
<head><title>Go 1.25 Release Notes</title></head>
<body>
<article>The Go team is pleased to announce the release of Go 1.25, which includes
improvements to the toolchain, the runtime, and the standard library while keeping
the compatibility promise intact.</article>
<p>Short.</p>
<p>This paragraph carries enough characters to clear the fifty character floor for inclusion.</p>
</body>
</html>`

func TestFetchExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.UserAgent(); !strings.HasPrefix(ua, "Daybook/1.0") {
			t.Errorf("User-Agent = %q, want Daybook/1.0 prefix", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	article, err := New(5*time.Second, 64*1024).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if article.Title != "Go 1.25 Release Notes" {
		t.Errorf("Title = %q, want Go 1.25 Release Notes", article.Title)
	}
	if article.URL != srv.URL {
		t.Errorf("URL = %q, want %q", article.URL, srv.URL)
	}
	if !strings.Contains(article.Content, "announce the release of Go 1.25") {
		t.Errorf("Content missing article body: %q", article.Content)
	}
	if !strings.Contains(article.Content, "fifty character floor") {
		t.Errorf("Content missing long paragraph: %q", article.Content)
	}
	if strings.Contains(article.Content, "Short.") {
		t.Errorf("Content includes paragraph below the length floor: %q", article.Content)
	}
}

func TestFetchInsufficientContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Stub</title></head><body><p>Too short.</p></body></html>`))
	}))
	defer srv.Close()

	_, err := New(5*time.Second, 64*1024).Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "insufficient content") {
		t.Errorf("Fetch() error = %v, want insufficient content", err)
	}
}

func TestFetchTruncatesAtMaxBytes(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 30)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><article>" + long + "</article></body></html>"))
	}))
	defer srv.Close()

	article, err := New(5*time.Second, 120).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(article.Content) != 120+len("...") {
		t.Errorf("len(Content) = %d, want cap plus ellipsis", len(article.Content))
	}
	if !strings.HasSuffix(article.Content, "...") {
		t.Errorf("truncated content does not end in ellipsis: %q", article.Content)
	}
}

func TestFetchRejectsNonHTTPURL(t *testing.T) {
	_, err := New(5*time.Second, 64*1024).Fetch(context.Background(), "ftp://example.com/file")
	if err == nil {
		t.Fatal("Fetch() accepted a non-HTTP URL")
	}
}

func TestFetchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(5*time.Second, 64*1024).Fetch(ctx, "https://example.com/article")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
}

func TestFetchAllOneResultPerURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a", srv.URL + "/b", "ftp://bad.example/file"}
	results := New(5*time.Second, 64*1024).FetchAll(context.Background(), urls)
	if len(results) != len(urls) {
		t.Fatalf("got %d results, want %d", len(results), len(urls))
	}

	byURL := make(map[string]Result, len(results))
	for _, res := range results {
		byURL[res.URL] = res
	}
	for _, u := range urls {
		if _, ok := byURL[u]; !ok {
			t.Errorf("no result for %s", u)
		}
	}
	if res := byURL["ftp://bad.example/file"]; res.Err == nil {
		t.Error("invalid URL reported no error")
	}
	for _, u := range urls[:2] {
		if res := byURL[u]; res.Err != nil {
			t.Errorf("fetch %s: %v", u, res.Err)
		}
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://example.com/article", false},
		{"http", "http://example.com", false},
		{"ftp scheme", "ftp://example.com/file", true},
		{"missing scheme", "example.com/article", true},
		{"missing host", "https:///article", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
