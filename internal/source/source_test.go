package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/models"
	"github.com/thinkscotty/daybook/internal/scraper"
	"github.com/thinkscotty/daybook/internal/similarity"
)

func TestStatusKind(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{401, AuthFailure},
		{403, AuthFailure},
		{429, UpstreamUnavailable},
		{500, UpstreamUnavailable},
		{502, UpstreamUnavailable},
		{503, UpstreamUnavailable},
		{400, MalformedResponse},
		{404, MalformedResponse},
		{418, MalformedResponse},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.code), func(t *testing.T) {
			if got := statusKind(tt.code); got != tt.want {
				t.Errorf("statusKind(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline exceeded", context.DeadlineExceeded, Timeout},
		{"canceled", context.Canceled, Timeout},
		{"wrapped deadline", fmt.Errorf("do request: %w", context.DeadlineExceeded), Timeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, Timeout},
		{"connection refused", errors.New("connection refused"), UpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapErr("test", tt.err)
			if !IsKind(got, tt.want) {
				t.Errorf("wrapErr(%v) kind = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := newError("news", UpstreamUnavailable, errors.New("status 502"))
	wrapped := fmt.Errorf("fetch: %w", err)

	if !IsKind(wrapped, UpstreamUnavailable) {
		t.Error("IsKind did not find the kind through wrapping")
	}
	if IsKind(wrapped, Timeout) {
		t.Error("IsKind matched the wrong kind")
	}
	if IsKind(errors.New("plain"), UpstreamUnavailable) {
		t.Error("IsKind matched a plain error")
	}
}

func TestErrorString(t *testing.T) {
	err := newError("football", AuthFailure, errors.New("status 403"))
	want := "football: auth_failure: status 403"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestTopSenders(t *testing.T) {
	counts := map[string]int{
		"alice@example.com":   3,
		"bob@example.com":     5,
		"carol@example.com":   3,
		"dave@example.com":    1,
		"erin@example.com":    1,
		"mallory@example.com": 1,
	}

	got := topSenders(counts, 5)
	want := []string{
		"bob@example.com",
		"alice@example.com",
		"carol@example.com",
		"dave@example.com",
		"erin@example.com",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("topSenders() = %v, want %v", got, want)
	}

	if got := topSenders(map[string]int{}, 5); len(got) != 0 {
		t.Errorf("topSenders(empty) = %v, want empty", got)
	}
}

func TestParseDiaryNumber(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"1,847", 1847},
		{" 213 ", 213},
		{"98g", 98},
		{"2000 kcal", 2000},
		{"", 0},
		{"--", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseDiaryNumber(tt.in); got != tt.want {
				t.Errorf("parseDiaryNumber(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegistryOrder(t *testing.T) {
	srcs := testRegistry(t)

	want := []string{
		"calendar", "gmail", "slack", "health", "nutrition",
		"news", "reddit", "football", "clickup", "sysstats", "onthisday",
	}
	if len(srcs) != len(want) {
		t.Fatalf("Registry() returned %d sources, want %d", len(srcs), len(want))
	}
	for i, s := range srcs {
		if s.Name() != want[i] {
			t.Errorf("Registry()[%d] = %q, want %q", i, s.Name(), want[i])
		}
	}
}

func TestDisabledSourceSkips(t *testing.T) {
	s := NewSysStats(true)
	_, err := s.Fetch(context.Background())
	if !errors.Is(err, ErrSkipped) {
		t.Errorf("Fetch() on disabled source = %v, want ErrSkipped", err)
	}
}

// stubTokens satisfies TokenSource without any Google credentials.
type stubTokens struct{}

func (stubTokens) Token(ctx context.Context, key string) (string, error) { return "", nil }
func (stubTokens) Configured() bool                                      { return false }

type stubHeadlines struct{}

func (stubHeadlines) RecentHeadlines(since time.Time) ([]models.Headline, error) { return nil, nil }
func (stubHeadlines) SaveHeadlines(hs []models.Headline) error                   { return nil }
func (stubHeadlines) PruneHeadlines(keepDays int) (int64, error)                 { return 0, nil }

func testRegistry(t *testing.T) []Source {
	t.Helper()
	cfg := config.DefaultConfig()
	checker := similarity.New(cfg.Similarity.Threshold, cfg.Similarity.NGramSize)
	scr := scraper.New(10*time.Second, cfg.Scraper.MaxArticleBytes)
	return Registry(cfg, stubTokens{}, stubHeadlines{}, checker, scr, time.UTC)
}
