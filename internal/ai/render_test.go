package ai

import (
	"strings"
	"testing"
	"time"

	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/models"
)

func testSnapshot(kind models.RunKind) models.Snapshot {
	takenAt := time.Date(2025, time.June, 2, 7, 30, 0, 0, time.UTC)
	return models.Snapshot{
		Kind:    kind,
		TakenAt: takenAt,
		Results: []models.SourceResult{
			{Source: "calendar", Status: models.SourceOK, Payload: map[string]any{
				"today": []map[string]any{
					{"summary": "Standup", "all_day": false, "start": "09:30"},
					{"summary": "Design review", "all_day": false, "start": "14:00"},
				},
				"tomorrow":       []map[string]any{},
				"today_count":    2,
				"tomorrow_count": 0,
			}},
			{Source: "gmail", Status: models.SourcePartial, Payload: map[string]any{
				"unread_count": 7,
				"top_senders":  []string{"alice@example.com"},
			}, Error: "2 message lookups failed"},
			{Source: "slack", Status: models.SourceSkipped},
			{Source: "health", Status: models.SourceOK, Payload: map[string]any{
				"steps": float64(8412), "sleep_hours": 7.2,
			}},
			{Source: "nutrition", Status: models.SourceSkipped},
			{Source: "news", Status: models.SourceFailed, Error: "every news path failed"},
			{Source: "reddit", Status: models.SourceOK, Payload: map[string]any{
				"subreddits": []map[string]any{
					{"subreddit": "golang", "links": []map[string]any{
						{"title": "Go 1.25 released", "url": "https://example.com/go125", "domain": "example.com", "score": 412},
					}},
				},
			}},
			{Source: "football", Status: models.SourceOK, Payload: map[string]any{
				"last_result": map[string]any{
					"home": "Brighton", "away": "Chelsea", "score": "2-1",
					"outcome": "won", "competition": "Premier League", "date": "2025-05-31",
				},
				"next_fixture": map[string]any{
					"opponent": "Arsenal", "home": false, "competition": "Premier League",
					"date": "2025-06-07 15:00 UTC", "days_until": 5,
				},
				"team":     "Brighton",
				"standing": map[string]any{"position": 7, "points": 45, "played": 28, "record": "12W-9D-7L"},
			}},
			{Source: "clickup", Status: models.SourceTimedOut, Error: "clickup: timeout: deadline"},
			{Source: "sysstats", Status: models.SourceOK, Payload: map[string]any{
				"uptime_hours": 102.5, "load_1": 0.4, "memory_used_percent": 61.3,
			}},
			{Source: "onthisday", Status: models.SourceOK, Payload: map[string]any{
				"date": "June 2",
				"events": []map[string]any{
					{"year": 1953, "text": "The coronation of Elizabeth II"},
				},
			}},
		},
	}
}

func testGenConfig() config.GenerationConfig {
	cfg := config.DefaultConfig()
	return cfg.Generation
}

func TestRenderDeterministic(t *testing.T) {
	snap := testSnapshot(models.KindMorning)
	cfg := testGenConfig()

	first := Render(snap, cfg)
	second := Render(snap, cfg)

	if first.Prompt != second.Prompt {
		t.Error("identical snapshots rendered different prompts")
	}
	if first.Kind != models.KindMorning {
		t.Errorf("Kind = %v, want morning", first.Kind)
	}
	if first.MaxTokens != cfg.MaxTokens {
		t.Errorf("MaxTokens = %d, want %d", first.MaxTokens, cfg.MaxTokens)
	}
}

func TestRenderSectionOrder(t *testing.T) {
	req := Render(testSnapshot(models.KindMorning), testGenConfig())

	order := []string{"## Calendar", "## Health", "## Communications", "## News & Sports", "## Productivity"}
	last := -1
	for _, heading := range order {
		idx := strings.Index(req.Prompt, heading)
		if idx < 0 {
			t.Fatalf("prompt is missing %q", heading)
		}
		if idx < last {
			t.Errorf("%q appears before the preceding section", heading)
		}
		last = idx
	}
}

func TestRenderUnavailableNotes(t *testing.T) {
	req := Render(testSnapshot(models.KindMorning), testGenConfig())

	for _, want := range []string{
		"- news: unavailable (failed)",
		"- clickup: unavailable (timed out)",
		"- slack: not configured",
		"Note: gmail returned incomplete data",
	} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt is missing %q", want)
		}
	}

	// Broken sources must not leak payload blocks.
	if strings.Contains(req.Prompt, "```news") {
		t.Error("failed source rendered a payload block")
	}
}

func TestRenderKindInstructions(t *testing.T) {
	morning := Render(testSnapshot(models.KindMorning), testGenConfig())
	evening := Render(testSnapshot(models.KindEvening), testGenConfig())

	if !strings.Contains(morning.Prompt, "MORNING digest") {
		t.Error("morning prompt is missing its instruction block")
	}
	if !strings.Contains(evening.Prompt, "EVENING digest") {
		t.Error("evening prompt is missing its instruction block")
	}
	if morning.Prompt == evening.Prompt {
		t.Error("morning and evening prompts are identical")
	}
	if !strings.Contains(morning.Prompt, "Date: Monday, June 2, 2025") {
		t.Error("prompt is missing the snapshot date")
	}
}

func TestRenderTruncatesLargePayloads(t *testing.T) {
	snap := models.Snapshot{
		Kind:    models.KindMorning,
		TakenAt: time.Date(2025, time.June, 2, 7, 30, 0, 0, time.UTC),
		Results: []models.SourceResult{
			{Source: "news", Status: models.SourceOK, Payload: map[string]any{
				"blob": strings.Repeat("x", 10000),
			}},
		},
	}
	cfg := testGenConfig()
	cfg.SourceByteCap = 500

	req := Render(snap, cfg)
	if !strings.Contains(req.Prompt, "[truncated]") {
		t.Error("oversized payload was not truncated")
	}
	if strings.Count(req.Prompt, "x") > 600 {
		t.Errorf("truncated payload still carries %d bytes of blob", strings.Count(req.Prompt, "x"))
	}
}

func TestTruncateBytes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"under cap", "short", 100, "short"},
		{"at cap", "12345", 5, "12345"},
		{"over cap", "123456", 5, "12345\n[truncated]"},
		{"zero cap disables", "123456", 0, "123456"},
		{"rune boundary", "aé", 2, "a\n[truncated]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateBytes(tt.in, tt.max); got != tt.want {
				t.Errorf("truncateBytes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}
