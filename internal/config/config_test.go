package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"07:00", 7, 0, false},
		{"21:30", 21, 30, false},
		{"00:00", 0, 0, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"07:60", 0, 0, true},
		{"7", 0, 0, true},
		{"", 0, 0, true},
		{"seven:00", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := ParseClock(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && (h != tt.hour || m != tt.minute) {
				t.Errorf("ParseClock(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.minute)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }},
		{"bad morning", func(c *Config) { c.Schedule.Morning = "7am" }},
		{"negative grace", func(c *Config) { c.Schedule.GraceSeconds = -1 }},
		{"zero parallelism", func(c *Config) { c.Aggregate.Parallelism = 0 }},
		{"unknown provider", func(c *Config) { c.Generation.Providers = []string{"bard"} }},
		{"bad ollama url", func(c *Config) { c.Generation.OllamaBaseURL = "localhost:11434" }},
		{"unknown disabled source", func(c *Config) { c.Sources.Disabled = []string{"weather"} }},
		{"bad feed url", func(c *Config) { c.Sources.News.Feeds = []string{"ftp://feeds.example.com"} }},
		{"bad subreddit name", func(c *Config) { c.Sources.Reddit.Subreddits = []string{"r/golang"} }},
		{"threshold too high", func(c *Config) { c.Similarity.Threshold = 1.5 }},
		{"zero team", func(c *Config) { c.Sources.Football.TeamID = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error for %s", tt.name)
			}
		})
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
schedule:
  morning: "06:30"
sources:
  disabled: [nutrition]
  football:
    team_id: 64
slack:
  channel: "#digests"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Schedule.Morning != "06:30" {
		t.Errorf("Schedule.Morning = %q, want %q", cfg.Schedule.Morning, "06:30")
	}
	if cfg.Schedule.Evening != "21:00" {
		t.Errorf("Schedule.Evening = %q, want default %q", cfg.Schedule.Evening, "21:00")
	}
	if cfg.Sources.Football.TeamID != 64 {
		t.Errorf("Sources.Football.TeamID = %d, want 64", cfg.Sources.Football.TeamID)
	}
	if !cfg.SourceDisabled("nutrition") {
		t.Error("SourceDisabled(nutrition) = false, want true")
	}
	if cfg.SourceDisabled("news") {
		t.Error("SourceDisabled(news) = true, want false")
	}
	if cfg.Slack.Channel != "#digests" {
		t.Errorf("Slack.Channel = %q, want %q", cfg.Slack.Channel, "#digests")
	}
	if cfg.Aggregate.Parallelism != 8 {
		t.Errorf("Aggregate.Parallelism = %d, want default 8", cfg.Aggregate.Parallelism)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sources.News.MaxHeadlines != 12 {
		t.Errorf("Sources.News.MaxHeadlines = %d, want 12", cfg.Sources.News.MaxHeadlines)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("schedule:\n  morning: \"25:00\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() = nil error, want validation failure")
	}
}
