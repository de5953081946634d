package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Aggregate  AggregateConfig  `yaml:"aggregate"`
	Generation GenerationConfig `yaml:"generation"`
	Slack      SlackConfig      `yaml:"slack"`
	Sources    SourcesConfig    `yaml:"sources"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Scraper    ScraperConfig    `yaml:"scraper"`

	// Secrets are resolved from the environment, never from YAML.
	Secrets Secrets `yaml:"-"`
}

type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ScheduleConfig struct {
	Timezone         string `yaml:"timezone"`
	Morning          string `yaml:"morning"` // "HH:MM" local wall clock
	Evening          string `yaml:"evening"`
	GraceSeconds     int    `yaml:"grace_seconds"`
	RunBudgetSeconds int    `yaml:"run_budget_seconds"` // 0 = derive from timeouts
}

type AggregateConfig struct {
	Parallelism          int `yaml:"parallelism"`
	SourceTimeoutSeconds int `yaml:"source_timeout_seconds"`
}

type GenerationConfig struct {
	Providers              []string `yaml:"providers"` // ordered; template is always appended last
	MaxTokens              int      `yaml:"max_tokens"`
	ProviderTimeoutSeconds int      `yaml:"provider_timeout_seconds"`
	RequestsPerMinute      int      `yaml:"requests_per_minute"`
	SourceByteCap          int      `yaml:"source_byte_cap"` // per-source JSON budget in the prompt
	OllamaBaseURL          string   `yaml:"ollama_base_url"`
	OllamaModel            string   `yaml:"ollama_model"`
	OpenAIModel            string   `yaml:"openai_model"`
	AnthropicModel         string   `yaml:"anthropic_model"`
	GeminiModel            string   `yaml:"gemini_model"`
}

type SlackConfig struct {
	Channel        string `yaml:"channel"`
	Retries        int    `yaml:"retries"` // additional attempts after the first
	BackoffSeconds int    `yaml:"backoff_seconds"`
}

type SourcesConfig struct {
	Disabled  []string        `yaml:"disabled"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Gmail     GmailConfig     `yaml:"gmail"`
	Slack     SlackReadConfig `yaml:"slack"`
	Health    HealthConfig    `yaml:"health"`
	Nutrition NutritionConfig `yaml:"nutrition"`
	News      NewsConfig      `yaml:"news"`
	Reddit    RedditConfig    `yaml:"reddit"`
	Football  FootballConfig  `yaml:"football"`
}

type CalendarConfig struct {
	CalendarID string `yaml:"calendar_id"`
}

type GmailConfig struct {
	Query       string `yaml:"query"`
	MaxMessages int    `yaml:"max_messages"`
}

type SlackReadConfig struct {
	MaxChannels int `yaml:"max_channels"`
}

type HealthConfig struct {
	URL string `yaml:"url"`
}

type NutritionConfig struct {
	Username string `yaml:"username"`
}

type NewsConfig struct {
	Country      string   `yaml:"country"`
	Category     string   `yaml:"category"`
	Feeds        []string `yaml:"feeds"`
	MaxHeadlines int      `yaml:"max_headlines"`
}

// RedditConfig lists subreddits by bare name ("golang", not "r/golang").
// The source is skipped when the list is empty.
type RedditConfig struct {
	Subreddits []string `yaml:"subreddits"`
}

type FootballConfig struct {
	TeamID      int    `yaml:"team_id"`
	Competition string `yaml:"competition"`
}

type SimilarityConfig struct {
	Threshold   float64 `yaml:"threshold"`
	NGramSize   int     `yaml:"ngram_size"`
	WindowHours int     `yaml:"window_hours"`
	KeepDays    int     `yaml:"keep_days"`
}

type ScraperConfig struct {
	MaxArticleBytes int `yaml:"max_article_bytes"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
}

type Secrets struct {
	SlackBotToken      string
	SlackWebhookURL    string
	OpenAIKey          string
	AnthropicKey       string
	GeminiKey          string
	NewsAPIKey         string
	FootballDataKey    string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRefreshToken string
	MFPUsername        string
	ClickUpToken       string
	OpsToken           string
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			Path: "./daybook.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Schedule: ScheduleConfig{
			Timezone:         "America/New_York",
			Morning:          "07:00",
			Evening:          "21:00",
			GraceSeconds:     300,
			RunBudgetSeconds: 0,
		},
		Aggregate: AggregateConfig{
			Parallelism:          8,
			SourceTimeoutSeconds: 30,
		},
		Generation: GenerationConfig{
			Providers:              []string{"ollama", "openai", "anthropic"},
			MaxTokens:              1500,
			ProviderTimeoutSeconds: 60,
			RequestsPerMinute:      30,
			SourceByteCap:          4096,
			OllamaBaseURL:          "http://localhost:11434",
			OllamaModel:            "llama3.2",
			OpenAIModel:            "gpt-4o-mini",
			AnthropicModel:         "claude-3-5-sonnet-20241022",
			GeminiModel:            "gemini-2.5-flash",
		},
		Slack: SlackConfig{
			Channel:        "",
			Retries:        3,
			BackoffSeconds: 2,
		},
		Sources: SourcesConfig{
			Calendar: CalendarConfig{CalendarID: "primary"},
			Gmail: GmailConfig{
				Query:       "is:unread newer_than:1d",
				MaxMessages: 10,
			},
			Slack: SlackReadConfig{MaxChannels: 5},
			News: NewsConfig{
				Country:      "us",
				Category:     "technology",
				MaxHeadlines: 12,
			},
			Football: FootballConfig{
				TeamID:      61,
				Competition: "PL",
			},
		},
		Similarity: SimilarityConfig{
			Threshold:   0.55,
			NGramSize:   3,
			WindowHours: 48,
			KeepDays:    14,
		},
		Scraper: ScraperConfig{
			MaxArticleBytes: 4000,
			TimeoutSeconds:  15,
		},
	}
}

// Load reads a YAML config file and merges it over defaults, then resolves
// secrets from the environment and validates the result. If the file does not
// exist, defaults are used without error.
func Load(path string) (Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No config file found, using defaults", "path", path)
		} else {
			return cfg, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	cfg.Secrets = loadSecrets()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadSecrets() Secrets {
	return Secrets{
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackWebhookURL:    os.Getenv("SLACK_WEBHOOK_URL"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:       os.Getenv("ANTHROPIC_API_KEY"),
		GeminiKey:          os.Getenv("GEMINI_API_KEY"),
		NewsAPIKey:         os.Getenv("NEWSAPI_KEY"),
		FootballDataKey:    os.Getenv("FOOTBALL_DATA_KEY"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRefreshToken: os.Getenv("GOOGLE_REFRESH_TOKEN"),
		MFPUsername:        os.Getenv("MFP_USERNAME"),
		ClickUpToken:       os.Getenv("CLICKUP_API_TOKEN"),
		OpsToken:           os.Getenv("DAYBOOK_OPS_TOKEN"),
	}
}
