package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/metrics"
	"github.com/thinkscotty/daybook/internal/models"
)

// Chain tries providers strictly in order and stops at the first success.
// The template formatter is always the last link, so generation only fails
// when the run's budget is already gone.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
}

// CheckResult is one target's connectivity probe outcome.
type CheckResult struct {
	Target string
	Err    error
}

// NewChain builds the provider chain from config order, dropping remote
// providers whose credentials are absent, then appends the template.
func NewChain(cfg config.GenerationConfig, secrets config.Secrets, m *metrics.Metrics) *Chain {
	var providers []Provider
	for _, name := range cfg.Providers {
		switch name {
		case "ollama":
			providers = append(providers, NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel))
		case "openai":
			if secrets.OpenAIKey == "" {
				slog.Info("Skipping openai provider; OPENAI_API_KEY not set")
				continue
			}
			providers = append(providers, NewOpenAI(secrets.OpenAIKey, cfg.OpenAIModel))
		case "anthropic":
			if secrets.AnthropicKey == "" {
				slog.Info("Skipping anthropic provider; ANTHROPIC_API_KEY not set")
				continue
			}
			providers = append(providers, NewAnthropic(secrets.AnthropicKey, cfg.AnthropicModel))
		case "gemini":
			if secrets.GeminiKey == "" {
				slog.Info("Skipping gemini provider; GEMINI_API_KEY not set")
				continue
			}
			providers = append(providers, NewGemini(secrets.GeminiKey, cfg.GeminiModel))
		}
	}
	providers = append(providers, NewTemplate())

	timeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &Chain{
		providers: providers,
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		metrics:   m,
	}
}

// Len is the number of links, template included. The scheduler sizes run
// budgets from it.
func (c *Chain) Len() int { return len(c.providers) }

// Generate walks the chain. A provider is consulted only after every earlier
// one failed; empty or whitespace-only text counts as failure.
func (c *Chain) Generate(ctx context.Context, req Request) (models.Generation, error) {
	var lastErr error
	for i, p := range c.providers {
		if _, isTemplate := p.(*Template); !isTemplate {
			if err := c.limiter.Wait(ctx); err != nil {
				lastErr = err
				continue
			}
		}

		provCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := p.Generate(provCtx, req)
		cancel()

		if err == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
			err = newProviderError(p.Name(), InvalidResponse, fmt.Errorf("empty response text"))
		}
		if err != nil {
			lastErr = err
			if c.metrics != nil {
				c.metrics.RecordProviderRequest(p.Name(), false)
			}
			slog.Warn("Provider failed, trying next", "provider", p.Name(), "ordinal", i, "error", err)
			continue
		}

		if c.metrics != nil {
			c.metrics.RecordProviderRequest(p.Name(), true)
		}
		if i > 0 {
			slog.Info("Generation fell back past the primary provider", "provider", p.Name(), "ordinal", i)
		}
		return models.Generation{
			Text:         resp.Text,
			ProviderUsed: i,
			ProviderName: p.Name(),
			Degraded:     i != 0,
			TokensUsed:   resp.TokensUsed,
		}, nil
	}
	return models.Generation{}, fmt.Errorf("all providers failed: %w", lastErr)
}

// Checks probes every provider that supports it, in chain order. The
// template has no backend and is left out.
func (c *Chain) Checks(ctx context.Context) []CheckResult {
	var out []CheckResult
	for _, p := range c.providers {
		if checker, ok := p.(Checker); ok {
			out = append(out, CheckResult{Target: p.Name(), Err: checker.Check(ctx)})
		}
	}
	return out
}
