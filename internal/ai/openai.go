package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const openaiBaseURL = "https://api.openai.com/v1"

type openaiChatRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_completion_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// OpenAI generates via the chat completions API.
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		baseURL:    openaiBaseURL,
		apiKey:     apiKey,
		model:      model,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	body := openaiChatRequest{
		Model:     o.model,
		Messages:  []openaiMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, newProviderError(o.Name(), InvalidResponse, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, newProviderError(o.Name(), InvalidResponse, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapErr(o.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(o.Name(), err)
	}

	if resp.StatusCode != 200 {
		return nil, newProviderError(o.Name(), statusKind(resp.StatusCode), fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var chatResp openaiChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, newProviderError(o.Name(), InvalidResponse, fmt.Errorf("parse openai response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return nil, newProviderError(o.Name(), InvalidResponse, fmt.Errorf("openai response had no choices"))
	}

	out := &Response{
		Text:  chatResp.Choices[0].Message.Content,
		Model: o.model,
	}
	if chatResp.Usage != nil {
		out.TokensUsed = chatResp.Usage.TotalTokens
	}
	return out, nil
}

// Check verifies the API key against the models endpoint without spending
// any tokens.
func (o *OpenAI) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("openai returned status %d", resp.StatusCode)
	}
	return nil
}
