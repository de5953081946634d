package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAI-compatible request/response types for Ollama (unexported).

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Stream    bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Choices []struct {
		Message ollamaMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Model string `json:"model"`
}

// OllamaModel describes one locally installed model.
type OllamaModel struct {
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	ParameterSize string `json:"parameter_size"`
	Family        string `json:"family"`
}

// Ollama generates against a local Ollama server's OpenAI-compatible API.
// It needs no credentials, which makes it the usual primary link.
type Ollama struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	return &Ollama{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Generate(ctx context.Context, req Request) (*Response, error) {
	body := ollamaChatRequest{
		Model:     o.model,
		Messages:  []ollamaMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
		Stream:    false,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, newProviderError(o.Name(), InvalidResponse, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, newProviderError(o.Name(), InvalidResponse, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		errMsg := extractOllamaError(respBody)
		if errMsg == "" {
			errMsg = string(respBody)
		}
		return nil, newProviderError(o.Name(), statusKind(resp.StatusCode), fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errMsg))
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, newProviderError(o.Name(), InvalidResponse, fmt.Errorf("parse ollama response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return nil, newProviderError(o.Name(), InvalidResponse, fmt.Errorf("ollama response had no choices"))
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

// ListModels queries the Ollama server for installed models via its native API.
func (o *Ollama) ListModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to Ollama at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var tagsResp struct {
		Models []struct {
			Name    string `json:"name"`
			Size    int64  `json:"size"`
			Details struct {
				Family        string `json:"family"`
				ParameterSize string `json:"parameter_size"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	models := make([]OllamaModel, len(tagsResp.Models))
	for i, m := range tagsResp.Models {
		models[i] = OllamaModel{
			// ":latest" is the default tag and adds noise.
			Name:          strings.TrimSuffix(m.Name, ":latest"),
			Size:          m.Size,
			ParameterSize: m.Details.ParameterSize,
			Family:        m.Details.Family,
		}
	}
	return models, nil
}

// Check reports whether the Ollama server is reachable and the configured
// model is installed. A running server without the model would fail every
// generation, so that counts as a failed check.
func (o *Ollama) Check(ctx context.Context) error {
	installed, err := o.ListModels(ctx)
	if err != nil {
		return err
	}
	want := strings.TrimSuffix(o.model, ":latest")
	for _, m := range installed {
		if m.Name == want {
			return nil
		}
	}
	return fmt.Errorf("model %q is not installed (%d models available)", o.model, len(installed))
}

// extractOllamaError parses Ollama's JSON error responses, which arrive
// either as {"error":"message"} or {"error":{"message":"...","type":"..."}}.
func extractOllamaError(body []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	return ""
}
