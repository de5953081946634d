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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiGenerateRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

// Gemini generates via the Google generative language API. The key travels
// as a query parameter, which is how that API authenticates.
type Gemini struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		baseURL:    geminiBaseURL,
		apiKey:     apiKey,
		model:      model,
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	body := geminiGenerateRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
		GenerationConfig: &geminiGenConfig{MaxOutputTokens: req.MaxTokens},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, newProviderError(g.Name(), InvalidResponse, fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, newProviderError(g.Name(), InvalidResponse, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapErr(g.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(g.Name(), err)
	}

	if resp.StatusCode != 200 {
		return nil, newProviderError(g.Name(), statusKind(resp.StatusCode), fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var genResp geminiGenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, newProviderError(g.Name(), InvalidResponse, fmt.Errorf("parse gemini response: %w", err))
	}
	if len(genResp.Candidates) == 0 {
		return nil, newProviderError(g.Name(), InvalidResponse, fmt.Errorf("gemini response had no candidates"))
	}

	var sb strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	out := &Response{
		Text:  sb.String(),
		Model: g.model,
	}
	if genResp.UsageMetadata != nil {
		out.TokensUsed = genResp.UsageMetadata.TotalTokenCount
	}
	return out, nil
}

// Check verifies the API key against the model listing endpoint without
// spending any tokens.
func (g *Gemini) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", g.baseURL+"/models?key="+g.apiKey, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}
	return nil
}
