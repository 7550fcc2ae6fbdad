package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxloop/voxloop/internal/config"
)

const systemInstruction = "You are a friendly voice assistant. Reply to the user briefly and directly, " +
	"in one or two short sentences suitable for being read aloud. Do not use markdown or lists."

type httpGenerator struct {
	cfg    config.CompletionConfig
	client *http.Client
}

// NewHTTPGenerator talks to a generateContent-style completion endpoint.
// The request deadline is enforced by the caller's context.
func NewHTTPGenerator(cfg config.CompletionConfig) Generator {
	return &httpGenerator{
		cfg: cfg,
		client: &http.Client{
			Transport: http.DefaultTransport,
			Timeout:   0, // context-driven
		},
	}
}

type apiPart struct {
	Text string `json:"text"`
}

type apiContent struct {
	Parts []apiPart `json:"parts"`
	Role  string    `json:"role,omitempty"`
}

type apiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type apiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type apiRequest struct {
	Contents          []apiContent        `json:"contents"`
	SystemInstruction *apiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  apiGenerationConfig `json:"generationConfig"`
	SafetySettings    []apiSafetySetting  `json:"safetySettings"`
}

type apiCandidate struct {
	Content *apiContent `json:"content"`
}

type apiResponse struct {
	Candidates []apiCandidate `json:"candidates"`
	Error      *apiError      `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (g *httpGenerator) Complete(ctx context.Context, req Request) (string, error) {
	payload := apiRequest{
		Contents: []apiContent{
			{Role: "user", Parts: []apiPart{{Text: req.Prompt}}},
		},
		SystemInstruction: &apiContent{Parts: []apiPart{{Text: systemInstruction}}},
		GenerationConfig: apiGenerationConfig{
			Temperature:     g.cfg.Temperature,
			TopP:            g.cfg.TopP,
			TopK:            g.cfg.TopK,
			MaxOutputTokens: g.cfg.MaxOutputTokens,
		},
		SafetySettings: []apiSafetySetting{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(g.cfg.Endpoint, "/"), g.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	var decoded apiResponse
	if err := json.Unmarshal(data, &decoded); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("decode completion response: %w", err)
	}

	if resp.StatusCode >= 300 {
		message := http.StatusText(resp.StatusCode)
		if decoded.Error != nil && decoded.Error.Message != "" {
			message = decoded.Error.Message
		}
		return "", &UpstreamError{Status: resp.StatusCode, Message: message}
	}

	// A response with no candidate text still yields spoken output.
	if len(decoded.Candidates) == 0 || decoded.Candidates[0].Content == nil ||
		len(decoded.Candidates[0].Content.Parts) == 0 {
		return FallbackReply, nil
	}
	text := decoded.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return FallbackReply, nil
	}
	return text, nil
}

// mockGenerator echoes deterministically after a small delay.
type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return "[mock reply to " + strings.TrimSpace(req.Prompt) + "]", nil
}
