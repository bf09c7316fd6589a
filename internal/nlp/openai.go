package nlp

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

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for a local OpenAI-compatible
	// server. Defaults to https://api.openai.com/v1.
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI implements Provider with the chat completions API in JSON mode.
type OpenAI struct {
	cfg    Config
	client *http.Client
}

// NewOpenAI returns a provider backed by the OpenAI (or compatible) API.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &OpenAI{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	Temperature    float64      `json:"temperature"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"`
}

type oaiResponse struct {
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Extract sends the utterance to the model and returns its JSON answer.
func (p *OpenAI) Extract(ctx context.Context, req Request) (*Extraction, error) {
	body := oaiRequest{
		Model:          p.cfg.Model,
		Messages:       messages(req),
		MaxTokens:      800,
		ResponseFormat: &oaiFormat{Type: "json_object"},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("nlp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("nlp: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimit
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("%w: decode API response: %v", ErrMalformedOutput, err)
	}
	if oaiResp.Error != nil {
		return nil, fmt.Errorf("%w: API error (%s): %s", ErrUpstream, oaiResp.Error.Type, oaiResp.Error.Message)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned (HTTP %d)", ErrMalformedOutput, resp.StatusCode)
	}

	content := strings.TrimSpace(oaiResp.Choices[0].Message.Content)
	content = stripFences(content)
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("%w: content is not JSON (raw content: %.200s)", ErrMalformedOutput, content)
	}
	return &Extraction{Raw: json.RawMessage(content), Provider: "openai", Model: oaiResp.Model}, nil
}

// messages lays out the system prompt, the earlier turns and the utterance.
func messages(req Request) []oaiMessage {
	out := make([]oaiMessage, 0, len(req.History)+2)
	out = append(out, oaiMessage{Role: "system", Content: SystemPrompt(req)})
	for _, t := range req.History {
		if t.Text == "" {
			continue
		}
		out = append(out, oaiMessage{Role: string(t.Role), Content: t.Text})
	}
	return append(out, oaiMessage{Role: "user", Content: req.Utterance})
}

// stripFences removes a ```json ... ``` wrapper some models add despite
// JSON mode.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
