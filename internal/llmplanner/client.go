// Package llmplanner is the concrete Planner (internal/planner) backed by
// an OpenRouter chat-completions endpoint. It generalizes the teacher's
// pkg/batch.callOpenRouter request/response shapes from a syscall/js fetch
// call (only reachable in the js/wasm build) to a plain net/http client
// that runs server-side, and reuses pkg/extraction.ParseResponse's
// code-fence-stripping parse strategy for turning LLM text back into JSON.
package llmplanner

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

const defaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

// Config holds the OpenRouter credentials and model selection.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Referer    string
	Title      string
	HTTPClient *http.Client
}

// Client is a Planner backed by one OpenRouter model.
type Client struct {
	cfg Config
}

// New constructs a Client, filling in defaults for BaseURL and HTTPClient.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Title == "" {
		cfg.Title = "worldmemory"
	}
	return &Client{cfg: cfg}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// complete sends one non-streaming chat-completion request and returns the
// assistant's raw text.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   2048,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("llmplanner: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("llmplanner: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	httpReq.Header.Set("X-Title", c.cfg.Title)

	httpResp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llmplanner: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("llmplanner: read response body: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		return "", fmt.Errorf("llmplanner: HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("llmplanner: parse response envelope: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("llmplanner: API error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llmplanner: empty choices in response")
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("llmplanner: empty content in response")
	}
	return text, nil
}

// completeJSON sends a chat-completion request, strips markdown code
// fences, and calls parse. On a parse failure it retries once with a
// correction prompt, per spec.md §7's "Planner JSON parse failures retry
// once with a correction prompt; on second failure the side effect is
// dropped" — dropping the side effect is the caller's responsibility,
// completeJSON just returns the second error.
func (c *Client) completeJSON(ctx context.Context, systemPrompt, userPrompt string, parse func(cleaned string) error) error {
	raw, err := c.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	if err := parse(stripCodeFence(strings.TrimSpace(raw))); err == nil {
		return nil
	}

	correction := userPrompt + "\n\nYour previous response could not be parsed as the required JSON. " +
		"Respond again with ONLY valid JSON matching the schema above, no markdown, no commentary."
	raw, err = c.complete(ctx, systemPrompt, correction)
	if err != nil {
		return err
	}
	return parse(stripCodeFence(strings.TrimSpace(raw)))
}

// stripCodeFence removes a leading/trailing ``` fence, matching
// pkg/extraction.stripCodeFence.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
