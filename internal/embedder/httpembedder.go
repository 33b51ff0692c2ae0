package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kittclouds/worldmemory/internal/vectormath"
)

const defaultEmbeddingsURL = "https://openrouter.ai/api/v1/embeddings"

// HTTPConfig holds the credentials and model selection for HTTPEmbedder,
// mirroring internal/llmplanner.Config's shape for the matching chat
// endpoint.
type HTTPConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
	HTTPClient *http.Client
}

// HTTPEmbedder is the concrete Embedder backed by an OpenAI-compatible
// /embeddings endpoint, the natural counterpart to internal/llmplanner's
// chat-completions client for the other external collaborator spec.md §1
// names (Embedder: "a pure function text -> unit-norm vector").
type HTTPEmbedder struct {
	cfg HTTPConfig
}

// NewHTTP constructs an HTTPEmbedder, filling in defaults for BaseURL and
// HTTPClient.
func NewHTTP(cfg HTTPConfig) *HTTPEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmbeddingsURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	return &HTTPEmbedder{cfg: cfg}
}

// Dim returns the configured embedding dimensionality.
func (e *HTTPEmbedder) Dim() int { return e.cfg.Dimensions }

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests one embedding vector for text and returns it unit-norm.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: e.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder: unexpected status %d: %s", resp.StatusCode, string(data))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("embedder: parse response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedder: empty embedding data")
	}
	return vectormath.Normalize(parsed.Data[0].Embedding), nil
}
