// Package embed turns text into fixed-length vectors. The Client talks
// to an OpenAI-compatible inference service; Fallback derives
// deterministic pseudo-embeddings when that service is unavailable;
// Embedder composes both behind the two-tier cache.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hunterwarburton/ragstore/internal/core"
)

// Default client configuration.
const (
	DefaultBaseURL   = "http://localhost:11434/v1"
	DefaultModel     = "all-minilm"
	DefaultDimension = 384
	DefaultBatchSize = 64
	DefaultTimeout   = 60 * time.Second
)

// ClientConfig holds configuration for the inference service client.
type ClientConfig struct {
	// BaseURL is the OpenAI-compatible API root (default: local Ollama).
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model is the embedding model identifier.
	Model string

	// Dimension is the expected vector dimensionality (default 384).
	Dimension int

	// BatchSize caps how many texts go into one request.
	BatchSize int

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Client calls the external embedding inference service in batches.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	batchSize  int
}

var _ core.EmbedService = (*Client)(nil)

// NewClient creates an inference service client. Zero-valued config
// fields fall back to defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		batchSize:  cfg.BatchSize,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Dimension returns the configured vector dimensionality.
func (c *Client) Dimension() int { return c.dimension }

// embeddingRequest is the OpenAI-compatible request format.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse is the OpenAI-compatible response format.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EmbedBatch embeds all texts, splitting them into requests of at most
// BatchSize to amortize call overhead. Failures are reported at the
// batch level; callers decide whether to retry or degrade.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]core.Embedding, error) {
	results := make([]core.Embedding, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedRequest(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			results[start+i] = core.Embedding{Vector: vec}
		}
	}
	return results, nil
}

func (c *Client) embedRequest(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding service: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading embedding response: %v", core.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embedding service returned %s: %s",
			core.ErrUpstreamUnavailable, resp.Status, truncate(string(payload), 200))
	}

	var out embeddingResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding embedding response: %v", core.ErrUpstreamUnavailable, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%w: embedding service error: %s", core.ErrUpstreamUnavailable, out.Error.Message)
	}
	if len(out.Data) != len(batch) {
		return nil, fmt.Errorf("%w: embedding service returned %d vectors for %d inputs",
			core.ErrUpstreamUnavailable, len(out.Data), len(batch))
	}

	// The API may return items out of order; Index restores it.
	vectors := make([][]float32, len(batch))
	for _, item := range out.Data {
		if item.Index < 0 || item.Index >= len(batch) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", core.ErrUpstreamUnavailable, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: missing embedding for input %d", core.ErrUpstreamUnavailable, i)
		}
	}
	return vectors, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
