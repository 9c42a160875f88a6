package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// OpenAIEmbedder talks to any OpenAI-compatible /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	dims    int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible API.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int, timeout time.Duration) *OpenAIEmbedder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &OpenAIEmbedder{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
	}
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := e.embedSlice(ctx, texts, results, start, end); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedSlice(ctx context.Context, texts []string, results [][]float32, start, end int) error {
	batch := make([]string, end-start)
	for i := start; i < end; i++ {
		if texts[i] == "" {
			// The API rejects empty input; a single space embeds as near-empty.
			batch[i-start] = " "
		} else {
			batch[i-start] = texts[i]
		}
	}

	payload, err := json.Marshal(openAIEmbeddingRequest{Model: e.model, Input: batch})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("embeddings request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("embeddings API returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Data) != end-start {
		return fmt.Errorf("embeddings API returned %d items for %d texts", len(parsed.Data), end-start)
	}

	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= end-start {
			return fmt.Errorf("embeddings API returned out-of-range index %d", item.Index)
		}
		if len(item.Embedding) != e.dims {
			return fmt.Errorf("model returned %d dimensions, expected %d", len(item.Embedding), e.dims)
		}
		results[start+item.Index] = normalizeVector(item.Embedding)
	}
	return nil
}

// Dimensions implements Embedder.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName implements Embedder.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Available implements Embedder. There is no cheap health endpoint in
// the OpenAI API surface, so a configured embedder is assumed reachable.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close implements Embedder.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
