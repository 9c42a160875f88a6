// Package llm provides the answer-generation capability used by chat.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	kerrors "github.com/knosi-ai/knosid/internal/errors"
)

// Generator produces an answer from a system instruction and a user
// message.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)

	// ModelName returns the model identifier.
	ModelName() string
}

var _ Generator = (*OllamaGenerator)(nil)

// OllamaGenerator calls Ollama's /api/chat endpoint.
type OllamaGenerator struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewOllamaGenerator creates a chat client for the given Ollama
// endpoint and model.
func NewOllamaGenerator(baseURL, model string, timeout time.Duration) *OllamaGenerator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaGenerator{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		model:   model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Generate implements Generator. Failures come back as
// GenerationFailed so callers can map them to the right API status.
func (g *OllamaGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: false,
	})
	if err != nil {
		return "", kerrors.GenerationFailed(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", kerrors.GenerationFailed(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", kerrors.New(kerrors.ErrCodeCapabilityTimeout, "chat model timed out", err)
		}
		return "", kerrors.GenerationFailed(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", kerrors.GenerationFailed(
			fmt.Errorf("chat model returned %d: %s", resp.StatusCode, string(body)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", kerrors.GenerationFailed(err)
	}
	return parsed.Message.Content, nil
}

// ModelName implements Generator.
func (g *OllamaGenerator) ModelName() string { return g.model }
