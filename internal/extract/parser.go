package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	kerrors "github.com/knosi-ai/knosid/internal/errors"
)

// Parser is the external document parsing capability. It turns formats
// knosid cannot decode locally into plain text.
type Parser interface {
	Parse(ctx context.Context, data []byte, name string) (string, error)
}

var _ Parser = (*HTTPParser)(nil)

// HTTPParser talks to a parsing service over HTTP. The service accepts
// a multipart upload on /parse and responds with the extracted text.
type HTTPParser struct {
	baseURL string
	client  *http.Client
}

// NewHTTPParser creates a parser client for baseURL with the given
// request timeout.
func NewHTTPParser(baseURL string, timeout time.Duration) *HTTPParser {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPParser{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type parseResponse struct {
	Text string `json:"text"`
}

// Parse implements Parser.
func (p *HTTPParser) Parse(ctx context.Context, data []byte, name string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/parse", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", kerrors.New(kerrors.ErrCodeCapabilityTimeout,
				fmt.Sprintf("parsing service timed out for %s", name), err)
		}
		return "", fmt.Errorf("parsing service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("parsing service returned %d: %s", resp.StatusCode, string(msg))
	}

	var parsed parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("invalid parsing service response: %w", err)
	}
	return parsed.Text, nil
}
