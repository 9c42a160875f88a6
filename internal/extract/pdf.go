package extract

import (
	"context"
	"strings"
)

var _ Extractor = (*PDF)(nil)

// PDF delegates extraction to the external parsing capability.
type PDF struct {
	parser Parser
}

// NewPDF creates a PDF extractor backed by parser.
func NewPDF(parser Parser) *PDF {
	return &PDF{parser: parser}
}

// Extensions implements Extractor.
func (p *PDF) Extensions() []string {
	return []string{".pdf"}
}

// Extract implements Extractor.
func (p *PDF) Extract(ctx context.Context, data []byte, name string) (string, error) {
	text, err := p.parser.Parse(ctx, data, name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
