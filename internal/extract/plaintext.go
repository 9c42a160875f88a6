package extract

import (
	"context"
	"unicode/utf8"
)

var _ Extractor = (*PlainText)(nil)

// PlainText decodes text formats directly. Markdown and friends are
// indexed verbatim, markup included.
type PlainText struct{}

// NewPlainText creates the plain-text extractor.
func NewPlainText() *PlainText {
	return &PlainText{}
}

// Extensions implements Extractor.
func (p *PlainText) Extensions() []string {
	return []string{".txt", ".md", ".markdown", ".org", ".rst", ".log", ".csv"}
}

// Extract decodes data as UTF-8, falling back to Latin-1 for files
// that are not valid UTF-8.
func (p *PlainText) Extract(_ context.Context, data []byte, _ string) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	return decodeLatin1(data), nil
}

// decodeLatin1 maps each byte to the equivalent Unicode code point.
func decodeLatin1(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}
