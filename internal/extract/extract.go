// Package extract converts uploaded document bytes into plain text.
//
// A Gateway routes each file to a format strategy by extension. Text
// formats are decoded in-process; binary formats knosid cannot decode
// locally are delegated to an external parsing service.
package extract

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	kerrors "github.com/knosi-ai/knosid/internal/errors"
)

// Extractor derives plain text from raw document bytes.
type Extractor interface {
	// Extensions lists the lowercase file extensions (with dot) the
	// extractor handles.
	Extensions() []string

	// Extract returns the document's text content.
	Extract(ctx context.Context, data []byte, name string) (string, error)
}

// Gateway routes documents to extractors by file extension.
type Gateway struct {
	byExt map[string]Extractor
}

// NewGateway creates a Gateway with the built-in text strategies
// registered. If parser is non-nil, PDF extraction is delegated to it.
func NewGateway(parser Parser) *Gateway {
	g := &Gateway{byExt: make(map[string]Extractor)}

	g.Register(NewPlainText())
	g.Register(NewHTML())
	g.Register(NewDOCX())
	if parser != nil {
		g.Register(NewPDF(parser))
	}
	return g
}

// Register adds an extractor for its declared extensions, replacing any
// previous registration.
func (g *Gateway) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		g.byExt[strings.ToLower(ext)] = e
	}
}

// Supported reports whether a file name has a registered extractor.
func (g *Gateway) Supported(name string) bool {
	_, ok := g.byExt[normalizeExt(name)]
	return ok
}

// SupportedExtensions returns the registered extensions, unordered.
func (g *Gateway) SupportedExtensions() []string {
	exts := make([]string, 0, len(g.byExt))
	for ext := range g.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// Extract derives text from data. It returns UnsupportedType when no
// extractor is registered for the file's extension and ExtractionFailed
// when the strategy fails or yields no text.
func (g *Gateway) Extract(ctx context.Context, data []byte, name string) (string, error) {
	ext := normalizeExt(name)
	e, ok := g.byExt[ext]
	if !ok {
		return "", kerrors.UnsupportedType(ext)
	}

	text, err := e.Extract(ctx, data, name)
	if err != nil {
		if ke, ok := err.(*kerrors.KnosiError); ok {
			return "", ke
		}
		return "", kerrors.ExtractionFailed(name, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", kerrors.ExtractionFailed(name, errors.New("extraction produced no text"))
	}
	return text, nil
}

func normalizeExt(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
