package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/knosi-ai/knosid/internal/errors"
)

func TestGateway_RoutesByExtension(t *testing.T) {
	g := NewGateway(nil)

	text, err := g.Extract(context.Background(), []byte("plain content"), "notes.txt")

	require.NoError(t, err)
	assert.Equal(t, "plain content", text)
}

func TestGateway_UnsupportedExtension(t *testing.T) {
	g := NewGateway(nil)

	_, err := g.Extract(context.Background(), []byte{0x50, 0x4b}, "archive.zip")

	require.Error(t, err)
	assert.Equal(t, kerrors.ErrCodeUnsupportedType, kerrors.GetCode(err))
}

func TestGateway_CaseInsensitiveExtension(t *testing.T) {
	g := NewGateway(nil)

	text, err := g.Extract(context.Background(), []byte("# Title"), "README.MD")

	require.NoError(t, err)
	assert.Equal(t, "# Title", text)
}

func TestGateway_PDFWithoutParserIsUnsupported(t *testing.T) {
	g := NewGateway(nil)

	assert.False(t, g.Supported("report.pdf"))
}

func TestGateway_WrapsStrategyFailures(t *testing.T) {
	g := NewGateway(nil)

	// Invalid docx bytes make the strategy fail
	_, err := g.Extract(context.Background(), []byte("not a zip"), "broken.docx")

	require.Error(t, err)
	assert.Equal(t, kerrors.ErrCodeExtractionFailed, kerrors.GetCode(err))
}

func TestGateway_WhitespaceOnlyOutputIsExtractionFailed(t *testing.T) {
	g := NewGateway(nil)

	_, err := g.Extract(context.Background(), []byte("   \n\t  "), "empty.txt")

	require.Error(t, err)
	assert.Equal(t, kerrors.ErrCodeExtractionFailed, kerrors.GetCode(err))
}

func TestPlainText_MarkdownKeptVerbatim(t *testing.T) {
	p := NewPlainText()

	text, err := p.Extract(context.Background(), []byte("# Heading\n\n*emphasis*"), "doc.md")

	require.NoError(t, err)
	assert.Equal(t, "# Heading\n\n*emphasis*", text)
}

func TestPlainText_Latin1Fallback(t *testing.T) {
	// Given: bytes that are valid Latin-1 but not valid UTF-8
	data := []byte{'c', 'a', 'f', 0xe9} // "café" in Latin-1

	text, err := NewPlainText().Extract(context.Background(), data, "menu.txt")

	require.NoError(t, err)
	assert.Equal(t, "café", text)
}

func TestHTML_StripsMarkup(t *testing.T) {
	input := `<!DOCTYPE html>
<html>
<head><title>Ignored</title><style>body { color: red; }</style></head>
<body>
  <script>alert("nope")</script>
  <h1>Welcome</h1>
  <p>First &amp; second.</p>
  <!-- hidden -->
</body>
</html>`

	text, err := NewHTML().Extract(context.Background(), []byte(input), "page.html")

	require.NoError(t, err)
	assert.Contains(t, text, "Welcome")
	assert.Contains(t, text, "First & second.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "hidden")
	assert.NotContains(t, text, "<")
}

func TestHTML_BlockElementsSeparateLines(t *testing.T) {
	input := `<div>one</div><div>two</div>`

	text, err := NewHTML().Extract(context.Background(), []byte(input), "page.html")

	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", text)
}

// buildDocx assembles a minimal .docx archive with the given paragraphs.
func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var sb bytes.Buffer
	sb.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		fmt.Fprintf(&sb, `<w:p><w:r><w:t>%s</w:t></w:r></w:p>`, p)
	}
	sb.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write(sb.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDOCX_ExtractsParagraphs(t *testing.T) {
	data := buildDocx(t, "First paragraph.", "Second paragraph.")

	text, err := NewDOCX().Extract(context.Background(), data, "report.docx")

	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\nSecond paragraph.", text)
}

func TestDOCX_InvalidArchive(t *testing.T) {
	_, err := NewDOCX().Extract(context.Background(), []byte("garbage"), "bad.docx")

	require.Error(t, err)
}

func TestHTTPParser_ParsesViaService(t *testing.T) {
	// Given: a parsing service that echoes fixed text
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/parse", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "scan.pdf", header.Filename)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "parsed text"})
	}))
	defer srv.Close()

	g := NewGateway(NewHTTPParser(srv.URL, 5*time.Second))

	// When: extracting a pdf
	text, err := g.Extract(context.Background(), []byte("%PDF-1.7"), "scan.pdf")

	// Then: the service's text comes back through the gateway
	require.NoError(t, err)
	assert.Equal(t, "parsed text", text)
}

func TestHTTPParser_WhitespaceResponseIsExtractionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  \n  "})
	}))
	defer srv.Close()

	g := NewGateway(NewHTTPParser(srv.URL, 5*time.Second))

	_, err := g.Extract(context.Background(), []byte("%PDF-1.7"), "scan.pdf")

	require.Error(t, err)
	assert.Equal(t, kerrors.ErrCodeExtractionFailed, kerrors.GetCode(err))
}

func TestHTTPParser_ServiceErrorSurfacesAsExtractionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "parser exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGateway(NewHTTPParser(srv.URL, 5*time.Second))

	_, err := g.Extract(context.Background(), []byte("%PDF-1.7"), "scan.pdf")

	require.Error(t, err)
	assert.Equal(t, kerrors.ErrCodeExtractionFailed, kerrors.GetCode(err))
}
