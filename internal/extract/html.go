package extract

import (
	"context"
	"html"
	"regexp"
	"strings"
)

var _ Extractor = (*HTML)(nil)

// HTML strips markup from HTML documents and keeps the readable text.
type HTML struct{}

// NewHTML creates the HTML extractor.
func NewHTML() *HTML {
	return &HTML{}
}

// Extensions implements Extractor.
func (h *HTML) Extensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

// Precompiled patterns, applied in order.
var (
	invisibleElements = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
		regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`),
		regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`),
		regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`),
		regexp.MustCompile(`(?s)<!--.*?-->`),
	}
	blockBoundary = regexp.MustCompile(`(?i)</?(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	lineBreak     = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	anyTag        = regexp.MustCompile(`<[^>]+>`)
	runsOfSpace   = regexp.MustCompile(`[ \t]+`)
)

// Extract implements Extractor.
func (h *HTML) Extract(_ context.Context, data []byte, _ string) (string, error) {
	content := string(data)

	for _, re := range invisibleElements {
		content = re.ReplaceAllString(content, "")
	}

	// Block element boundaries become line breaks so that stripping
	// tags does not glue unrelated text together.
	content = blockBoundary.ReplaceAllString(content, "\n")
	content = lineBreak.ReplaceAllString(content, "\n")
	content = anyTag.ReplaceAllString(content, "")

	content = html.UnescapeString(content)
	content = runsOfSpace.ReplaceAllString(content, " ")

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
