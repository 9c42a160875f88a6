package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

var _ Extractor = (*DOCX)(nil)

// DOCX extracts paragraph text from Word documents. A .docx file is a
// ZIP archive; the body text lives in word/document.xml.
type DOCX struct{}

// NewDOCX creates the DOCX extractor.
func NewDOCX() *DOCX {
	return &DOCX{}
}

// Extensions implements Extractor.
func (d *DOCX) Extensions() []string {
	return []string{".docx"}
}

// Extract implements Extractor.
func (d *DOCX) Extract(_ context.Context, data []byte, name string) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a valid docx archive: %w", err)
	}

	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open document body: %w", err)
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read document body: %w", err)
		}

		return flattenDocumentXML(body)
	}
	return "", fmt.Errorf("docx archive %s has no word/document.xml", name)
}

// wordDocument mirrors the parts of word/document.xml we care about:
// paragraphs containing runs containing text elements.
type wordDocument struct {
	Body struct {
		Paragraphs []wordParagraph `xml:"p"`
	} `xml:"body"`
}

type wordParagraph struct {
	Runs []wordRun `xml:"r"`
}

type wordRun struct {
	Text []wordText `xml:"t"`
}

type wordText struct {
	Value string `xml:",chardata"`
}

// flattenDocumentXML joins paragraph text with newlines.
func flattenDocumentXML(body []byte) (string, error) {
	var doc wordDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to parse document xml: %w", err)
	}

	var sb strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			sb.WriteString("\n")
		}
		for _, run := range para.Runs {
			for _, t := range run.Text {
				sb.WriteString(t.Value)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
