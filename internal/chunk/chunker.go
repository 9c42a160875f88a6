// Package chunk splits extracted text into fixed-size overlapping
// fragments for embedding.
package chunk

import (
	"fmt"
)

// Fragment is one window of a document's text.
type Fragment struct {
	// Ordinal is the zero-based position of the fragment within its document.
	Ordinal int
	// Content is the fragment text.
	Content string
}

// Chunker produces deterministic overlapping windows over rune
// boundaries. The same input always yields the same fragments.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker with the given window size and overlap,
// both measured in runes. Overlap must be smaller than size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the window overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into fragments. Consecutive fragments share the
// configured overlap; the final fragment may be shorter than the window
// size. Empty text yields no fragments.
func (c *Chunker) Split(text string) []Fragment {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	stride := c.size - c.overlap

	var fragments []Fragment
	for start := 0; start < len(runes); start += stride {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		fragments = append(fragments, Fragment{
			Ordinal: len(fragments),
			Content: string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return fragments
}
