// Package chunker splits extracted document text into overlapping windows
// sized for the embedding service.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

// Chunker produces fixed-size text windows with a configured overlap. Sizes
// are measured in runes so multibyte text does not get cut mid-character.
type Chunker struct {
	size     int
	overlap  int
	lookback int
}

// New validates the window geometry. Overlap must stay strictly below the
// window size or the window could never advance.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	// A window ending mid-word may retreat up to this many runes to a
	// whitespace boundary. Capped below the step so every window still
	// advances.
	lookback := size / 10
	if lookback >= size-overlap {
		lookback = size - overlap - 1
	}
	return &Chunker{size: size, overlap: overlap, lookback: lookback}, nil
}

// Split cuts text into ordered windows. Consecutive windows overlap by the
// configured amount; a window boundary prefers the nearest whitespace within
// the lookback distance over a hard cut. Text that fits one window comes back
// as a single chunk, and blank text produces no chunks at all.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}

	chunks := make([]string, 0, len(runes)/(c.size-c.overlap)+1)
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		cut := end
		for i := end; i > end-c.lookback && i > start; i-- {
			if unicode.IsSpace(runes[i-1]) {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[start:cut]))
		start = cut - c.overlap
	}
	return chunks
}
