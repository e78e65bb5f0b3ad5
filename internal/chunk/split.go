package chunk

import (
	"errors"
	"fmt"
)

// ErrEmptyText is returned by Split when there is nothing to encode.
var ErrEmptyText = errors.New("text is empty")

// Split cuts text into formatted payloads of at most size runes of content.
//
// A cut never leaves a line break at either edge of a chunk because Parse
// trims those. When no safe cut exists inside the window the chunk is
// shortened further; if the window is all line breaks Split gives up.
func Split(text string, size int) ([]string, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if text == "" {
		return nil, ErrEmptyText
	}
	if isBreak(rune(text[0])) || isBreak(rune(text[len(text)-1])) {
		return nil, errors.New("text must not begin or end with a line break")
	}

	runes := []rune(text)
	var parts []string
	for start := 0; start < len(runes); {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		for end > start && end < len(runes) && (isBreak(runes[end-1]) || isBreak(runes[end])) {
			end--
		}
		if end == start {
			return nil, fmt.Errorf("cannot split near offset %d with chunk size %d", start, size)
		}
		parts = append(parts, string(runes[start:end]))
		start = end
	}

	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = Format(Chunk{Index: i + 1, Total: len(parts), Content: p})
	}
	return out, nil
}

func isBreak(r rune) bool {
	return r == '\r' || r == '\n'
}
