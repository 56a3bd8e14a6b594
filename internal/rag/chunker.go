package rag

import (
	"strings"
	"unicode/utf8"
)

// ChunkerConfig controls how advisory documents are split before
// embedding. Sizes are in runes.
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultChunkerConfig returns the chunking defaults used by ingestion.
// Advisory entries are short, so chunks stay small.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{ChunkSize: 512, ChunkOverlap: 50}
}

var separators = []string{"\n\n", "\n", ". ", " "}

// SplitText splits text into chunks of at most cfg.ChunkSize runes,
// preferring paragraph then sentence boundaries, with cfg.ChunkOverlap
// runes of overlap carried between adjacent chunks. Segments that are
// themselves oversized are re-split on progressively finer separators.
func SplitText(text string, cfg ChunkerConfig) []string {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return splitRecursive(text, separators, cfg)
}

func splitRecursive(text string, seps []string, cfg ChunkerConfig) []string {
	if utf8.RuneCountInString(text) <= cfg.ChunkSize {
		return []string{text}
	}
	if len(seps) == 0 {
		return splitByRunes(text, cfg.ChunkSize)
	}

	parts := strings.Split(text, seps[0])
	if len(parts) == 1 {
		return splitRecursive(text, seps[1:], cfg)
	}

	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if utf8.RuneCountInString(part) > cfg.ChunkSize {
			segments = append(segments, splitRecursive(part, seps[1:], cfg)...)
		} else {
			segments = append(segments, part)
		}
	}
	return mergeSegments(segments, seps[0], cfg)
}

// mergeSegments packs consecutive segments into chunks up to the target
// size, carrying an overlap tail across chunk boundaries.
func mergeSegments(segments []string, sep string, cfg ChunkerConfig) []string {
	var chunks []string
	var current strings.Builder

	flush := func(next string) {
		chunks = append(chunks, current.String())
		tail := overlapTail(current.String(), cfg.ChunkOverlap)
		current.Reset()
		if tail != "" {
			current.WriteString(tail)
			current.WriteString(sep)
		}
		current.WriteString(next)
	}

	for _, seg := range segments {
		candidate := current.String()
		if candidate != "" {
			candidate += sep
		}
		candidate += seg

		if utf8.RuneCountInString(candidate) > cfg.ChunkSize && current.Len() > 0 {
			flush(seg)
			continue
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(seg)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func overlapTail(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}
