package chunker

import (
	"strconv"
	"strings"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

type Config struct {
	ChunkSize int // target chunk size in words
	Overlap   int // words shared between adjacent chunks
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		c.Overlap = DefaultOverlap
	}
	return c
}

// Draft is one chunk before embedding and persistence.
type Draft struct {
	Index     int
	Text      string
	WordCount int
	CharCount int
	Metadata  map[string]string
}

// Chunk splits text into overlapping word-budget chunks. A chunk closes at
// the nearest sentence boundary at or after the target size, never
// mid-sentence; the next chunk starts exactly Overlap words before the close
// point. Text without sentence punctuation falls back to hard word splits.
// Empty text yields no chunks. Same input and config always yield identical
// boundaries.
func Chunk(text string, cfg Config) []Draft {
	cfg = cfg.withDefaults()
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	boundaries := make([]bool, len(words))
	hasBoundary := false
	for i, w := range words {
		if endsSentence(w) {
			boundaries[i] = true
			hasBoundary = true
		}
	}
	strategy := "sentence"
	if !hasBoundary {
		strategy = "words"
	}

	drafts := make([]Draft, 0, len(words)/cfg.ChunkSize+1)
	pos := 0
	for pos < len(words) {
		end := pos + cfg.ChunkSize
		if end >= len(words) {
			end = len(words)
		} else if hasBoundary {
			// Scan forward for the first sentence end at or after the target.
			for end < len(words) && !boundaries[end-1] {
				end++
			}
		}

		segment := words[pos:end]
		body := strings.Join(segment, " ")
		drafts = append(drafts, Draft{
			Index:     len(drafts),
			Text:      body,
			WordCount: len(segment),
			CharCount: len(body),
			Metadata: map[string]string{
				"strategy":   strategy,
				"word_start": strconv.Itoa(pos),
				"word_end":   strconv.Itoa(end),
			},
		})
		if end >= len(words) {
			break
		}
		next := end - cfg.Overlap
		if next <= pos {
			next = end
		}
		pos = next
	}
	return drafts
}

// endsSentence reports whether a word terminates a sentence, allowing
// closing quotes or brackets after the punctuation.
func endsSentence(w string) bool {
	w = strings.TrimRight(w, `"')]`+"”’")
	if w == "" {
		return false
	}
	switch w[len(w)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
