package ingestion_engine

import (
	"strings"
	"unicode"

	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

const (
	DefaultMaxChunkSize = 800
	DefaultChunkOverlap = 100
)

// Chunker splits normalized text into overlapping, size-bounded windows.
// Sizes are counted in runes.
//
// maxChunkSize:  hard upper bound of a chunk.
// chunkOverlap:  minimum runes shared by consecutive chunks.
type Chunker struct {
	maxChunkSize int
	chunkOverlap int
}

// NewChunker clamps the overlap to half the chunk size so every window makes
// progress.
func NewChunker(maxChunkSize, chunkOverlap int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap > maxChunkSize/2 {
		chunkOverlap = maxChunkSize / 2
	}
	return &Chunker{maxChunkSize: maxChunkSize, chunkOverlap: chunkOverlap}
}

// ChunkMeta is copied onto every produced chunk.
type ChunkMeta struct {
	ChatbotID  string
	DocumentID string
	Generation int64
}

// Segment is one window of the source text. Start and End are rune offsets.
type Segment struct {
	Index int
	Start int
	End   int
	Text  string
}

// Chunk splits text and stamps each window with meta and its ordinal.
// Chunk IDs and embeddings are left to the caller.
func (c *Chunker) Chunk(text string, meta ChunkMeta) []models.Chunk {
	segs := c.Preview(text)
	if len(segs) == 0 {
		return nil
	}
	out := make([]models.Chunk, 0, len(segs))
	for _, s := range segs {
		out = append(out, models.Chunk{
			ChatbotID:   meta.ChatbotID,
			DocumentID:  meta.DocumentID,
			Generation:  meta.Generation,
			Position:    s.Index,
			Content:     s.Text,
			TokenCount:  approxTokens(s.Text),
			StartOffset: s.Start,
			EndOffset:   s.End,
		})
	}
	return out
}

// Preview returns the segmentation of text without any metadata.
func (c *Chunker) Preview(text string) []Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	if n <= c.maxChunkSize {
		return []Segment{{Index: 0, Start: 0, End: n, Text: text}}
	}

	var out []Segment
	start := 0
	for {
		end := start + c.maxChunkSize
		if end >= n {
			end = n
		} else {
			end = c.snapEnd(runes, start, end)
		}

		out = append(out, Segment{Index: len(out), Start: start, End: end, Text: string(runes[start:end])})
		if end == n {
			return out
		}
		start = c.snapStart(runes, start, end-c.chunkOverlap)
	}
}

// snapEnd moves a cut back to the end of a sentence, else to whitespace,
// searching only the last fifth of the window. end < len(runes).
func (c *Chunker) snapEnd(runes []rune, start, end int) int {
	lo := end - c.maxChunkSize/5
	if lo <= start {
		lo = start + 1
	}
	for i := end; i >= lo; i-- {
		if unicode.IsSpace(runes[i]) && isSentenceEnd(runes[i-1]) {
			return i
		}
	}
	for i := end; i >= lo; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}

// snapStart moves the next window's start back to the beginning of the word
// it falls in, by at most half the overlap. When pos sits in whitespace after
// a longer word, the start goes into that word instead. The result is always
// > prevStart and never later than pos.
func (c *Chunker) snapStart(runes []rune, prevStart, pos int) int {
	if pos <= prevStart {
		return prevStart + 1
	}
	limit := pos - c.chunkOverlap/2
	if limit <= prevStart {
		limit = prevStart + 1
	}
	for i := pos; i >= limit; i-- {
		if wordStart(runes, i) {
			return i
		}
	}
	if !unicode.IsSpace(runes[pos]) {
		return pos
	}
	i := pos
	for i > limit && unicode.IsSpace(runes[i]) {
		i--
	}
	for i > limit && !unicode.IsSpace(runes[i-1]) {
		i--
	}
	return i
}

func wordStart(runes []rune, i int) bool {
	return !unicode.IsSpace(runes[i]) && unicode.IsSpace(runes[i-1])
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
