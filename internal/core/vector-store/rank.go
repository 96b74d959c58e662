package vectorstore

import (
	"fmt"
	"math"
	"sort"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortScored orders results by score descending, then position, then document.
func SortScored(out []models.ScoredChunk) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].DocumentID < out[j].DocumentID
	})
}

// topK sorts out with SortScored and keeps at most k entries.
func topK(out []models.ScoredChunk, k int) []models.ScoredChunk {
	SortScored(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStorageFailed, op, err)
}

func staleErr(documentID string, generation int64) error {
	return fmt.Errorf("chunks of %s: a generation newer than %d is stored: %w", documentID, generation, core.ErrStaleGeneration)
}

// validateBatch checks that every chunk belongs to documentID and that all
// vectors share one non-zero dimension.
func validateBatch(documentID string, chunks []models.Chunk) (int, error) {
	dim := 0
	for i := range chunks {
		c := &chunks[i]
		if c.DocumentID != documentID {
			return 0, fmt.Errorf("chunk %d belongs to %q, not %q", c.Position, c.DocumentID, documentID)
		}
		if len(c.Embedding) == 0 {
			return 0, fmt.Errorf("chunk %d has no embedding", c.Position)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		} else if len(c.Embedding) != dim {
			return 0, fmt.Errorf("chunk %d has %d dimensions, want %d", c.Position, len(c.Embedding), dim)
		}
	}
	return dim, nil
}
