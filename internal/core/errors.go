package core

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Stage failures wrap one of these so callers can
// classify with errors.Is.
var (
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrOptimizationFailed = errors.New("optimization failed")
	ErrChunkingFailed     = errors.New("chunking failed")
	ErrEmbeddingFailed    = errors.New("embedding failed")
	ErrStorageFailed      = errors.New("storage failed")

	ErrRateLimited         = fmt.Errorf("%w: rate limited", ErrEmbeddingFailed)
	ErrInvalidInput        = fmt.Errorf("%w: invalid input", ErrEmbeddingFailed)
	ErrProviderUnavailable = fmt.Errorf("%w: provider unavailable", ErrEmbeddingFailed)

	// ErrStaleGeneration is returned by conditional writes when the record was
	// re-ingested or deleted after the attempt started.
	ErrStaleGeneration = errors.New("stale generation")

	ErrNotFound = errors.New("not found")
)

// Retryable reports whether an embedding error is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable)
}
