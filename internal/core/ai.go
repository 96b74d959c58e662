package core

import "context"

// EmbeddingProvider is a raw, batched embedding backend (Gemini, OpenAI, ...).
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder turns a single piece of text into a vector and reports failures
// with the embedding error taxonomy (ErrRateLimited, ErrInvalidInput,
// ErrProviderUnavailable).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
