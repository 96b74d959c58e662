package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/config"
)

// NewEmbedder builds the provider named by EMBED_PROVIDER and wraps it in an
// EmbeddingService. The close func releases the provider client.
func NewEmbedder(ctx context.Context, cfg *config.Config, log *zap.Logger) (*EmbeddingService, func() error, error) {
	opts := EmbeddingOptions{Dimension: cfg.EmbedDim, MaxTokens: cfg.EmbedMaxTokens}

	switch cfg.EmbedProvider {
	case "gemini":
		g, err := NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini embedder: %w", err)
		}
		return NewEmbeddingService(g, opts, log), g.Close, nil
	case "openai":
		o, err := NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel, cfg.EmbedDim)
		if err != nil {
			return nil, nil, fmt.Errorf("openai embedder: %w", err)
		}
		return NewEmbeddingService(o, opts, log), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown embed provider %q", cfg.EmbedProvider)
	}
}
