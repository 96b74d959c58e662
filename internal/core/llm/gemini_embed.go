package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

const (
	defaultGeminiModel = "text-embedding-004"
	// BatchEmbedContents rejects requests with more than 100 items.
	geminiMaxBatch = 100
)

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

// GeminiEmbedder calls the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
	name   string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiEmbedder{client: cl, model: cl.EmbeddingModel(modelName), name: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// EmbedTexts embeds texts in batches of at most 100. The result is
// index-aligned with texts; a missing embedding is a nil entry.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))

		batch := g.model.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		resp, err := g.model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("gemini %s batch embed: %w", g.name, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini %s returned %d embeddings for %d texts", g.name, len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			if e == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, e.Values)
		}
	}
	return out, nil
}
