package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

// EmbeddingService validates input, calls the provider for one text and maps
// provider failures onto the embedding error taxonomy.
type EmbeddingService struct {
	provider  core.EmbeddingProvider
	dim       int
	maxTokens int
	count     TokenCounter
	log       *zap.Logger
}

type EmbeddingOptions struct {
	// Dimension is the required vector length. Zero accepts any length.
	Dimension int
	// MaxTokens rejects longer inputs. Zero disables the check.
	MaxTokens int
	// Counter defaults to TiktokenCounter.
	Counter TokenCounter
}

func NewEmbeddingService(provider core.EmbeddingProvider, opts EmbeddingOptions, log *zap.Logger) *EmbeddingService {
	if opts.Counter == nil {
		opts.Counter = TiktokenCounter
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EmbeddingService{
		provider:  provider,
		dim:       opts.Dimension,
		maxTokens: opts.MaxTokens,
		count:     opts.Counter,
		log:       log.Named("embedder"),
	}
}

func (s *EmbeddingService) Dimension() int { return s.dim }

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", core.ErrInvalidInput)
	}
	if s.maxTokens > 0 {
		if n := s.count(text); n > s.maxTokens {
			return nil, fmt.Errorf("%w: %d tokens exceeds limit of %d", core.ErrInvalidInput, n, s.maxTokens)
		}
	}

	vecs, err := s.provider.EmbedTexts(ctx, []string{text})
	if err != nil {
		cerr := classify(err)
		s.log.Debug("embedding call failed", zap.Error(cerr))
		return nil, cerr
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: provider returned %d vectors", core.ErrProviderUnavailable, len(vecs))
	}
	if s.dim > 0 && len(vecs[0]) != s.dim {
		return nil, fmt.Errorf("%w: vector has %d dimensions, want %d", core.ErrProviderUnavailable, len(vecs[0]), s.dim)
	}
	return vecs[0], nil
}

type httpCoder interface {
	HTTPCode() int
}

// classify maps an error from any supported provider onto RateLimited,
// InvalidInput or ProviderUnavailable. A cancelled caller context stays a
// plain embedding failure so it is never retried.
func classify(err error) error {
	if errors.Is(err, core.ErrEmbeddingFailed) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", core.ErrEmbeddingFailed, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
	}

	if code := statusCode(err); code != 0 {
		switch {
		case code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", core.ErrRateLimited, err)
		case code >= 500:
			return fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
		case code == http.StatusRequestTimeout:
			return fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
		case code >= 400:
			return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %w", core.ErrEmbeddingFailed, err)
}

func statusCode(err error) int {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var hc httpCoder
	if errors.As(err, &hc) {
		return hc.HTTPCode()
	}
	return 0
}

var _ core.Embedder = (*EmbeddingService)(nil)
