package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/metrics"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// embedChunks fills in the embedding, ID and timestamp of every chunk. Calls
// run concurrently up to EmbedConcurrency and identical texts in flight share
// one call. Nothing is returned until every chunk is embedded or one fails.
func (i *DocumentIngestor) embedChunks(ctx context.Context, chunks []models.Chunk, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.cfg.EmbedConcurrency)

	var sf singleflight.Group
	for idx := range chunks {
		g.Go(func() error {
			text := chunks[idx].Content
			v, err, _ := sf.Do(text, func() (any, error) {
				return i.embedWithRetry(gctx, text, log)
			})
			if err != nil {
				return fmt.Errorf("chunk %d: %w", chunks[idx].Position, wrapStage(core.ErrEmbeddingFailed, err))
			}
			chunks[idx].Embedding = v.([]float32)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	dim := len(chunks[0].Embedding)
	now := i.now()
	for idx := range chunks {
		if len(chunks[idx].Embedding) == 0 || len(chunks[idx].Embedding) != dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, want %d",
				core.ErrEmbeddingFailed, chunks[idx].Position, len(chunks[idx].Embedding), dim)
		}
		chunks[idx].ID = uuid.NewString()
		chunks[idx].CreatedAt = now
	}
	return nil
}

// embedWithRetry retries rate-limited and unavailable providers with bounded
// exponential backoff. Other errors are returned at once.
func (i *DocumentIngestor) embedWithRetry(ctx context.Context, text string, log *zap.Logger) ([]float32, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = i.cfg.RetryInitial
	exp.MaxInterval = i.cfg.RetryMax
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, i.cfg.MaxEmbedRetries), ctx)

	op := func() ([]float32, error) {
		v, err := i.embedder.Embed(ctx, text)
		if err == nil {
			return v, nil
		}
		if core.Retryable(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		reason := "unavailable"
		if errors.Is(err, core.ErrRateLimited) {
			reason = "rate_limited"
		}
		metrics.EmbeddingRetriesTotal.WithLabelValues(reason).Inc()
		log.Debug("retrying embedding", zap.String("reason", reason), zap.Duration("wait", wait), zap.Error(err))
	}

	return backoff.RetryNotifyWithData(op, policy, notify)
}
