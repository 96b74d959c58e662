package vectorstore

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/config"
	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

var (
	_ core.VectorStore = (*MemoryStore)(nil)
	_ core.VectorStore = (*PgvectorStore)(nil)
	_ core.VectorStore = (*QdrantStore)(nil)
)

// New builds the store named by VECTOR_BACKEND. The returned close func is
// never nil. db is only used by pgvector.
func New(ctx context.Context, cfg *config.Config, db *sql.DB, log *zap.Logger) (core.VectorStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.VectorBackend {
	case "memory":
		return NewMemoryStore(cfg.EmbedDim), noop, nil
	case "pgvector":
		if db == nil {
			return nil, noop, fmt.Errorf("pgvector store needs an open database")
		}
		return NewPgvectorStore(db), noop, nil
	case "qdrant":
		s, err := NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.QdrantCollection,
			Dimension:  cfg.EmbedDim,
		}, log)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}
