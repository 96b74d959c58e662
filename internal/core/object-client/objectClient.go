package objectclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/config"
	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

var (
	_ core.ObjectClient = (*S3Client)(nil)
	_ core.ObjectClient = (*LocalClient)(nil)
)

// New returns the object store named by OBJECT_BACKEND.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (core.ObjectClient, error) {
	switch cfg.ObjectBackend {
	case "s3":
		return NewS3Client(ctx, cfg, log)
	case "local":
		return NewLocalClient(cfg.LocalStorageDir)
	default:
		return nil, fmt.Errorf("unknown object backend %q", cfg.ObjectBackend)
	}
}
