package ingestion_engine

import (
	"context"
	"time"

	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// Ingestor is the orchestrator surface used by the service layer and the CLI.
type Ingestor interface {
	Start(ctx context.Context, numWorkers int) error
	Enqueue(ctx context.Context, job Job) error
	ProcessOne(ctx context.Context, job Job) error

	Submit(ctx context.Context, f *models.KnowledgeFile) error
	Reingest(ctx context.Context, id string) (*models.KnowledgeFile, error)
	Delete(ctx context.Context, id string) error
	Stuck(ctx context.Context, olderThan time.Duration) ([]models.KnowledgeFile, error)
	Close() error
}

var _ Ingestor = (*DocumentIngestor)(nil)
