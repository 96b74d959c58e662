package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// KnowledgeRepository persists KnowledgeFile records.
// Get returns nil, nil when the record does not exist.
type KnowledgeRepository interface {
	CreateKnowledgeFile(ctx context.Context, f *models.KnowledgeFile) error
	GetKnowledgeFile(ctx context.Context, id string) (*models.KnowledgeFile, error)
	ListKnowledgeFilesByChatbot(ctx context.Context, chatbotID string) ([]models.KnowledgeFile, error)

	// UpdateKnowledgeFile writes the attempt fields only if the stored
	// generation still equals f.Generation, else ErrStaleGeneration.
	UpdateKnowledgeFile(ctx context.Context, f *models.KnowledgeFile) error

	// ResetKnowledgeFile returns the record to pending and bumps its generation.
	ResetKnowledgeFile(ctx context.Context, id string) (*models.KnowledgeFile, error)

	DeleteKnowledgeFile(ctx context.Context, id string) error

	// ListStuckKnowledgeFiles returns non-terminal records whose status last
	// changed before the cutoff.
	ListStuckKnowledgeFiles(ctx context.Context, before time.Time) ([]models.KnowledgeFile, error)

	Close() error
}

// VectorStore holds embedded chunks and answers similarity queries.
type VectorStore interface {
	// UpsertChunks replaces the chunks of documentID written by generation or
	// any older one. Either all of them are visible afterwards or none are.
	// When rows of a newer generation exist it writes nothing and returns
	// ErrStaleGeneration.
	UpsertChunks(ctx context.Context, documentID string, generation int64, chunks []models.Chunk) error
	// DeleteGenerations removes the chunks of documentID whose generation is
	// at most upTo. Rows of newer generations are kept.
	DeleteGenerations(ctx context.Context, documentID string, upTo int64) error
	DeleteByDocument(ctx context.Context, documentID string) error
	// QueryNearest returns at most k chunks ordered by score descending, ties
	// broken by chunk position ascending.
	QueryNearest(ctx context.Context, vector []float32, k int, filter models.ChunkFilter) ([]models.ScoredChunk, error)
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
