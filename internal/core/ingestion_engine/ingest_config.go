package ingestion_engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/core/optimizer"
)

// IngestConfig tunes the ingestion pipeline.
//
// MaxChunkSize:      runes per chunk (e.g., 800).
// ChunkOverlap:      runes shared by consecutive chunks (e.g., 100).
// EmbedConcurrency:  parallel embedding calls per document.
// MaxEmbedRetries:   retries for rate-limited or unavailable providers.
// RetryInitial:      first backoff interval; doubled up to RetryMax.
// AttemptTimeout:    wall-clock budget of one attempt.
// Bucket:            object-store bucket holding raw uploads.
// WorkDir:           parent of per-attempt scratch directories ("" = os temp dir).
// MaxErrorLen:       processingError is truncated to this many bytes.
type IngestConfig struct {
	MaxChunkSize     int
	ChunkOverlap     int
	EmbedConcurrency int
	MaxEmbedRetries  uint64
	RetryInitial     time.Duration
	RetryMax         time.Duration
	AttemptTimeout   time.Duration
	Bucket           string
	WorkDir          string
	MaxErrorLen      int
}

// DefaultIngestConfig returns the settings used when nothing is configured.
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		MaxChunkSize:     DefaultMaxChunkSize,
		ChunkOverlap:     DefaultChunkOverlap,
		EmbedConcurrency: 4,
		MaxEmbedRetries:  4,
		RetryInitial:     500 * time.Millisecond,
		RetryMax:         10 * time.Second,
		AttemptTimeout:   10 * time.Minute,
		MaxErrorLen:      512,
	}
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	d := DefaultIngestConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.MaxChunkSize <= 0 {
		out.MaxChunkSize = d.MaxChunkSize
	}
	if out.ChunkOverlap < 0 {
		out.ChunkOverlap = d.ChunkOverlap
	}
	if out.EmbedConcurrency <= 0 {
		out.EmbedConcurrency = d.EmbedConcurrency
	}
	if out.RetryInitial <= 0 {
		out.RetryInitial = d.RetryInitial
	}
	if out.RetryMax <= 0 {
		out.RetryMax = d.RetryMax
	}
	if out.AttemptTimeout <= 0 {
		out.AttemptTimeout = d.AttemptTimeout
	}
	if out.MaxErrorLen <= 0 {
		out.MaxErrorLen = d.MaxErrorLen
	}
	return &out
}

// Job asks a worker to run one attempt for a document at a generation.
type Job struct {
	DocumentID string `json:"documentId"`
	Generation int64  `json:"generation"`
}

// JobHandler runs one job.
type JobHandler func(ctx context.Context, job Job) error

// JobQueue delivers jobs to workers. Implementations: the in-process channel
// queue and the asynq-backed queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
	Start(ctx context.Context, numWorkers int, handle JobHandler) error
	Close() error
}

// FileOptimizer is the optimize stage.
type FileOptimizer interface {
	Optimize(ctx context.Context, inputPath, outputPath, declaredType string) (*optimizer.Result, error)
}

// Dependencies are the collaborators of a DocumentIngestor.
//
// Repo:      knowledge-file records and their status.
// Objects:   object storage holding raw uploads.
// Store:     vector store receiving embedded chunks.
// Embedder:  per-chunk embedding service.
// Optimizer: optimize stage.
// Queue:     job delivery; nil selects an in-process channel queue.
type Dependencies struct {
	Repo      core.KnowledgeRepository
	Objects   core.ObjectClient
	Store     core.VectorStore
	Embedder  core.Embedder
	Optimizer FileOptimizer
	Queue     JobQueue
}

// DocumentIngestor orchestrates background ingestion and owns the status
// state machine of every KnowledgeFile.
type DocumentIngestor struct {
	repo      core.KnowledgeRepository
	obj       core.ObjectClient
	store     core.VectorStore
	embedder  core.Embedder
	optimizer FileOptimizer
	chunker   *Chunker
	queue     JobQueue
	locks     *docLocks
	cfg       *IngestConfig
	log       *zap.Logger
	now       func() time.Time
}
