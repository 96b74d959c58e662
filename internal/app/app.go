package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/config"
	"github.com/markdave123-py/knowledge-ingest/internal/core"
	db "github.com/markdave123-py/knowledge-ingest/internal/core/database"
	"github.com/markdave123-py/knowledge-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/knowledge-ingest/internal/core/llm"
	objectclient "github.com/markdave123-py/knowledge-ingest/internal/core/object-client"
	"github.com/markdave123-py/knowledge-ingest/internal/core/optimizer"
	vectorstore "github.com/markdave123-py/knowledge-ingest/internal/core/vector-store"
	"github.com/markdave123-py/knowledge-ingest/internal/queue"
	"github.com/markdave123-py/knowledge-ingest/internal/services"
)

type App struct {
	Config    *config.Config
	DB        *sql.DB
	Repo      core.KnowledgeRepository
	Objects   core.ObjectClient
	Store     core.VectorStore
	Embedder  *llm.EmbeddingService
	Ingestor  *ingestion_engine.DocumentIngestor
	Knowledge *services.KnowledgeService
	Server    *Server

	log       *zap.Logger
	closers   []func() error
	pollEvery time.Duration
}

// NewApp opens every backend selected by cfg and wires the ingestion
// pipeline and HTTP server. Workers are not started; call StartWorkers.
func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (a *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a = &App{Config: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.StoreBackend == "postgres" || cfg.VectorBackend == "pgvector" {
		a.DB, err = db.Open(appCtx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.DB.Close)
		log.Info("database initialized and ready")
	}

	a.Repo, err = db.NewKnowledgeRepository(cfg, a.DB)
	if err != nil {
		return nil, err
	}

	a.Objects, err = objectclient.New(appCtx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("object client: %w", err)
	}
	log.Info("object client initialized and ready", zap.String("backend", cfg.ObjectBackend))

	var closeStore func() error
	a.Store, closeStore, err = vectorstore.New(appCtx, cfg, a.DB, log)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	var closeEmbedder func() error
	a.Embedder, closeEmbedder, err = llm.NewEmbedder(appCtx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	a.closers = append(a.closers, closeEmbedder)

	var jobs ingestion_engine.JobQueue
	switch cfg.QueueBackend {
	case "asynq":
		jobs = queue.NewAsynqQueue(queue.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.AttemptTimeout+5*time.Minute, log)
	default:
		jobs = ingestion_engine.NewChanQueue(256, log)
	}

	a.Ingestor = ingestion_engine.NewDocumentIngestor(ingestion_engine.Dependencies{
		Repo:      a.Repo,
		Objects:   a.Objects,
		Store:     a.Store,
		Embedder:  a.Embedder,
		Optimizer: optimizer.NewOptimizer(optimizer.NewDocconvExtractor(cfg.UseReadability), log),
		Queue:     jobs,
	}, IngestConfigFrom(cfg), log)

	a.Knowledge = services.NewKnowledgeService(a.Repo, a.Objects, a.Ingestor, a.Store, a.Embedder, cfg.BucketName, log)
	a.Server = NewServer(cfg.Port, NewRouter(a.Knowledge, cfg.StuckAfter), log)

	return a, nil
}

// IngestConfigFrom maps the process configuration onto the pipeline settings.
func IngestConfigFrom(cfg *config.Config) *ingestion_engine.IngestConfig {
	ic := ingestion_engine.DefaultIngestConfig()
	ic.MaxChunkSize = cfg.ChunkSize
	ic.ChunkOverlap = cfg.ChunkOverlap
	ic.EmbedConcurrency = cfg.EmbedConcurrency
	if cfg.EmbedMaxRetries >= 0 {
		ic.MaxEmbedRetries = uint64(cfg.EmbedMaxRetries)
	}
	ic.AttemptTimeout = cfg.AttemptTimeout
	ic.Bucket = cfg.BucketName
	ic.WorkDir = cfg.WorkDir
	return ic
}

// StartWorkers launches the ingestion consumers.
func (a *App) StartWorkers(ctx context.Context) error {
	workers := a.Config.IngestWorkers
	if workers <= 0 {
		workers = 1
	}
	if err := a.Ingestor.Start(ctx, workers); err != nil {
		return fmt.Errorf("start ingestion workers: %w", err)
	}
	a.log.Info("ingestion workers started",
		zap.Int("workers", workers),
		zap.String("queue", a.Config.QueueBackend))
	return nil
}

// Close stops the workers and releases every backend in reverse order.
func (a *App) Close() error {
	var errs []error
	if a.Ingestor != nil {
		errs = append(errs, a.Ingestor.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if c := a.closers[i]; c != nil {
			errs = append(errs, c())
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
