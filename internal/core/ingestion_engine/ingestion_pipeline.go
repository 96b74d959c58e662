package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/core/optimizer"
	"github.com/markdave123-py/knowledge-ingest/internal/metrics"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// errSuperseded means the record moved to a newer generation (or was
// deleted) while this attempt ran.
var errSuperseded = errors.New("attempt superseded")

const failureWriteTimeout = 30 * time.Second

// NewDocumentIngestor wires the pipeline. A nil Queue selects a ChanQueue.
func NewDocumentIngestor(deps Dependencies, cfg *IngestConfig, log *zap.Logger) *DocumentIngestor {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	queue := deps.Queue
	if queue == nil {
		queue = NewChanQueue(64, log)
	}
	return &DocumentIngestor{
		repo:      deps.Repo,
		obj:       deps.Objects,
		store:     deps.Store,
		embedder:  deps.Embedder,
		optimizer: deps.Optimizer,
		chunker:   NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap),
		queue:     queue,
		locks:     newDocLocks(),
		cfg:       cfg,
		log:       log.Named("ingestor"),
		now:       time.Now,
	}
}

// Start launches numWorkers consumers of the job queue.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) error {
	return i.queue.Start(ctx, numWorkers, i.ProcessOne)
}

// Close stops the job queue.
func (i *DocumentIngestor) Close() error {
	return i.queue.Close()
}

// Enqueue schedules one attempt.
func (i *DocumentIngestor) Enqueue(ctx context.Context, job Job) error {
	return i.queue.Enqueue(ctx, job)
}

// Chunker exposes the configured chunker for previews.
func (i *DocumentIngestor) Chunker() *Chunker {
	return i.chunker
}

// Submit stores a new pending record and schedules its first attempt. It
// does not wait for ingestion.
func (i *DocumentIngestor) Submit(ctx context.Context, f *models.KnowledgeFile) error {
	now := i.now()
	f.Status = models.StatusPending
	f.Generation = 1
	f.ProcessingError = nil
	f.ChunkCount = nil
	f.OptimizedSize = nil
	f.SizeReduction = nil
	f.VectorDocumentID = nil
	f.InlineContent = nil
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	f.StatusChangedAt = now

	if err := i.repo.CreateKnowledgeFile(ctx, f); err != nil {
		return fmt.Errorf("create knowledge file: %w", err)
	}
	i.schedule(ctx, f)
	return nil
}

// Reingest resets the record to pending under a new generation and schedules
// a fresh attempt. Any attempt still running for an older generation will
// discard its result.
func (i *DocumentIngestor) Reingest(ctx context.Context, id string) (*models.KnowledgeFile, error) {
	f, err := i.repo.ResetKnowledgeFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reset knowledge file: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("knowledge file %s: %w", id, core.ErrNotFound)
	}
	i.log.Info("re-ingestion requested",
		zap.String("document_id", f.ID),
		zap.Int64("generation", f.Generation))
	i.schedule(ctx, f)
	return f, nil
}

// schedule enqueues the record's current generation. When the queue refuses
// the job the record is failed rather than left pending forever.
func (i *DocumentIngestor) schedule(ctx context.Context, f *models.KnowledgeFile) {
	err := i.queue.Enqueue(ctx, Job{DocumentID: f.ID, Generation: f.Generation})
	if err == nil {
		return
	}
	i.log.Error("enqueue ingestion failed", zap.String("document_id", f.ID), zap.Error(err))
	a := &attempt{i: i, file: f, log: i.log.With(zap.String("document_id", f.ID))}
	_ = a.fail(ctx, fmt.Errorf("enqueue ingestion: %w", err))
}

// Delete removes the record, its chunks and its raw upload. Attempts still
// running for it find their generation gone and drop their output.
func (i *DocumentIngestor) Delete(ctx context.Context, id string) error {
	f, err := i.repo.GetKnowledgeFile(ctx, id)
	if err != nil {
		return fmt.Errorf("load knowledge file: %w", err)
	}
	if f == nil {
		return fmt.Errorf("knowledge file %s: %w", id, core.ErrNotFound)
	}

	if err := i.repo.DeleteKnowledgeFile(ctx, id); err != nil {
		return fmt.Errorf("delete knowledge file: %w", err)
	}
	if err := i.store.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("%w: delete chunks of %s: %v", core.ErrStorageFailed, id, err)
	}
	if f.StorageKey != "" && i.obj != nil {
		if err := i.obj.DeleteFile(ctx, i.cfg.Bucket, f.StorageKey); err != nil {
			i.log.Warn("raw upload not deleted", zap.String("document_id", id), zap.Error(err))
		}
	}
	i.log.Info("knowledge file deleted", zap.String("document_id", id))
	return nil
}

// Stuck lists records that have sat in a non-terminal status for longer than
// olderThan, e.g. because a worker died mid-attempt.
func (i *DocumentIngestor) Stuck(ctx context.Context, olderThan time.Duration) ([]models.KnowledgeFile, error) {
	files, err := i.repo.ListStuckKnowledgeFiles(ctx, i.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("list stuck knowledge files: %w", err)
	}
	metrics.KnowledgeFilesStuck.Set(float64(len(files)))
	return files, nil
}

// ProcessOne runs one ingestion attempt. Within this process at most one
// attempt per document runs at a time; across processes the vector store
// refuses chunks older than the ones it holds. Jobs for an outdated
// generation or a non-pending record are dropped.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, job Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.AttemptTimeout)
	defer cancel()

	log := i.log.With(zap.String("document_id", job.DocumentID), zap.Int64("generation", job.Generation))

	unlock, err := i.locks.Lock(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("lock document %s: %w", job.DocumentID, err)
	}
	defer unlock()

	f, err := i.repo.GetKnowledgeFile(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load knowledge file: %w", err)
	}
	switch {
	case f == nil:
		log.Info("knowledge file gone, dropping job")
		metrics.IngestionAttemptsTotal.WithLabelValues("superseded").Inc()
		return nil
	case f.Generation != job.Generation:
		log.Info("job superseded by newer generation", zap.Int64("current_generation", f.Generation))
		metrics.IngestionAttemptsTotal.WithLabelValues("superseded").Inc()
		return nil
	case f.Status != models.StatusPending:
		log.Info("knowledge file not pending, skipping", zap.String("status", string(f.Status)))
		return nil
	}

	a := &attempt{i: i, file: f, log: log, started: i.now()}
	defer func() {
		if r := recover(); r != nil {
			log.Error("ingestion panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = a.fail(ctx, fmt.Errorf("internal error: %v", r))
		}
	}()
	return a.run(ctx)
}

// attempt carries one run of the pipeline for one record.
type attempt struct {
	i       *DocumentIngestor
	file    *models.KnowledgeFile
	log     *zap.Logger
	started time.Time
}

func (a *attempt) run(ctx context.Context) error {
	// rows of an older generation must not outlive this attempt
	if err := a.i.store.DeleteGenerations(ctx, a.file.ID, a.file.Generation); err != nil {
		return a.fail(ctx, fmt.Errorf("%w: clear previous chunks: %v", core.ErrStorageFailed, err))
	}

	if err := a.advance(ctx, models.StatusOptimizing); err != nil {
		return a.abort(ctx, err)
	}

	workDir, err := os.MkdirTemp(a.i.cfg.WorkDir, "ingest-*")
	if err != nil {
		return a.fail(ctx, fmt.Errorf("%w: scratch dir: %v", core.ErrOptimizationFailed, err))
	}
	defer os.RemoveAll(workDir)

	t := time.Now()
	res, err := a.optimize(ctx, workDir)
	metrics.IngestionStageDuration.WithLabelValues("optimize").Observe(time.Since(t).Seconds())
	if err != nil {
		return a.fail(ctx, err)
	}
	optimized := res.OptimizedSize
	reduction := res.ReductionPercent
	a.file.OptimizedSize = &optimized
	a.file.SizeReduction = &reduction

	if !a.file.AdvancedRAG {
		text := res.Text
		zero := 0
		a.file.InlineContent = &text
		a.file.ChunkCount = &zero
		return a.complete(ctx)
	}

	if err := a.advance(ctx, models.StatusProcessing); err != nil {
		return a.abort(ctx, err)
	}

	t = time.Now()
	chunks := a.i.chunker.Chunk(res.Text, ChunkMeta{
		ChatbotID:  a.file.ChatbotID,
		DocumentID: a.file.ID,
		Generation: a.file.Generation,
	})
	if len(chunks) == 0 {
		return a.fail(ctx, fmt.Errorf("%w: no text to chunk", core.ErrChunkingFailed))
	}
	err = a.i.embedChunks(ctx, chunks, a.log)
	metrics.IngestionStageDuration.WithLabelValues("embed").Observe(time.Since(t).Seconds())
	if err != nil {
		return a.fail(ctx, err)
	}

	if err := a.advance(ctx, models.StatusStoring); err != nil {
		return a.abort(ctx, err)
	}

	t = time.Now()
	err = a.i.store.UpsertChunks(ctx, a.file.ID, a.file.Generation, chunks)
	metrics.IngestionStageDuration.WithLabelValues("store").Observe(time.Since(t).Seconds())
	if errors.Is(err, core.ErrStaleGeneration) {
		// another process already stored a newer generation
		a.discard(ctx)
		return nil
	}
	if err != nil {
		return a.fail(ctx, wrapStage(core.ErrStorageFailed, err))
	}
	metrics.ChunksStoredTotal.Add(float64(len(chunks)))

	count := len(chunks)
	vectorDocID := a.file.ID
	a.file.ChunkCount = &count
	a.file.VectorDocumentID = &vectorDocID
	return a.complete(ctx)
}

// optimize downloads the raw upload into workDir and runs the optimizer on it.
func (a *attempt) optimize(ctx context.Context, workDir string) (*optimizer.Result, error) {
	name := filepath.Base(a.file.FileName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload"
	}
	src := filepath.Join(workDir, name)

	rc, err := a.i.obj.GetObjectReader(ctx, a.i.cfg.Bucket, a.file.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch raw upload: %v", core.ErrOptimizationFailed, err)
	}
	defer rc.Close()

	out, err := os.Create(src)
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch file: %v", core.ErrOptimizationFailed, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("%w: download raw upload: %v", core.ErrOptimizationFailed, err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("%w: close scratch file: %v", core.ErrOptimizationFailed, err)
	}

	res, err := a.i.optimizer.Optimize(ctx, src, "", a.file.ContentType)
	if err != nil {
		return nil, wrapStage(core.ErrOptimizationFailed, err)
	}
	metrics.OptimizerReductionPercent.WithLabelValues(res.Strategy).Observe(float64(res.ReductionPercent))
	a.log.Debug("optimized",
		zap.String("strategy", res.Strategy),
		zap.Int64("original_size", res.OriginalSize),
		zap.Int64("optimized_size", res.OptimizedSize))
	return res, nil
}

// advance moves the record forward and persists it, conditional on the
// attempt's generation. The in-memory status is restored when the write fails.
func (a *attempt) advance(ctx context.Context, to models.Status) error {
	prev, prevAt := a.file.Status, a.file.StatusChangedAt
	if err := a.file.Transition(to, a.i.now()); err != nil {
		return err
	}
	if err := a.i.repo.UpdateKnowledgeFile(ctx, a.file); err != nil {
		a.file.Status, a.file.StatusChangedAt = prev, prevAt
		if errors.Is(err, core.ErrStaleGeneration) {
			return errSuperseded
		}
		return fmt.Errorf("%w: update status to %s: %v", core.ErrStorageFailed, to, err)
	}
	a.log.Debug("status changed", zap.String("from", string(prev)), zap.String("to", string(to)))
	return nil
}

func (a *attempt) complete(ctx context.Context) error {
	if err := a.advance(ctx, models.StatusCompleted); err != nil {
		return a.abort(ctx, err)
	}
	metrics.IngestionAttemptsTotal.WithLabelValues("completed").Inc()
	chunks := 0
	if a.file.ChunkCount != nil {
		chunks = *a.file.ChunkCount
	}
	a.log.Info("ingestion completed",
		zap.Int("chunk_count", chunks),
		zap.Duration("took", a.i.now().Sub(a.started)))
	return nil
}

// abort ends the attempt after a failed status write.
func (a *attempt) abort(ctx context.Context, err error) error {
	if errors.Is(err, errSuperseded) {
		a.discard(ctx)
		return nil
	}
	return a.fail(ctx, err)
}

// discard drops the rows this attempt and older ones may have written.
func (a *attempt) discard(ctx context.Context) {
	a.cleanup(ctx)
	metrics.IngestionAttemptsTotal.WithLabelValues("superseded").Inc()
	a.log.Info("attempt superseded, result discarded")
}

func (a *attempt) cleanup(ctx context.Context) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := a.i.store.DeleteGenerations(cctx, a.file.ID, a.file.Generation); err != nil {
		a.log.Error("chunk cleanup failed", zap.Error(err))
	}
}

// fail records the failure on the record and returns cause. The write uses a
// context detached from ctx so cancelled attempts still end up failed.
func (a *attempt) fail(ctx context.Context, cause error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	a.cleanup(wctx)

	stage := a.file.Status
	msg := truncateError(cause.Error(), a.i.cfg.MaxErrorLen)
	if err := a.file.Transition(models.StatusFailed, a.i.now()); err != nil {
		a.log.Error("cannot mark failed", zap.Error(err), zap.NamedError("cause", cause))
		return cause
	}
	a.file.ProcessingError = &msg
	a.file.ChunkCount = nil
	a.file.VectorDocumentID = nil
	a.file.InlineContent = nil

	if err := a.i.repo.UpdateKnowledgeFile(wctx, a.file); err != nil {
		if errors.Is(err, core.ErrStaleGeneration) {
			a.discard(wctx)
			return nil
		}
		a.log.Error("failure not recorded", zap.Error(err), zap.NamedError("cause", cause))
		return fmt.Errorf("%w (recording failure: %v)", cause, err)
	}

	metrics.IngestionAttemptsTotal.WithLabelValues("failed").Inc()
	a.log.Warn("ingestion failed", zap.String("stage", string(stage)), zap.Error(cause))
	return cause
}

// wrapStage tags err with the stage sentinel unless it already carries it.
func wrapStage(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// truncateError cuts msg to at most max bytes on a rune boundary.
func truncateError(msg string, max int) string {
	if max <= 0 || len(msg) <= max {
		return msg
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
