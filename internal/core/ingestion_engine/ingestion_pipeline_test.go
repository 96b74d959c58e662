package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	db "github.com/markdave123-py/knowledge-ingest/internal/core/database"
	objectclient "github.com/markdave123-py/knowledge-ingest/internal/core/object-client"
	"github.com/markdave123-py/knowledge-ingest/internal/core/optimizer"
	vectorstore "github.com/markdave123-py/knowledge-ingest/internal/core/vector-store"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

const testBucket = "uploads"

type fakeEmbedder struct {
	calls atomic.Int64
	hook  func(ctx context.Context, text string) error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.hook != nil {
		if err := e.hook(ctx, text); err != nil {
			return nil, err
		}
	}
	return []float32{1, float32(len(text)%7) + 1, float32(strings.Count(text, "a")), 0.5}, nil
}

func (e *fakeEmbedder) Dimension() int { return 4 }

type recordQueue struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (q *recordQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordQueue) Start(context.Context, int, JobHandler) error { return nil }
func (q *recordQueue) Close() error                                  { return nil }

func (q *recordQueue) last(t *testing.T) Job {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.jobs)
	return q.jobs[len(q.jobs)-1]
}

// statusLog records every status the orchestrator persists.
type statusLog struct {
	*db.MemoryClient
	mu       sync.Mutex
	statuses []models.Status
}

func (r *statusLog) UpdateKnowledgeFile(ctx context.Context, f *models.KnowledgeFile) error {
	err := r.MemoryClient.UpdateKnowledgeFile(ctx, f)
	if err == nil {
		r.mu.Lock()
		r.statuses = append(r.statuses, f.Status)
		r.mu.Unlock()
	}
	return err
}

// partialStore writes the first nine chunks and then fails.
type partialStore struct {
	*vectorstore.MemoryStore
}

func (s *partialStore) UpsertChunks(ctx context.Context, documentID string, generation int64, chunks []models.Chunk) error {
	if len(chunks) > 9 {
		if err := s.MemoryStore.UpsertChunks(ctx, documentID, generation, chunks[:9]); err != nil {
			return err
		}
	}
	return errors.New("connection reset by peer")
}

// hookStore runs beforeUpsert ahead of every write.
type hookStore struct {
	*vectorstore.MemoryStore
	beforeUpsert func(generation int64)
}

func (s *hookStore) UpsertChunks(ctx context.Context, documentID string, generation int64, chunks []models.Chunk) error {
	if s.beforeUpsert != nil {
		s.beforeUpsert(generation)
	}
	return s.MemoryStore.UpsertChunks(ctx, documentID, generation, chunks)
}

type harness struct {
	ing   *DocumentIngestor
	repo  *statusLog
	store *vectorstore.MemoryStore
	obj   *objectclient.LocalClient
	emb   *fakeEmbedder
	queue *recordQueue
}

func newHarness(t *testing.T, wrapStore func(*vectorstore.MemoryStore) core.VectorStore) *harness {
	t.Helper()
	obj, err := objectclient.NewLocalClient(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		repo:  &statusLog{MemoryClient: db.NewMemoryClient()},
		store: vectorstore.NewMemoryStore(4),
		obj:   obj,
		emb:   &fakeEmbedder{},
		queue: &recordQueue{},
	}
	var store core.VectorStore = h.store
	if wrapStore != nil {
		store = wrapStore(h.store)
	}
	h.ing = h.newIngestor(t, store, h.emb, h.queue)
	return h
}

// peer is a second ingestor sharing the record store, objects and vectors,
// standing in for another worker process.
func (h *harness) peer(t *testing.T) (*DocumentIngestor, *recordQueue) {
	t.Helper()
	q := &recordQueue{}
	return h.newIngestor(t, h.store, &fakeEmbedder{}, q), q
}

func (h *harness) newIngestor(t *testing.T, store core.VectorStore, emb core.Embedder, q JobQueue) *DocumentIngestor {
	t.Helper()
	return NewDocumentIngestor(Dependencies{
		Repo:      h.repo,
		Objects:   h.obj,
		Store:     store,
		Embedder:  emb,
		Optimizer: optimizer.NewOptimizer(optimizer.NewDocconvExtractor(false), zap.NewNop()),
		Queue:     q,
	}, &IngestConfig{
		MaxChunkSize:     100,
		ChunkOverlap:     20,
		EmbedConcurrency: 3,
		MaxEmbedRetries:  4,
		RetryInitial:     time.Millisecond,
		RetryMax:         5 * time.Millisecond,
		AttemptTimeout:   time.Minute,
		Bucket:           testBucket,
		WorkDir:          t.TempDir(),
	}, zap.NewNop())
}

func sampleText(repeats int) string {
	return strings.Repeat("alpha beta gamma delta. ", repeats)
}

func (h *harness) submit(t *testing.T, id, text string, advanced bool) *models.KnowledgeFile {
	t.Helper()
	ctx := context.Background()
	key := "bot-1/" + id + "/notes.txt"
	_, err := h.obj.UploadFile(ctx, testBucket, key, strings.NewReader(text), "text/plain")
	require.NoError(t, err)

	f := &models.KnowledgeFile{
		ID:           id,
		ChatbotID:    "bot-1",
		Title:        "Notes",
		FileName:     "notes.txt",
		ContentType:  "text/plain",
		StorageKey:   key,
		OriginalSize: int64(len(text)),
		AdvancedRAG:  advanced,
	}
	require.NoError(t, h.ing.Submit(ctx, f))
	return f
}

func (h *harness) get(t *testing.T, id string) *models.KnowledgeFile {
	t.Helper()
	f, err := h.repo.GetKnowledgeFile(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, f)
	return f
}

func TestProcessOneCompletes(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(t, "doc-1", sampleText(20), true)

	job := h.queue.last(t)
	require.Equal(t, Job{DocumentID: "doc-1", Generation: 1}, job)
	require.Equal(t, models.StatusPending, h.get(t, "doc-1").Status)

	require.NoError(t, h.ing.ProcessOne(context.Background(), job))

	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusCompleted, f.Status)
	require.NotNil(t, f.ChunkCount)
	require.Greater(t, *f.ChunkCount, 0)
	require.Equal(t, *f.ChunkCount, h.store.Count("doc-1"))
	require.NotNil(t, f.VectorDocumentID)
	require.Equal(t, "doc-1", *f.VectorDocumentID)
	require.Nil(t, f.ProcessingError)
	require.NotNil(t, f.OptimizedSize)
	require.LessOrEqual(t, *f.OptimizedSize, f.OriginalSize)

	require.Equal(t, []models.Status{
		models.StatusOptimizing,
		models.StatusProcessing,
		models.StatusStoring,
		models.StatusCompleted,
	}, h.repo.statuses)

	hits, err := h.store.QueryNearest(context.Background(), []float32{1, 1, 1, 1}, 100, models.ChunkFilter{DocumentID: "doc-1"})
	require.NoError(t, err)
	require.Len(t, hits, *f.ChunkCount)
	for _, hit := range hits {
		require.NotEmpty(t, hit.ID)
		require.Equal(t, "bot-1", hit.ChatbotID)
	}
}

func TestProcessOneEmbeddingFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.emb.hook = func(context.Context, string) error {
		return fmt.Errorf("%w: status 400", core.ErrInvalidInput)
	}
	h.submit(t, "doc-1", sampleText(20), true)

	err := h.ing.ProcessOne(context.Background(), h.queue.last(t))
	require.ErrorIs(t, err, core.ErrEmbeddingFailed)

	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusFailed, f.Status)
	require.NotNil(t, f.ProcessingError)
	require.Contains(t, *f.ProcessingError, "invalid input")
	require.Nil(t, f.ChunkCount)
	require.Nil(t, f.VectorDocumentID)
	require.Zero(t, h.store.Count("doc-1"))
}

func TestProcessOneRetriesRateLimits(t *testing.T) {
	h := newHarness(t, nil)
	var failures atomic.Int64
	h.emb.hook = func(context.Context, string) error {
		if failures.Add(1) <= 2 {
			return fmt.Errorf("%w: status 429", core.ErrRateLimited)
		}
		return nil
	}
	h.submit(t, "doc-1", sampleText(20), true)

	require.NoError(t, h.ing.ProcessOne(context.Background(), h.queue.last(t)))
	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusCompleted, f.Status)
	require.Equal(t, *f.ChunkCount, h.store.Count("doc-1"))
}

func TestProcessOneGivesUpAfterRetries(t *testing.T) {
	h := newHarness(t, nil)
	h.emb.hook = func(context.Context, string) error {
		return fmt.Errorf("%w: status 503", core.ErrProviderUnavailable)
	}
	h.submit(t, "doc-1", sampleText(2), true)

	err := h.ing.ProcessOne(context.Background(), h.queue.last(t))
	require.ErrorIs(t, err, core.ErrProviderUnavailable)
	require.Equal(t, models.StatusFailed, h.get(t, "doc-1").Status)
	// one initial call plus MaxEmbedRetries per distinct chunk
	require.GreaterOrEqual(t, h.emb.calls.Load(), int64(5))
}

func TestReingestReplacesChunks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	first := h.submit(t, "doc-1", sampleText(20), true)
	require.NoError(t, h.ing.ProcessOne(ctx, h.queue.last(t)))
	before := *h.get(t, "doc-1").ChunkCount

	_, err := h.obj.UploadFile(ctx, testBucket, first.StorageKey, strings.NewReader(sampleText(5)), "text/plain")
	require.NoError(t, err)

	reset, err := h.ing.Reingest(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), reset.Generation)
	require.Equal(t, models.StatusPending, reset.Status)
	require.Nil(t, reset.ChunkCount)

	require.NoError(t, h.ing.ProcessOne(ctx, h.queue.last(t)))
	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusCompleted, f.Status)
	require.Less(t, *f.ChunkCount, before)
	require.Equal(t, *f.ChunkCount, h.store.Count("doc-1"))

	// the first generation's job is now a no-op
	require.NoError(t, h.ing.ProcessOne(ctx, Job{DocumentID: "doc-1", Generation: 1}))
	require.Equal(t, models.StatusCompleted, h.get(t, "doc-1").Status)
}

func TestBackToBackReingestLatestWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.submit(t, "doc-1", sampleText(10), true)

	_, err := h.ing.Reingest(ctx, "doc-1")
	require.NoError(t, err)
	latest, err := h.ing.Reingest(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), latest.Generation)

	for _, gen := range []int64{1, 2} {
		require.NoError(t, h.ing.ProcessOne(ctx, Job{DocumentID: "doc-1", Generation: gen}))
		require.Equal(t, models.StatusPending, h.get(t, "doc-1").Status)
	}
	require.Zero(t, h.emb.calls.Load())

	require.NoError(t, h.ing.ProcessOne(ctx, Job{DocumentID: "doc-1", Generation: 3}))
	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusCompleted, f.Status)
	require.Equal(t, int64(3), f.Generation)
}

func TestSupersededAttemptDiscardsResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	var (
		once       sync.Once
		reingestEr error
	)
	h.emb.hook = func(context.Context, string) error {
		once.Do(func() {
			_, reingestEr = h.ing.Reingest(ctx, "doc-1")
		})
		return nil
	}
	h.submit(t, "doc-1", sampleText(20), true)

	require.NoError(t, h.ing.ProcessOne(ctx, Job{DocumentID: "doc-1", Generation: 1}))
	require.NoError(t, reingestEr)

	f := h.get(t, "doc-1")
	require.Equal(t, int64(2), f.Generation)
	require.Equal(t, models.StatusPending, f.Status)
	require.Nil(t, f.ChunkCount)
	require.Zero(t, h.store.Count("doc-1"))

	h.emb.hook = nil
	require.NoError(t, h.ing.ProcessOne(ctx, h.queue.last(t)))
	require.Equal(t, models.StatusCompleted, h.get(t, "doc-1").Status)
}

func TestSupersededAttemptKeepsNewerGenerationFromAnotherWorker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	other, otherQueue := h.peer(t)

	var (
		once     sync.Once
		otherErr error
	)
	h.emb.hook = func(context.Context, string) error {
		once.Do(func() {
			reset, err := other.Reingest(ctx, "doc-1")
			if err != nil {
				otherErr = err
				return
			}
			otherErr = other.ProcessOne(ctx, Job{DocumentID: reset.ID, Generation: reset.Generation})
		})
		return nil
	}
	h.submit(t, "doc-1", sampleText(20), true)

	require.NoError(t, h.ing.ProcessOne(ctx, Job{DocumentID: "doc-1", Generation: 1}))
	require.NoError(t, otherErr)
	require.Equal(t, Job{DocumentID: "doc-1", Generation: 2}, otherQueue.last(t))

	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusCompleted, f.Status)
	require.Equal(t, int64(2), f.Generation)
	require.NotNil(t, f.ChunkCount)
	require.Positive(t, *f.ChunkCount)
	require.Equal(t, *f.ChunkCount, h.store.Count("doc-1"))
	require.Equal(t, int64(2), h.store.Generation("doc-1"))
}

func TestOlderUpsertAfterNewerGenerationIsRefused(t *testing.T) {
	ctx := context.Background()
	hs := &hookStore{}
	h := newHarness(t, func(m *vectorstore.MemoryStore) core.VectorStore {
		hs.MemoryStore = m
		return hs
	})
	other, otherQueue := h.peer(t)

	// the first attempt passes its last status check, then another worker
	// stores generation 2 before the first attempt writes its chunks
	var (
		once     sync.Once
		otherErr error
	)
	hs.beforeUpsert = func(generation int64) {
		if generation != 1 {
			return
		}
		once.Do(func() {
			reset, err := other.Reingest(ctx, "doc-1")
			if err != nil {
				otherErr = err
				return
			}
			otherErr = other.ProcessOne(ctx, Job{DocumentID: reset.ID, Generation: reset.Generation})
		})
	}
	h.submit(t, "doc-1", sampleText(20), true)

	require.NoError(t, h.ing.ProcessOne(ctx, Job{DocumentID: "doc-1", Generation: 1}))
	require.NoError(t, otherErr)
	require.Equal(t, Job{DocumentID: "doc-1", Generation: 2}, otherQueue.last(t))

	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusCompleted, f.Status)
	require.Equal(t, int64(2), f.Generation)
	require.Equal(t, *f.ChunkCount, h.store.Count("doc-1"))
	require.Equal(t, int64(2), h.store.Generation("doc-1"))
}

func TestStoreFailureLeavesNoChunks(t *testing.T) {
	h := newHarness(t, func(m *vectorstore.MemoryStore) core.VectorStore { return &partialStore{MemoryStore: m} })
	h.submit(t, "doc-1", sampleText(60), true)

	err := h.ing.ProcessOne(context.Background(), h.queue.last(t))
	require.ErrorIs(t, err, core.ErrStorageFailed)

	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusFailed, f.Status)
	require.Contains(t, *f.ProcessingError, "storage failed")
	require.Nil(t, f.ChunkCount)
	require.Zero(t, h.store.Count("doc-1"))
}

func TestAdvancedRAGOffStoresInlineContent(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(t, "doc-1", sampleText(3), false)

	require.NoError(t, h.ing.ProcessOne(context.Background(), h.queue.last(t)))

	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusCompleted, f.Status)
	require.NotNil(t, f.ChunkCount)
	require.Zero(t, *f.ChunkCount)
	require.NotNil(t, f.InlineContent)
	require.Equal(t, strings.TrimSpace(sampleText(3)), *f.InlineContent)
	require.Zero(t, h.emb.calls.Load())
	require.Zero(t, h.store.Count("doc-1"))
	require.Equal(t, []models.Status{models.StatusOptimizing, models.StatusCompleted}, h.repo.statuses)
}

func TestProcessOneMissingUpload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	f := &models.KnowledgeFile{
		ID: "doc-1", ChatbotID: "bot-1", FileName: "notes.txt",
		ContentType: "text/plain", StorageKey: "never/uploaded.txt", AdvancedRAG: true,
	}
	require.NoError(t, h.ing.Submit(ctx, f))

	err := h.ing.ProcessOne(ctx, h.queue.last(t))
	require.ErrorIs(t, err, core.ErrOptimizationFailed)
	got := h.get(t, "doc-1")
	require.Equal(t, models.StatusFailed, got.Status)
	require.Contains(t, *got.ProcessingError, "optimization failed")
}

func TestProcessOneSkipsNonPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.submit(t, "doc-1", sampleText(5), true)
	job := h.queue.last(t)
	require.NoError(t, h.ing.ProcessOne(ctx, job))
	calls := h.emb.calls.Load()

	// redelivery of the same job does nothing
	require.NoError(t, h.ing.ProcessOne(ctx, job))
	require.Equal(t, calls, h.emb.calls.Load())
	require.Equal(t, models.StatusCompleted, h.get(t, "doc-1").Status)
}

func TestEnqueueFailureMarksFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.queue.err = errors.New("redis down")
	h.submit(t, "doc-1", sampleText(2), true)

	f := h.get(t, "doc-1")
	require.Equal(t, models.StatusFailed, f.Status)
	require.Contains(t, *f.ProcessingError, "redis down")
}

func TestDeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	f := h.submit(t, "doc-1", sampleText(10), true)
	require.NoError(t, h.ing.ProcessOne(ctx, h.queue.last(t)))
	require.Positive(t, h.store.Count("doc-1"))

	require.NoError(t, h.ing.Delete(ctx, "doc-1"))

	got, err := h.repo.GetKnowledgeFile(ctx, "doc-1")
	require.NoError(t, err)
	require.Nil(t, got)
	require.Zero(t, h.store.Count("doc-1"))
	_, err = h.obj.GetObjectReader(ctx, testBucket, f.StorageKey)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.ErrorIs(t, h.ing.Delete(ctx, "doc-1"), core.ErrNotFound)
	_, err = h.ing.Reingest(ctx, "doc-1")
	require.ErrorIs(t, err, core.ErrNotFound)

	// a job still queued for the deleted record is dropped
	require.NoError(t, h.ing.ProcessOne(ctx, Job{DocumentID: "doc-1", Generation: 1}))
}

func TestStuckListsOldNonTerminalRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	old := time.Now().Add(-time.Hour)

	for _, f := range []*models.KnowledgeFile{
		{ID: "stuck", ChatbotID: "bot-1", Status: models.StatusProcessing, StatusChangedAt: old},
		{ID: "done", ChatbotID: "bot-1", Status: models.StatusCompleted, StatusChangedAt: old},
		{ID: "fresh", ChatbotID: "bot-1", Status: models.StatusPending, StatusChangedAt: time.Now()},
	} {
		require.NoError(t, h.repo.CreateKnowledgeFile(ctx, f))
	}

	stuck, err := h.ing.Stuck(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "stuck", stuck[0].ID)

	// a stuck record can be re-ingested
	reset, err := h.ing.Reingest(ctx, "stuck")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, reset.Status)
}

func TestTruncateError(t *testing.T) {
	require.Equal(t, "short", truncateError("short", 512))
	require.Equal(t, "abc", truncateError("abcdef", 3))
	// never split a multi-byte rune
	require.Equal(t, "a", truncateError("aé", 2))
}
