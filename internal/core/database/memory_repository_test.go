package db

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

func newFile(id string, changed time.Time) *models.KnowledgeFile {
	return &models.KnowledgeFile{
		ID:              id,
		ChatbotID:       "bot-1",
		FileName:        id + ".txt",
		Status:          models.StatusPending,
		AdvancedRAG:     true,
		CreatedAt:       changed,
		UpdatedAt:       changed,
		StatusChangedAt: changed,
	}
}

func TestMemoryClientCreateGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClient()

	f := newFile("a", time.Now())
	require.NoError(t, repo.CreateKnowledgeFile(ctx, f))
	require.Equal(t, int64(1), f.Generation)
	require.Error(t, repo.CreateKnowledgeFile(ctx, f))

	got, err := repo.GetKnowledgeFile(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "a.txt", got.FileName)

	// callers get copies
	got.FileName = "changed"
	again, _ := repo.GetKnowledgeFile(ctx, "a")
	require.Equal(t, "a.txt", again.FileName)

	missing, err := repo.GetKnowledgeFile(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMemoryClientUpdateChecksGeneration(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClient()
	require.NoError(t, repo.CreateKnowledgeFile(ctx, newFile("a", time.Now())))

	stale, _ := repo.GetKnowledgeFile(ctx, "a")

	reset, err := repo.ResetKnowledgeFile(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(2), reset.Generation)

	stale.Status = models.StatusOptimizing
	err = repo.UpdateKnowledgeFile(ctx, stale)
	require.ErrorIs(t, err, core.ErrStaleGeneration)

	reset.Status = models.StatusOptimizing
	require.NoError(t, repo.UpdateKnowledgeFile(ctx, reset))

	got, _ := repo.GetKnowledgeFile(ctx, "a")
	require.Equal(t, models.StatusOptimizing, got.Status)

	ghost := newFile("ghost", time.Now())
	ghost.Generation = 1
	require.ErrorIs(t, repo.UpdateKnowledgeFile(ctx, ghost), core.ErrStaleGeneration)
}

func TestMemoryClientResetClearsAttempt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClient()
	require.NoError(t, repo.CreateKnowledgeFile(ctx, newFile("a", time.Now())))

	f, _ := repo.GetKnowledgeFile(ctx, "a")
	msg := "boom"
	count := 3
	f.Status = models.StatusFailed
	f.ProcessingError = &msg
	f.ChunkCount = &count
	require.NoError(t, repo.UpdateKnowledgeFile(ctx, f))

	reset, err := repo.ResetKnowledgeFile(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, reset.Status)
	require.Nil(t, reset.ProcessingError)
	require.Nil(t, reset.ChunkCount)

	none, err := repo.ResetKnowledgeFile(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestMemoryClientStuckAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClient()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	old := newFile("old", base.Add(-time.Hour))
	fresh := newFile("fresh", base)
	done := newFile("done", base.Add(-2*time.Hour))
	done.Status = models.StatusCompleted
	for _, f := range []*models.KnowledgeFile{old, fresh, done} {
		require.NoError(t, repo.CreateKnowledgeFile(ctx, f))
	}

	stuck, err := repo.ListStuckKnowledgeFiles(ctx, base.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "old", stuck[0].ID)

	all, err := repo.ListKnowledgeFilesByChatbot(ctx, "bot-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "fresh", all[0].ID)
}

func TestMemoryClientDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClient()
	require.NoError(t, repo.CreateKnowledgeFile(ctx, newFile("a", time.Now())))
	require.NoError(t, repo.DeleteKnowledgeFile(ctx, "a"))
	require.ErrorIs(t, repo.DeleteKnowledgeFile(ctx, "a"), core.ErrNotFound)
}

func TestBootstrapSQLRendersDimension(t *testing.T) {
	script, err := bootstrapSQL(768)
	require.NoError(t, err)
	require.Contains(t, script, "vector(768)")
	require.False(t, strings.Contains(script, "{{EMBED_DIM}}"))

	_, err = bootstrapSQL(0)
	require.Error(t, err)
}

func TestBootstrapSQLMigratesChunkGeneration(t *testing.T) {
	script, err := bootstrapSQL(3)
	require.NoError(t, err)
	require.Contains(t, script, "ADD COLUMN IF NOT EXISTS generation BIGINT")
	require.Contains(t, script, fmt.Sprintf("(%d) ON CONFLICT DO NOTHING", schemaVersion))
}

func TestWithSSL(t *testing.T) {
	dsn, err := withSSL("postgres://u:p@localhost:5432/db", "")
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@localhost:5432/db", dsn)

	_, err = withSSL("postgres://u:p@localhost:5432/db", "/does/not/exist.pem")
	require.Error(t, err)
}
