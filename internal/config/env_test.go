package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMemoryBackends(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("VECTOR_BACKEND", "memory")
	t.Setenv("OBJECT_BACKEND", "local")
	t.Setenv("LOCAL_STORAGE_DIR", t.TempDir())
	t.Setenv("CHUNK_SIZE", "400")
	t.Setenv("CHUNK_OVERLAP", "40")
	t.Setenv("STUCK_AFTER", "5m")
	t.Setenv("QDRANT_USE_TLS", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 400, cfg.ChunkSize)
	require.Equal(t, 40, cfg.ChunkOverlap)
	require.Equal(t, 5*time.Minute, cfg.StuckAfter)
	require.True(t, cfg.QdrantUseTLS)
}

func TestLoadConfigPostgresNeedsURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{
		StoreBackend:    "memory",
		VectorBackend:   "faiss",
		ObjectBackend:   "local",
		LocalStorageDir: "x",
		EmbedProvider:   "gemini",
		QueueBackend:    "memory",
		ChunkSize:       100,
		ChunkOverlap:    100,
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "VECTOR_BACKEND")
	require.Contains(t, err.Error(), "CHUNK_OVERLAP")
}

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("SOME_INT", "nope")
	t.Setenv("SOME_DUR", "soon")
	t.Setenv("SOME_BOOL", "maybe")

	require.Equal(t, 7, getEnvInt("SOME_INT", 7))
	require.Equal(t, time.Second, getEnvDuration("SOME_DUR", time.Second))
	require.True(t, getEnvBool("SOME_BOOL", true))
}
