package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// MemoryClient is an in-process KnowledgeRepository used by tests and the
// STORE_BACKEND=memory mode. Records are cloned on the way in and out.
type MemoryClient struct {
	mu    sync.RWMutex
	files map[string]*models.KnowledgeFile
	now   func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		files: make(map[string]*models.KnowledgeFile),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryClient) Close() error { return nil }

func (m *MemoryClient) CreateKnowledgeFile(_ context.Context, f *models.KnowledgeFile) error {
	if f == nil {
		return errors.New("nil knowledge file")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[f.ID]; ok {
		return fmt.Errorf("knowledge file %s already exists", f.ID)
	}
	if f.Generation == 0 {
		f.Generation = 1
	}
	m.files[f.ID] = f.Clone()
	return nil
}

func (m *MemoryClient) GetKnowledgeFile(_ context.Context, id string) (*models.KnowledgeFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[id].Clone(), nil
}

func (m *MemoryClient) ListKnowledgeFilesByChatbot(_ context.Context, chatbotID string) ([]models.KnowledgeFile, error) {
	out := m.collect(func(f *models.KnowledgeFile) bool { return f.ChatbotID == chatbotID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryClient) UpdateKnowledgeFile(_ context.Context, f *models.KnowledgeFile) error {
	if f == nil {
		return errors.New("nil knowledge file")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.files[f.ID]
	if !ok || cur.Generation != f.Generation {
		return fmt.Errorf("%w: %s@%d", core.ErrStaleGeneration, f.ID, f.Generation)
	}
	next := f.Clone()
	// identity columns are not part of an attempt write
	next.ChatbotID = cur.ChatbotID
	next.Title = cur.Title
	next.FileName = cur.FileName
	next.ContentType = cur.ContentType
	next.StorageKey = cur.StorageKey
	next.OriginalSize = cur.OriginalSize
	next.AdvancedRAG = cur.AdvancedRAG
	next.CreatedAt = cur.CreatedAt
	m.files[f.ID] = next
	return nil
}

func (m *MemoryClient) ResetKnowledgeFile(_ context.Context, id string) (*models.KnowledgeFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.files[id]
	if !ok {
		return nil, nil
	}
	cur.Reset(m.now())
	return cur.Clone(), nil
}

func (m *MemoryClient) DeleteKnowledgeFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return fmt.Errorf("%w: knowledge file %s", core.ErrNotFound, id)
	}
	delete(m.files, id)
	return nil
}

func (m *MemoryClient) ListStuckKnowledgeFiles(_ context.Context, before time.Time) ([]models.KnowledgeFile, error) {
	out := m.collect(func(f *models.KnowledgeFile) bool {
		return !f.Status.Terminal() && f.StatusChangedAt.Before(before)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StatusChangedAt.Before(out[j].StatusChangedAt) })
	return out, nil
}

func (m *MemoryClient) collect(keep func(*models.KnowledgeFile) bool) []models.KnowledgeFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.KnowledgeFile
	for _, f := range m.files {
		if keep(f) {
			out = append(out, *f.Clone())
		}
	}
	return out
}
