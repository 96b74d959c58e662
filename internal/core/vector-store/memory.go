package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// MemoryStore keeps chunks in a map keyed by document. The first write fixes
// the dimension; later writes of another size are rejected whole.
type MemoryStore struct {
	mu   sync.RWMutex
	dim  int
	docs map[string][]models.Chunk
	// gens holds the generation that last wrote each document, including
	// writes of an empty batch.
	gens map[string]int64
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, docs: make(map[string][]models.Chunk), gens: make(map[string]int64)}
}

func (m *MemoryStore) UpsertChunks(ctx context.Context, documentID string, generation int64, chunks []models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return storageErr("upsert", err)
	}
	dim, err := validateBatch(documentID, chunks)
	if err != nil {
		return storageErr("upsert", err)
	}

	staged := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		c.Generation = generation
		c.Embedding = append([]float32(nil), c.Embedding...)
		staged[i] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.gens[documentID]; cur > generation {
		return staleErr(documentID, generation)
	}
	if len(staged) > 0 && m.dim != 0 && dim != m.dim {
		return storageErr("upsert", fmt.Errorf("vector dimension %d, store holds %d", dim, m.dim))
	}
	m.gens[documentID] = generation
	if len(staged) == 0 {
		delete(m.docs, documentID)
		return nil
	}
	if m.dim == 0 {
		m.dim = dim
	}
	m.docs[documentID] = staged
	return nil
}

func (m *MemoryStore) DeleteGenerations(_ context.Context, documentID string, upTo int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[documentID] > upTo {
		return nil
	}
	delete(m.docs, documentID)
	delete(m.gens, documentID)
	return nil
}

func (m *MemoryStore) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	delete(m.docs, documentID)
	delete(m.gens, documentID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) QueryNearest(ctx context.Context, vector []float32, k int, filter models.ChunkFilter) ([]models.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("query", err)
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	if m.dim != 0 && len(vector) != m.dim {
		m.mu.RUnlock()
		return nil, storageErr("query", fmt.Errorf("query has %d dimensions, store holds %d", len(vector), m.dim))
	}
	var out []models.ScoredChunk
	for docID, chunks := range m.docs {
		if filter.DocumentID != "" && docID != filter.DocumentID {
			continue
		}
		for _, c := range chunks {
			if filter.ChatbotID != "" && c.ChatbotID != filter.ChatbotID {
				continue
			}
			out = append(out, models.ScoredChunk{Chunk: c, Score: Cosine(vector, c.Embedding)})
		}
	}
	m.mu.RUnlock()

	return topK(out, k), nil
}

// Generation returns the generation that wrote documentID's chunks, or 0.
func (m *MemoryStore) Generation(documentID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[documentID]
}

// Count returns the number of chunks stored for documentID.
func (m *MemoryStore) Count(documentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[documentID])
}
