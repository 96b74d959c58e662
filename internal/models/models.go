package models

import (
	"time"
)

// KnowledgeFile is one uploaded source file attached to a chatbot, plus the
// bookkeeping of its latest ingestion attempt.
type KnowledgeFile struct {
	ID               string    `db:"id" json:"id"`
	ChatbotID        string    `db:"chatbot_id" json:"chatbotId"`
	Title            string    `db:"title" json:"title"`
	FileName         string    `db:"file_name" json:"fileName"`
	ContentType      string    `db:"content_type" json:"contentType"`
	StorageKey       string    `db:"storage_key" json:"storageKey"` // object key of the raw upload
	OriginalSize     int64     `db:"original_size" json:"originalSize"`
	OptimizedSize    *int64    `db:"optimized_size" json:"optimizedSize,omitempty"`
	SizeReduction    *int      `db:"size_reduction" json:"sizeReduction,omitempty"` // percent, derived
	Status           Status    `db:"status" json:"status"`
	ProcessingError  *string   `db:"processing_error" json:"processingError,omitempty"`
	AdvancedRAG      bool      `db:"advanced_rag" json:"advancedRag"`
	ChunkCount       *int      `db:"chunk_count" json:"chunkCount,omitempty"`
	VectorDocumentID *string   `db:"vector_document_id" json:"vectorDocumentId,omitempty"`
	InlineContent    *string   `db:"inline_content" json:"-"` // normalized text when advanced RAG is off
	Generation       int64     `db:"generation" json:"generation"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
	StatusChangedAt  time.Time `db:"status_changed_at" json:"statusChangedAt"`
}

// Chunk is one embedded slice of a KnowledgeFile's normalized text.
type Chunk struct {
	ID          string    `db:"id" json:"id"`
	ChatbotID   string    `db:"chatbot_id" json:"chatbotId"`
	DocumentID  string    `db:"document_id" json:"documentId"`
	Generation  int64     `db:"generation" json:"generation"`
	Position    int       `db:"position" json:"position"`
	Content     string    `db:"content" json:"content"`
	Embedding   []float32 `db:"embedding" json:"-"` // pgvector column
	TokenCount  int       `db:"token_count" json:"tokenCount"`
	StartOffset int       `db:"start_offset" json:"startOffset"`
	EndOffset   int       `db:"end_offset" json:"endOffset"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// ScoredChunk is a Chunk returned by a similarity query.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// ChunkFilter restricts similarity queries. Empty fields are ignored.
type ChunkFilter struct {
	ChatbotID  string
	DocumentID string
}

// Clone returns a deep copy so stores can hand out records without sharing pointers.
func (f *KnowledgeFile) Clone() *KnowledgeFile {
	if f == nil {
		return nil
	}
	out := *f
	if f.OptimizedSize != nil {
		v := *f.OptimizedSize
		out.OptimizedSize = &v
	}
	if f.SizeReduction != nil {
		v := *f.SizeReduction
		out.SizeReduction = &v
	}
	if f.ProcessingError != nil {
		v := *f.ProcessingError
		out.ProcessingError = &v
	}
	if f.ChunkCount != nil {
		v := *f.ChunkCount
		out.ChunkCount = &v
	}
	if f.VectorDocumentID != nil {
		v := *f.VectorDocumentID
		out.VectorDocumentID = &v
	}
	if f.InlineContent != nil {
		v := *f.InlineContent
		out.InlineContent = &v
	}
	return &out
}
