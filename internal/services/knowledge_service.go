package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/knowledge-ingest/internal/metrics"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// ErrValidation marks a request the caller must fix.
var ErrValidation = errors.New("validation failed")

const (
	DefaultQueryK = 5
	MaxQueryK     = 50
)

// UploadInput is one file posted to a chatbot's knowledge base.
type UploadInput struct {
	ChatbotID   string
	Title       string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
	AdvancedRAG bool
}

type KnowledgeService struct {
	repo     core.KnowledgeRepository
	storage  core.ObjectClient
	ingestor ingestion_engine.Ingestor
	store    core.VectorStore
	embedder core.Embedder
	bucket   string
	log      *zap.Logger
}

func NewKnowledgeService(
	repo core.KnowledgeRepository,
	storage core.ObjectClient,
	ingestor ingestion_engine.Ingestor,
	store core.VectorStore,
	embedder core.Embedder,
	bucket string,
	log *zap.Logger,
) *KnowledgeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &KnowledgeService{
		repo:     repo,
		storage:  storage,
		ingestor: ingestor,
		store:    store,
		embedder: embedder,
		bucket:   bucket,
		log:      log.Named("knowledge"),
	}
}

// Upload stores the raw file and submits it for ingestion. The returned
// record is pending; ingestion runs in the background.
func (s *KnowledgeService) Upload(ctx context.Context, in UploadInput) (*models.KnowledgeFile, error) {
	if strings.TrimSpace(in.ChatbotID) == "" {
		return nil, fmt.Errorf("%w: chatbot id is required", ErrValidation)
	}
	name := filepath.Base(strings.TrimSpace(in.FileName))
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: file name is required", ErrValidation)
	}
	if in.Body == nil {
		return nil, fmt.Errorf("%w: file body is required", ErrValidation)
	}
	if in.Size < 0 {
		return nil, fmt.Errorf("%w: negative file size", ErrValidation)
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = name
	}

	id := uuid.NewString()
	key := objectKey(in.ChatbotID, id, name)

	if _, err := s.storage.UploadFile(ctx, s.bucket, key, in.Body, contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	f := &models.KnowledgeFile{
		ID:           id,
		ChatbotID:    in.ChatbotID,
		Title:        title,
		FileName:     name,
		ContentType:  contentType,
		StorageKey:   key,
		OriginalSize: in.Size,
		AdvancedRAG:  in.AdvancedRAG,
	}
	if err := s.ingestor.Submit(ctx, f); err != nil {
		if derr := s.storage.DeleteFile(context.WithoutCancel(ctx), s.bucket, key); derr != nil {
			s.log.Warn("orphaned upload", zap.String("key", key), zap.Error(derr))
		}
		return nil, err
	}
	s.log.Info("knowledge file accepted",
		zap.String("document_id", id),
		zap.String("chatbot_id", in.ChatbotID),
		zap.Int64("size", in.Size),
		zap.Bool("advanced_rag", in.AdvancedRAG))
	return f, nil
}

func (s *KnowledgeService) Get(ctx context.Context, id string) (*models.KnowledgeFile, error) {
	f, err := s.repo.GetKnowledgeFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("knowledge file %s: %w", id, core.ErrNotFound)
	}
	return f, nil
}

func (s *KnowledgeService) List(ctx context.Context, chatbotID string) ([]models.KnowledgeFile, error) {
	files, err := s.repo.ListKnowledgeFilesByChatbot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []models.KnowledgeFile{}
	}
	return files, nil
}

func (s *KnowledgeService) Reingest(ctx context.Context, id string) (*models.KnowledgeFile, error) {
	return s.ingestor.Reingest(ctx, id)
}

func (s *KnowledgeService) Delete(ctx context.Context, id string) error {
	return s.ingestor.Delete(ctx, id)
}

func (s *KnowledgeService) Stuck(ctx context.Context, olderThan time.Duration) ([]models.KnowledgeFile, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("%w: olderThan must be positive", ErrValidation)
	}
	files, err := s.ingestor.Stuck(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []models.KnowledgeFile{}
	}
	return files, nil
}

// Query embeds question and returns the k nearest chunks of the chatbot,
// optionally limited to one document.
func (s *KnowledgeService) Query(ctx context.Context, chatbotID, question string, k int, documentID string) ([]models.ScoredChunk, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrValidation)
	}
	switch {
	case k == 0:
		k = DefaultQueryK
	case k < 0 || k > MaxQueryK:
		return nil, fmt.Errorf("%w: k must be between 1 and %d", ErrValidation, MaxQueryK)
	}

	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, err
	}
	start := time.Now()
	hits, err := s.store.QueryNearest(ctx, vec, k, models.ChunkFilter{ChatbotID: chatbotID, DocumentID: documentID})
	if err != nil {
		metrics.VectorQueryDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	metrics.VectorQueryDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	if hits == nil {
		hits = []models.ScoredChunk{}
	}
	return hits, nil
}

// objectKey keeps uploads grouped per chatbot and document.
func objectKey(chatbotID, docID, filename string) string {
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("chatbots", chatbotID, "knowledge", docID, filename)
}
