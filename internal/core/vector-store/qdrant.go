package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

const (
	payloadDocumentID = "document_id"
	payloadChatbotID  = "chatbot_id"
	payloadGeneration = "generation"
)

// QdrantConfig selects the server and collection.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantStore stores one point per chunk, with the chunk fields as payload.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	log        *zap.Logger
}

// NewQdrantStore connects and creates the collection when it is missing.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, log *zap.Logger) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant collection check: %w", err)
	}
	if !exists {
		if cfg.Dimension <= 0 {
			_ = client.Close()
			return nil, fmt.Errorf("qdrant collection %q needs a positive dimension", cfg.Collection)
		}
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(cfg.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("qdrant create collection: %w", err)
		}
		log.Info("qdrant collection created", zap.String("collection", cfg.Collection), zap.Int("dim", cfg.Dimension))
	}

	return &QdrantStore{client: client, collection: cfg.Collection, log: log}, nil
}

func (s *QdrantStore) Close() error { return s.client.Close() }

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchKeyword(payloadDocumentID, documentID)}}
}

// generationsFilter matches the document's points of generation upTo or
// older. Points written before generations were stamped match too.
func generationsFilter(documentID string, upTo int64) *qdrant.Filter {
	return &qdrant.Filter{
		Must:    []*qdrant.Condition{qdrant.NewMatchKeyword(payloadDocumentID, documentID)},
		MustNot: []*qdrant.Condition{qdrant.NewRange(payloadGeneration, &qdrant.Range{Gt: qdrant.PtrOf(float64(upTo))})},
	}
}

func newerFilter(documentID string, generation int64) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatchKeyword(payloadDocumentID, documentID),
		qdrant.NewRange(payloadGeneration, &qdrant.Range{Gt: qdrant.PtrOf(float64(generation))}),
	}}
}

func (s *QdrantStore) countNewer(ctx context.Context, documentID string, generation int64) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         newerFilter(documentID, generation),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// UpsertChunks replaces the document's points of generation or older. Qdrant
// has no multi-request transaction, so the newer-generation check runs both
// before and after the write, and a failed or overtaken write removes
// whatever part of the batch landed. A writer that overtakes between the
// final check and return is not detected.
func (s *QdrantStore) UpsertChunks(ctx context.Context, documentID string, generation int64, chunks []models.Chunk) error {
	if _, err := validateBatch(documentID, chunks); err != nil {
		return storageErr("upsert", err)
	}
	newer, err := s.countNewer(ctx, documentID, generation)
	if err != nil {
		return err
	}
	if newer > 0 {
		return staleErr(documentID, generation)
	}
	if err := s.DeleteGenerations(ctx, documentID, generation); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i := range chunks {
		ch := &chunks[i]
		payload, err := qdrant.TryValueMap(map[string]any{
			payloadDocumentID: ch.DocumentID,
			payloadChatbotID:  ch.ChatbotID,
			payloadGeneration: generation,
			"position":        ch.Position,
			"content":         ch.Content,
			"token_count":     ch.TokenCount,
			"start_offset":    ch.StartOffset,
			"end_offset":      ch.EndOffset,
			"created_at":      ch.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return storageErr("payload", err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(ch.ID),
			Vectors: qdrant.NewVectorsDense(ch.Embedding),
			Payload: payload,
		})
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		s.dropOwn(ctx, documentID, generation)
		return storageErr("upsert", err)
	}

	newer, err = s.countNewer(ctx, documentID, generation)
	if err != nil {
		return err
	}
	if newer > 0 {
		s.dropOwn(ctx, documentID, generation)
		return staleErr(documentID, generation)
	}
	return nil
}

// dropOwn removes the points of exactly generation.
func (s *QdrantStore) dropOwn(ctx context.Context, documentID string, generation int64) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatchKeyword(payloadDocumentID, documentID),
		qdrant.NewMatchInt(payloadGeneration, generation),
	}}
	_, err := s.client.Delete(context.WithoutCancel(ctx), &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		s.log.Warn("qdrant cleanup after failed upsert",
			zap.String("document_id", documentID), zap.Int64("generation", generation), zap.Error(err))
	}
}

func (s *QdrantStore) DeleteGenerations(ctx context.Context, documentID string, upTo int64) error {
	return s.deleteWhere(ctx, generationsFilter(documentID, upTo))
}

func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.deleteWhere(ctx, documentFilter(documentID))
}

func (s *QdrantStore) deleteWhere(ctx context.Context, filter *qdrant.Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return storageErr("delete", err)
	}
	return nil
}

// fetchLimit over-fetches so that points tied on score at the k-th place can
// still be ordered by position before trimming. Ties spanning more than the
// extra points are cut in server order.
func fetchLimit(k int) int {
	return k + max(k, 16)
}

// QueryNearest asks Qdrant for more than k points, then applies the shared
// ordering and trims to k.
func (s *QdrantStore) QueryNearest(ctx context.Context, vector []float32, k int, filter models.ChunkFilter) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	var must []*qdrant.Condition
	if filter.ChatbotID != "" {
		must = append(must, qdrant.NewMatchKeyword(payloadChatbotID, filter.ChatbotID))
	}
	if filter.DocumentID != "" {
		must = append(must, qdrant.NewMatchKeyword(payloadDocumentID, filter.DocumentID))
	}
	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          qdrant.PtrOf(uint64(fetchLimit(k))),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(must) > 0 {
		req.Filter = &qdrant.Filter{Must: must}
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, storageErr("query", err)
	}

	out := make([]models.ScoredChunk, 0, len(points))
	for _, p := range points {
		out = append(out, scoredFromPoint(p))
	}
	return topK(out, k), nil
}

func scoredFromPoint(p *qdrant.ScoredPoint) models.ScoredChunk {
	pl := p.GetPayload()
	sc := models.ScoredChunk{Score: float64(p.GetScore())}
	sc.ID = p.GetId().GetUuid()
	sc.DocumentID = pl[payloadDocumentID].GetStringValue()
	sc.ChatbotID = pl[payloadChatbotID].GetStringValue()
	sc.Generation = pl[payloadGeneration].GetIntegerValue()
	sc.Position = int(pl["position"].GetIntegerValue())
	sc.Content = pl["content"].GetStringValue()
	sc.TokenCount = int(pl["token_count"].GetIntegerValue())
	sc.StartOffset = int(pl["start_offset"].GetIntegerValue())
	sc.EndOffset = int(pl["end_offset"].GetIntegerValue())
	if ts, err := time.Parse(time.RFC3339Nano, pl["created_at"].GetStringValue()); err == nil {
		sc.CreatedAt = ts
	}
	return sc
}
