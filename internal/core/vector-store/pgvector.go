package vectorstore

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// PgvectorStore keeps chunks in the knowledge_chunks table.
type PgvectorStore struct {
	db *sql.DB
}

func NewPgvectorStore(db *sql.DB) *PgvectorStore {
	return &PgvectorStore{db: db}
}

// UpsertChunks replaces the document's rows of generation or older inside one
// transaction. A transaction-scoped advisory lock on the document id
// serialises writers across processes.
func (s *PgvectorStore) UpsertChunks(ctx context.Context, documentID string, generation int64, chunks []models.Chunk) error {
	if _, err := validateBatch(documentID, chunks); err != nil {
		return storageErr("upsert", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, documentID); err != nil {
		return storageErr("lock", err)
	}

	var newest int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(generation), 0) FROM knowledge_chunks WHERE document_id = $1`, documentID,
	).Scan(&newest); err != nil {
		return storageErr("generation", err)
	}
	if newest > generation {
		return staleErr(documentID, generation)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM knowledge_chunks WHERE document_id = $1 AND generation <= $2`, documentID, generation,
	); err != nil {
		return storageErr("delete", err)
	}

	const q = `
		INSERT INTO knowledge_chunks
			(id, document_id, chatbot_id, generation, position, content, embedding, token_count, start_offset, end_offset, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return storageErr("prepare", err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.ChatbotID, generation, ch.Position, ch.Content, pgvector.NewVector(ch.Embedding),
			ch.TokenCount, ch.StartOffset, ch.EndOffset, ch.CreatedAt,
		); err != nil {
			return storageErr("insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (s *PgvectorStore) DeleteGenerations(ctx context.Context, documentID string, upTo int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM knowledge_chunks WHERE document_id = $1 AND generation <= $2`, documentID, upTo,
	); err != nil {
		return storageErr("delete", err)
	}
	return nil
}

func (s *PgvectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE document_id = $1`, documentID); err != nil {
		return storageErr("delete", err)
	}
	return nil
}

// QueryNearest ranks by cosine distance. Empty filter fields match everything.
func (s *PgvectorStore) QueryNearest(ctx context.Context, vector []float32, k int, filter models.ChunkFilter) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	const q = `
		SELECT id, document_id, chatbot_id, generation, position, content, token_count, start_offset, end_offset, created_at,
		       1 - (embedding <=> $1) AS score
		FROM knowledge_chunks
		WHERE ($2::text = '' OR chatbot_id = $2)
		  AND ($3::text = '' OR document_id = $3)
		ORDER BY embedding <=> $1, position ASC, document_id ASC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(vector), filter.ChatbotID, filter.DocumentID, k)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		if err := rows.Scan(
			&sc.ID, &sc.DocumentID, &sc.ChatbotID, &sc.Generation, &sc.Position, &sc.Content, &sc.TokenCount,
			&sc.StartOffset, &sc.EndOffset, &sc.CreatedAt, &sc.Score,
		); err != nil {
			return nil, storageErr("scan", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query", err)
	}
	SortScored(out)
	return out, nil
}
