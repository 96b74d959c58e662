package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

// DatabaseClient is the Postgres KnowledgeRepository.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

// DB exposes the pool so the pgvector store can share it.
func (c *DatabaseClient) DB() *sql.DB { return c.db }

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const knowledgeColumns = `
	id, chatbot_id, title, file_name, content_type, storage_key, original_size,
	optimized_size, size_reduction, status, processing_error, advanced_rag,
	chunk_count, vector_document_id, inline_content, generation,
	created_at, updated_at, status_changed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledgeFile(row rowScanner) (*models.KnowledgeFile, error) {
	var (
		f             models.KnowledgeFile
		status        string
		optimizedSize sql.NullInt64
		reduction     sql.NullInt32
		procErr       sql.NullString
		chunkCount    sql.NullInt32
		vectorDocID   sql.NullString
		inline        sql.NullString
	)
	if err := row.Scan(
		&f.ID, &f.ChatbotID, &f.Title, &f.FileName, &f.ContentType, &f.StorageKey, &f.OriginalSize,
		&optimizedSize, &reduction, &status, &procErr, &f.AdvancedRAG,
		&chunkCount, &vectorDocID, &inline, &f.Generation,
		&f.CreatedAt, &f.UpdatedAt, &f.StatusChangedAt,
	); err != nil {
		return nil, err
	}
	f.Status = models.Status(status)
	if optimizedSize.Valid {
		v := optimizedSize.Int64
		f.OptimizedSize = &v
	}
	if reduction.Valid {
		v := int(reduction.Int32)
		f.SizeReduction = &v
	}
	if procErr.Valid {
		f.ProcessingError = &procErr.String
	}
	if chunkCount.Valid {
		v := int(chunkCount.Int32)
		f.ChunkCount = &v
	}
	if vectorDocID.Valid {
		f.VectorDocumentID = &vectorDocID.String
	}
	if inline.Valid {
		f.InlineContent = &inline.String
	}
	return &f, nil
}

func (c *DatabaseClient) CreateKnowledgeFile(ctx context.Context, f *models.KnowledgeFile) error {
	if f == nil {
		return errors.New("nil knowledge file")
	}
	if f.Generation == 0 {
		f.Generation = 1
	}
	const q = `
		INSERT INTO knowledge_files
			(id, chatbot_id, title, file_name, content_type, storage_key, original_size,
			 status, advanced_rag, generation, created_at, updated_at, status_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := c.db.ExecContext(ctx, q,
		f.ID, f.ChatbotID, f.Title, f.FileName, f.ContentType, f.StorageKey, f.OriginalSize,
		string(f.Status), f.AdvancedRAG, f.Generation, f.CreatedAt, f.UpdatedAt, f.StatusChangedAt)
	return err
}

func (c *DatabaseClient) GetKnowledgeFile(ctx context.Context, id string) (*models.KnowledgeFile, error) {
	q := `SELECT ` + knowledgeColumns + ` FROM knowledge_files WHERE id = $1`
	f, err := scanKnowledgeFile(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *DatabaseClient) ListKnowledgeFilesByChatbot(ctx context.Context, chatbotID string) ([]models.KnowledgeFile, error) {
	q := `SELECT ` + knowledgeColumns + `
		FROM knowledge_files
		WHERE chatbot_id = $1
		ORDER BY created_at DESC`
	return c.queryFiles(ctx, q, chatbotID)
}

// UpdateKnowledgeFile is a compare-and-set on generation. Zero affected rows
// means the record was reset or deleted under us.
func (c *DatabaseClient) UpdateKnowledgeFile(ctx context.Context, f *models.KnowledgeFile) error {
	if f == nil {
		return errors.New("nil knowledge file")
	}
	const q = `
		UPDATE knowledge_files
		SET status = $3,
		    processing_error = $4,
		    optimized_size = $5,
		    size_reduction = $6,
		    chunk_count = $7,
		    vector_document_id = $8,
		    inline_content = $9,
		    updated_at = $10,
		    status_changed_at = $11
		WHERE id = $1 AND generation = $2
	`
	res, err := c.db.ExecContext(ctx, q,
		f.ID, f.Generation, string(f.Status), f.ProcessingError, f.OptimizedSize, f.SizeReduction,
		f.ChunkCount, f.VectorDocumentID, f.InlineContent, f.UpdatedAt, f.StatusChangedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s@%d", core.ErrStaleGeneration, f.ID, f.Generation)
	}
	return nil
}

func (c *DatabaseClient) ResetKnowledgeFile(ctx context.Context, id string) (*models.KnowledgeFile, error) {
	q := `
		UPDATE knowledge_files
		SET status = 'pending',
		    processing_error = NULL,
		    optimized_size = NULL,
		    size_reduction = NULL,
		    chunk_count = NULL,
		    vector_document_id = NULL,
		    inline_content = NULL,
		    generation = generation + 1,
		    updated_at = $2,
		    status_changed_at = $2
		WHERE id = $1
		RETURNING ` + knowledgeColumns
	f, err := scanKnowledgeFile(c.db.QueryRowContext(ctx, q, id, time.Now().UTC()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *DatabaseClient) DeleteKnowledgeFile(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM knowledge_files WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: knowledge file %s", core.ErrNotFound, id)
	}
	return nil
}

func (c *DatabaseClient) ListStuckKnowledgeFiles(ctx context.Context, before time.Time) ([]models.KnowledgeFile, error) {
	q := `SELECT ` + knowledgeColumns + `
		FROM knowledge_files
		WHERE status IN ('pending', 'optimizing', 'processing', 'storing')
		  AND status_changed_at < $1
		ORDER BY status_changed_at ASC`
	return c.queryFiles(ctx, q, before)
}

func (c *DatabaseClient) queryFiles(ctx context.Context, q string, args ...any) ([]models.KnowledgeFile, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KnowledgeFile
	for rows.Next() {
		f, err := scanKnowledgeFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}
