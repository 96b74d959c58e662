package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const schemaVersion = 2

// EnsureBootstrapped creates the schema once. embedDim sizes the vector column.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, embedDim int, log *zap.Logger) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'knowledge_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	if !exists {
		return runBootstrap(ctxBoot, db, embedDim, log)
	}

	var hasVersion bool
	if err := db.QueryRowContext(ctxBoot,
		`SELECT EXISTS (SELECT 1 FROM knowledge_meta WHERE version = $1)`, schemaVersion).Scan(&hasVersion); err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if !hasVersion {
		return runBootstrap(ctxBoot, db, embedDim, log)
	}

	log.Debug("schema already bootstrapped", zap.Int("version", schemaVersion))
	return nil
}

// bootstrapSQL renders the init script for a vector dimension.
func bootstrapSQL(embedDim int) (string, error) {
	if embedDim <= 0 {
		return "", fmt.Errorf("embedding dimension must be positive, got %d", embedDim)
	}
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return "", fmt.Errorf("read initdb.sql: %w", err)
	}
	return strings.ReplaceAll(string(sqlBytes), "{{EMBED_DIM}}", strconv.Itoa(embedDim)), nil
}

func runBootstrap(ctx context.Context, db *sql.DB, embedDim int, log *zap.Logger) error {
	script, err := bootstrapSQL(embedDim)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	log.Info("schema bootstrapped", zap.Int("version", schemaVersion), zap.Int("embed_dim", embedDim))
	return nil
}
