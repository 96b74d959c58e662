package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/config"
	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

var (
	_ core.KnowledgeRepository = (*DatabaseClient)(nil)
	_ core.KnowledgeRepository = (*MemoryClient)(nil)
)

// Open connects to Postgres through an otelsql-instrumented pgx driver,
// verifies the connection and bootstraps the schema.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn, err := withSSL(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	driver, err := otelsql.Register(
		"pgx",
		otelsql.TraceQueryWithoutArgs(),
		otelsql.TraceRowsClose(),
		otelsql.TraceRowsAffected(),
		otelsql.WithSystem(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("register traced driver: %w", err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := otelsql.RecordStats(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("record db stats: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return db, nil
}

// withSSL appends CA verification parameters when a certificate is configured.
func withSSL(databaseURL, certPath string) (string, error) {
	if certPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(certPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewKnowledgeRepository returns the repository selected by STORE_BACKEND.
// db may be nil for the memory backend.
func NewKnowledgeRepository(cfg *config.Config, db *sql.DB) (core.KnowledgeRepository, error) {
	switch cfg.StoreBackend {
	case "memory":
		return NewMemoryClient(), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres repository needs an open database")
		}
		return NewDatabaseClient(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
