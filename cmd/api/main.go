package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/app"
	"github.com/markdave123-py/knowledge-ingest/internal/config"
	"github.com/markdave123-py/knowledge-ingest/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	if err := application.StartWorkers(ctx); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- application.Server.Start() }()

	log.Info("knowledge ingestion service is running",
		zap.String("store", cfg.StoreBackend),
		zap.String("vectors", cfg.VectorBackend),
		zap.String("objects", cfg.ObjectBackend),
		zap.String("embedder", cfg.EmbedProvider))

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	return application.Server.Shutdown(shutdownCtx)
}
