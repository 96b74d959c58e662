package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

const defaultPollEvery = time.Second

// InProcessQueue reports whether jobs are consumed only by workers started
// in this process.
func (a *App) InProcessQueue() bool {
	return a.Config.QueueBackend != "asynq"
}

// Reingest resets the record and schedules a new attempt. With an in-process
// queue no other process would ever run the job, so workers are started here
// and the call waits for the attempt regardless of wait.
func (a *App) Reingest(ctx context.Context, id string, wait bool, timeout time.Duration) (*models.KnowledgeFile, error) {
	if a.InProcessQueue() {
		if !wait {
			a.log.Info("in-process queue, running the attempt before returning", zap.String("document_id", id))
		}
		wait = true
		if err := a.StartWorkers(ctx); err != nil {
			return nil, err
		}
	}

	f, err := a.Knowledge.Reingest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wait {
		return f, nil
	}
	every := a.pollEvery
	if every <= 0 {
		every = defaultPollEvery
	}
	return WaitTerminal(ctx, a.Repo, f.ID, f.Generation, timeout, every)
}

// WaitTerminal polls the record until generation gen reaches a terminal
// status. A newer generation or the timeout ends the wait with an error.
func WaitTerminal(ctx context.Context, repo core.KnowledgeRepository, id string, gen int64, timeout, every time.Duration) (*models.KnowledgeFile, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		f, err := repo.GetKnowledgeFile(ctx, id)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, fmt.Errorf("knowledge file %s: %w", id, core.ErrNotFound)
		}
		if f.Generation != gen {
			return f, fmt.Errorf("superseded by generation %d", f.Generation)
		}
		if f.Status.Terminal() {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return f, fmt.Errorf("still %s: %w", f.Status, ctx.Err())
		case <-tick.C:
		}
	}
}
