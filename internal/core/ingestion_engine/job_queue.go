package ingestion_engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("job queue closed")

// ChanQueue is an in-memory job queue drained by a fixed pool of workers.
// Jobs are lost on restart; the stuck-record query finds them.
type ChanQueue struct {
	jobs   chan Job
	log    *zap.Logger
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ JobQueue = (*ChanQueue)(nil)

// NewChanQueue constructs a queue with a bounded buffer (64 when size <= 0).
func NewChanQueue(size int, log *zap.Logger) *ChanQueue {
	if size <= 0 {
		size = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChanQueue{jobs: make(chan Job, size), log: log, done: make(chan struct{})}
}

// Enqueue schedules a job. If the buffer is full it waits for space or ctx.
func (q *ChanQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx is
// done or the queue is closed.
func (q *ChanQueue) Start(ctx context.Context, numWorkers int, handle JobHandler) error {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		q.wg.Add(1)
		go func(w int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					q.log.Debug("ingest worker shutting down", zap.Int("worker", w))
					return
				case <-q.done:
					return
				case job := <-q.jobs:
					q.log.Debug("ingest worker picked job",
						zap.Int("worker", w),
						zap.String("document_id", job.DocumentID),
						zap.Int64("generation", job.Generation))
					if err := handle(ctx, job); err != nil {
						q.log.Warn("ingest job failed",
							zap.String("document_id", job.DocumentID),
							zap.Int64("generation", job.Generation),
							zap.Error(err))
					}
				}
			}
		}(w)
	}
	return nil
}

// Close stops the workers and waits for running jobs to return.
func (q *ChanQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Len reports buffered jobs.
func (q *ChanQueue) Len() int {
	return len(q.jobs)
}
