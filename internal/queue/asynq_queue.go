package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	ingest "github.com/markdave123-py/knowledge-ingest/internal/core/ingestion_engine"
)

const (
	TypeIngestDocument = "knowledge:ingest"
	ingestQueue        = "ingest"
)

// RedisConfig addresses the Redis instance behind asynq.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AsynqQueue delivers ingestion jobs through Redis so they survive restarts.
// Each (document, generation) pair is enqueued at most once.
type AsynqQueue struct {
	redis   asynq.RedisClientOpt
	client  *asynq.Client
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	server *asynq.Server
}

var _ ingest.JobQueue = (*AsynqQueue)(nil)

// NewAsynqQueue creates the producer side. taskTimeout bounds a single job on
// the worker side and should exceed the attempt timeout.
func NewAsynqQueue(cfg RedisConfig, taskTimeout time.Duration, log *zap.Logger) *AsynqQueue {
	if log == nil {
		log = zap.NewNop()
	}
	opt := asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if taskTimeout <= 0 {
		taskTimeout = 15 * time.Minute
	}
	return &AsynqQueue{
		redis:   opt,
		client:  asynq.NewClient(opt),
		timeout: taskTimeout,
		log:     log.Named("asynq"),
	}
}

func taskID(job ingest.Job) string {
	return fmt.Sprintf("ingest:%s:%d", job.DocumentID, job.Generation)
}

func (q *AsynqQueue) Enqueue(ctx context.Context, job ingest.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeIngestDocument, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(ingestQueue),
		asynq.TaskID(taskID(job)),
		asynq.MaxRetry(0),
		asynq.Timeout(q.timeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.log.Debug("ingest job already queued", zap.String("task_id", taskID(job)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

// Start runs an asynq server with numWorkers concurrency. The server stops
// on Close or when ctx is done.
func (q *AsynqQueue) Start(ctx context.Context, numWorkers int, handle ingest.JobHandler) error {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	log := q.log
	srv := asynq.NewServer(q.redis, asynq.Config{
		Concurrency: numWorkers,
		Queues:      map[string]int{ingestQueue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("ingest task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeIngestDocument, func(ctx context.Context, t *asynq.Task) error {
		var job ingest.Job
		if err := json.Unmarshal(t.Payload(), &job); err != nil {
			return fmt.Errorf("decode ingest payload: %v: %w", err, asynq.SkipRetry)
		}
		// attempts are retried by re-ingesting, never by redelivery
		if err := handle(ctx, job); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return nil
	})

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}

	q.mu.Lock()
	q.server = srv
	q.mu.Unlock()

	go func() {
		<-ctx.Done()
		q.stopServer()
	}()
	return nil
}

func (q *AsynqQueue) stopServer() {
	q.mu.Lock()
	srv := q.server
	q.server = nil
	q.mu.Unlock()
	if srv != nil {
		srv.Shutdown()
	}
}

func (q *AsynqQueue) Close() error {
	q.stopServer()
	return q.client.Close()
}
