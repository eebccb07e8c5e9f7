package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// Queue runs jobs on an ants worker pool.
type Queue struct {
	pool     *ants.Pool
	poolSize int
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[Kind]Handler
	closed   bool

	wg sync.WaitGroup
}

var _ Scheduler = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue) error

// WithPoolSize sets the number of concurrent workers.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(q *Queue) error {
		if size < 1 {
			size = 1
		}
		q.poolSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) error {
		if logger == nil {
			logger = slog.Default()
		}
		q.logger = logger
		return nil
	}
}

// NewQueue creates a queue and starts its worker pool.
func NewQueue(opts ...Option) (*Queue, error) {
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	q := &Queue{
		poolSize: poolSize,
		logger:   slog.Default(),
		handlers: make(map[Kind]Handler),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	q.logger = q.logger.With("component", "job-queue")

	pool, err := ants.NewPool(q.poolSize, ants.WithPanicHandler(func(p any) {
		q.logger.Error("job panicked", "panic", p)
	}))
	if err != nil {
		return nil, err
	}
	q.pool = pool
	return q, nil
}

// Register installs the handler for kind.
func (q *Queue) Register(kind Kind, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

// Enqueue submits a job to the worker pool. It blocks only while the pool is
// saturated, never until the job completes.
func (q *Queue) Enqueue(ctx context.Context, payload Payload) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	// The closed check and wg.Add share the lock Release takes, so no job is
	// accepted once Release starts waiting.
	q.mu.RLock()
	handler, ok := q.handlers[payload.Kind()]
	if q.closed {
		q.mu.RUnlock()
		return uuid.Nil, ErrQueueClosed
	}
	if !ok {
		q.mu.RUnlock()
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNoHandler, payload.Kind())
	}
	q.wg.Add(1)
	q.mu.RUnlock()

	job := NewJob(payload)
	err := q.pool.Submit(func() {
		defer q.wg.Done()
		q.run(handler, job)
	})
	if err != nil {
		q.wg.Done()
		return uuid.Nil, fmt.Errorf("failed to submit job %s: %w", job.Kind, err)
	}

	q.logger.Debug("job enqueued", "job", job.ID, "kind", job.Kind)
	return job.ID, nil
}

func (q *Queue) run(handler Handler, job Job) {
	start := time.Now()
	logger := q.logger.With("job", job.ID, "kind", job.Kind)

	if err := handler(context.Background(), job); err != nil {
		logger.Error("job failed", "err", err, "elapsed", time.Since(start))
		return
	}
	logger.Debug("job finished", "elapsed", time.Since(start))
}

// Wait blocks until every accepted job has finished, including jobs enqueued
// by other jobs while waiting.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Running returns the number of jobs currently executing.
func (q *Queue) Running() int {
	return q.pool.Running()
}

// Release waits for accepted jobs and stops the worker pool.
// The queue should not be used after calling Release.
func (q *Queue) Release() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
	q.pool.Release()
}
