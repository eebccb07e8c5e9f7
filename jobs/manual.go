package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Manual is a Scheduler that holds jobs until RunPending is called.
// It lets tests interleave background work with foreground calls.
type Manual struct {
	mu       sync.Mutex
	handlers map[Kind]Handler
	pending  []Job
	errs     []error
}

var _ Scheduler = (*Manual)(nil)

// NewManual creates an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{handlers: make(map[Kind]Handler)}
}

// Register installs the handler for kind.
func (m *Manual) Register(kind Kind, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = handler
}

// Enqueue records the job without running it.
func (m *Manual) Enqueue(ctx context.Context, payload Payload) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handlers[payload.Kind()]; !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNoHandler, payload.Kind())
	}
	job := NewJob(payload)
	m.pending = append(m.pending, job)
	return job.ID, nil
}

// Pending returns the jobs not yet run, oldest first.
func (m *Manual) Pending() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.pending...)
}

// RunPending runs queued jobs in FIFO order until none remain, including jobs
// enqueued by the handlers themselves. It returns the number of jobs run.
func (m *Manual) RunPending(ctx context.Context) int {
	ran := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return ran
		}
		job := m.pending[0]
		m.pending = m.pending[1:]
		handler := m.handlers[job.Kind]
		m.mu.Unlock()

		err := handler(ctx, job)
		ran++
		if err != nil {
			m.mu.Lock()
			m.errs = append(m.errs, fmt.Errorf("job %s (%s): %w", job.ID, job.Kind, err))
			m.mu.Unlock()
		}
	}
}

// Errors returns the errors returned by handlers so far.
func (m *Manual) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errs...)
}
