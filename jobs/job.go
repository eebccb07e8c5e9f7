package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/poiesic/docsim/core"
)

// Kind names a type of job. Each kind has exactly one handler.
type Kind string

const (
	KindEmbedSources  Kind = "embed-sources"
	KindDeleteVectors Kind = "delete-vectors"
	KindRunSearch     Kind = "search"
	KindRunComparison Kind = "comparison"
)

var (
	// ErrNoHandler is returned when a job is enqueued for a kind with no registered handler.
	ErrNoHandler = errors.New("no handler registered for job kind")

	// ErrQueueClosed is returned when enqueueing after the queue was released.
	ErrQueueClosed = errors.New("job queue is closed")
)

// Payload is the typed body of a job.
type Payload interface {
	Kind() Kind
}

// EmbedSourcesPayload asks for the chunks of the given sources to be embedded
// with a single embedding call.
type EmbedSourcesPayload struct {
	SourceIds []core.ID
}

// Kind implements Payload.
func (EmbedSourcesPayload) Kind() Kind { return KindEmbedSources }

// DeleteVectorsPayload asks for the vectors of deleted chunks to be removed.
type DeleteVectorsPayload struct {
	ChunkIds []core.ID
}

// Kind implements Payload.
func (DeleteVectorsPayload) Kind() Kind { return KindDeleteVectors }

// RunSearchPayload asks for a pending search to be computed.
type RunSearchPayload struct {
	SearchId core.ID
}

// Kind implements Payload.
func (RunSearchPayload) Kind() Kind { return KindRunSearch }

// RunComparisonPayload asks for a pending comparison to be computed.
type RunComparisonPayload struct {
	ComparisonId core.ID
}

// Kind implements Payload.
func (RunComparisonPayload) Kind() Kind { return KindRunComparison }

// Job is a unit of background work.
type Job struct {
	ID      uuid.UUID
	Kind    Kind
	Payload Payload
}

// NewJob wraps payload in a job with a fresh id.
func NewJob(payload Payload) Job {
	return Job{
		ID:      uuid.New(),
		Kind:    payload.Kind(),
		Payload: payload,
	}
}

// Handler processes one job.
type Handler func(ctx context.Context, job Job) error

// Scheduler accepts jobs for asynchronous execution.
type Scheduler interface {
	// Register installs the handler for kind, replacing any previous one.
	Register(kind Kind, handler Handler)

	// Enqueue accepts a job and returns its id once accepted. It does not wait
	// for the job to run.
	Enqueue(ctx context.Context, payload Payload) (uuid.UUID, error)
}
