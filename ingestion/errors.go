package ingestion

import "errors"

var (
	// ErrSourceRepositoryRequired is returned when a source repository is not provided.
	ErrSourceRepositoryRequired = errors.New("source repository required")

	// ErrStatsRepositoryRequired is returned when a stats repository is not provided.
	ErrStatsRepositoryRequired = errors.New("stats repository required")

	// ErrVectorStoreRequired is returned when a chunk vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrSchedulerRequired is returned when a job scheduler is not provided.
	ErrSchedulerRequired = errors.New("scheduler required")
)
