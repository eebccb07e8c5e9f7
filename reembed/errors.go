package reembed

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrSourceRepositoryRequired is returned when a source repository is not provided.
	ErrSourceRepositoryRequired = errors.New("source repository required")

	// ErrEmbedderRequired is returned when a source embedder is not provided.
	ErrEmbedderRequired = errors.New("source embedder required")

	// ErrIncomplete is returned when some sources could not be embedded.
	ErrIncomplete = errors.New("reembedding incomplete")
)
