package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use and keep no state
// between calls.
type Embedder interface {
	// EmbedBatch generates one embedding per input text.
	// Vectors[i] always corresponds to texts[i], regardless of the order in
	// which the remote service answers.
	// Fails with core.ErrEmbeddingAPI if the service returns a different number
	// of embeddings than inputs; no partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Dimension returns the vector length produced by the embedder.
	Dimension() int

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
