// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder and ai.AIProvider
// for use in unit tests. The mocks allow tests to run without an embedding
// service and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider(8)
//	result, err := mockProvider.Embedder().EmbedBatch(ctx, []string{"test"})
//
//	// Fixed vectors, one per input
//	embedder := mock.NewStaticEmbedder([]float32{1, 0}, []float32{0, 1})
//
//	// Custom behavior injection
//	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string) (*ai.BatchResult, error) {
//	    return nil, core.ErrEmbeddingAPI
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
// MockEmbedder returns unit-length vectors derived from an FNV hash of each
// text, so identical text always embeds identically.
package mock
