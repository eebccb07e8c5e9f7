package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/poiesic/docsim/ai"
)

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
// It is safe for concurrent use once EmbedBatchFunc has been set.
type MockEmbedder struct {
	// EmbedBatchFunc is called by EmbedBatch if set.
	// If nil, uses default deterministic behavior.
	EmbedBatchFunc func(ctx context.Context, texts []string) (*ai.BatchResult, error)

	dimension int

	mu        sync.Mutex
	callCount int
	inputs    [][]string
}

// NewMockEmbedder creates a mock embedder producing vectors of the given dimension.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

// NewStaticEmbedder returns a mock that answers every call with the given
// vectors, one per input, in order. Calls with more inputs than vectors fail
// the way a misbehaving service would.
func NewStaticEmbedder(vectors ...[]float32) *MockEmbedder {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	m := NewMockEmbedder(dim)
	m.EmbedBatchFunc = func(ctx context.Context, texts []string) (*ai.BatchResult, error) {
		if len(texts) > len(vectors) {
			return nil, errTooManyInputs
		}
		return Result(texts, vectors[:len(texts)]...), nil
	}
	return m
}

// EmbedBatch records the call and returns deterministic embeddings.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) (*ai.BatchResult, error) {
	m.mu.Lock()
	m.callCount++
	m.inputs = append(m.inputs, append([]string(nil), texts...))
	fn := m.EmbedBatchFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = DeterministicVector(text, m.dimension)
	}
	return Result(texts, vectors...), nil
}

// CallCount returns the number of times EmbedBatch was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Inputs returns the texts passed to each EmbedBatch call, in call order.
func (m *MockEmbedder) Inputs() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.inputs...)
}

// Reset clears recorded calls and injected behavior.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.inputs = nil
	m.EmbedBatchFunc = nil
}

// Result builds a BatchResult charging one token per four characters.
func Result(texts []string, vectors ...[]float32) *ai.BatchResult {
	length := ai.TextLength(texts...)
	return &ai.BatchResult{
		Vectors:     vectors,
		TotalTokens: (length + 3) / 4,
		TotalLength: length,
	}
}

// DeterministicVector creates a unit-length embedding vector from text.
// It uses FNV hash to ensure the same text always produces the same vector.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := 0; i < dim; i++ {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000) / 1000.0
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares > 0 {
		norm := float32(1.0 / math.Sqrt(sumSquares))
		for i := range vector {
			vector[i] *= norm
		}
	}

	return vector
}
