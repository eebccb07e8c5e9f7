package reembed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/docsim/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder records Embed calls and fails while failures remain.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    [][]core.ID
	failures int
	err      error
	onEmbed  func(ids []core.ID) error
}

func (f *fakeEmbedder) Embed(ctx context.Context, sourceIds ...core.ID) error {
	f.mu.Lock()
	f.calls = append(f.calls, sourceIds)
	failing := f.failures > 0
	if failing {
		f.failures--
	}
	f.mu.Unlock()

	if failing {
		return f.err
	}
	if f.onEmbed != nil {
		return f.onEmbed(sourceIds)
	}
	return nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestBatchProcessor_Process(t *testing.T) {
	embedder := &fakeEmbedder{}
	processor := NewBatchProcessor(embedder, 3, time.Millisecond)

	err := processor.Process(context.Background(), Batch{SourceIds: []core.ID{1, 2}, Chunks: 3})
	require.NoError(t, err)
	assert.Equal(t, [][]core.ID{{1, 2}}, embedder.calls)
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	embedder := &fakeEmbedder{}
	processor := NewBatchProcessor(embedder, 3, time.Millisecond)

	require.NoError(t, processor.Process(context.Background(), Batch{}))
	assert.Zero(t, embedder.callCount())
}

func TestBatchProcessor_Retry(t *testing.T) {
	embedder := &fakeEmbedder{failures: 2, err: core.ErrEmbeddingAPI}
	processor := NewBatchProcessor(embedder, 3, time.Millisecond)

	err := processor.Process(context.Background(), Batch{SourceIds: []core.ID{1}})
	require.NoError(t, err)
	assert.Equal(t, 3, embedder.callCount())
}

func TestBatchProcessor_GivesUp(t *testing.T) {
	embedder := &fakeEmbedder{failures: 10, err: errors.New("service unavailable")}
	processor := NewBatchProcessor(embedder, 2, time.Millisecond)

	err := processor.Process(context.Background(), Batch{SourceIds: []core.ID{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service unavailable")
	assert.Equal(t, 2, embedder.callCount())
}

func TestBatchProcessor_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	embedder := &fakeEmbedder{}
	processor := NewBatchProcessor(embedder, 3, time.Millisecond)

	err := processor.Process(ctx, Batch{SourceIds: []core.ID{1}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, embedder.callCount())
}
