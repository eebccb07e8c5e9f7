package ingestion

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/poiesic/docsim/ai"
	"github.com/poiesic/docsim/ai/mock"
	"github.com/poiesic/docsim/chunker"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/jobs"
	"github.com/poiesic/docsim/storage"
	"github.com/poiesic/docsim/storage/badger"
	"github.com/poiesic/docsim/vectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	repos     *badger.Repositories
	store     *vectors.Store
	scheduler *jobs.Manual
	pipeline  *Pipeline
}

func newTestEnv(t *testing.T, embedder ai.Embedder, dim int, opts ...Option) *testEnv {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	store, err := vectors.NewStore(repos.Vectors, storage.NamespaceChunks, dim)
	require.NoError(t, err)

	scheduler := jobs.NewManual()
	pipeline, err := NewPipeline(repos.Sources, repos.Stats, store, embedder, scheduler, opts...)
	require.NoError(t, err)

	return &testEnv{repos: repos, store: store, scheduler: scheduler, pipeline: pipeline}
}

func pieces(texts ...string) []chunker.Piece {
	result := make([]chunker.Piece, len(texts))
	for i, text := range texts {
		result[i] = chunker.Piece{Text: text, Lines: core.LineRange{From: i + 1, To: i + 1}}
	}
	return result
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	store, err := vectors.NewStore(repos.Vectors, storage.NamespaceChunks, 2)
	require.NoError(t, err)
	embedder := mock.NewMockEmbedder(2)
	scheduler := jobs.NewManual()

	_, err = NewPipeline(nil, repos.Stats, store, embedder, scheduler)
	assert.ErrorIs(t, err, ErrSourceRepositoryRequired)
	_, err = NewPipeline(repos.Sources, nil, store, embedder, scheduler)
	assert.ErrorIs(t, err, ErrStatsRepositoryRequired)
	_, err = NewPipeline(repos.Sources, repos.Stats, nil, embedder, scheduler)
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
	_, err = NewPipeline(repos.Sources, repos.Stats, store, nil, scheduler)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = NewPipeline(repos.Sources, repos.Stats, store, embedder, nil)
	assert.ErrorIs(t, err, ErrSchedulerRequired)
}

func TestOffsets(t *testing.T) {
	tests := []struct {
		name   string
		counts []int
		want   []int
	}{
		{"empty", nil, []int{}},
		{"single", []int{3}, []int{0}},
		{"two sources", []int{2, 3}, []int{0, 2}},
		{"three sources", []int{2, 3, 4}, []int{0, 2, 5}},
		{"empty group", []int{2, 0, 1}, []int{0, 2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, offsets(tt.counts))
		})
	}
}

func TestAddSource_StoresBeforeEmbedding(t *testing.T) {
	env := newTestEnv(t, mock.NewMockEmbedder(4), 4)
	ctx := context.Background()

	source, err := env.pipeline.AddSource(ctx, "doc1", pieces("alpha", "beta"))
	require.NoError(t, err)
	assert.False(t, source.Saved)
	require.Len(t, source.ChunkIds, 2)

	// Chunks are readable before the embedding job runs
	chunk, err := env.repos.Sources.GetChunk(ctx, source.ChunkIds[0])
	require.NoError(t, err)
	assert.Equal(t, "alpha", chunk.Text)

	pending := env.scheduler.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, jobs.KindEmbedSources, pending[0].Kind)
	assert.Equal(t, jobs.EmbedSourcesPayload{SourceIds: []core.ID{source.Id}}, pending[0].Payload)

	_, err = env.store.Get(ctx, source.ChunkIds[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAddSource_RejectsEmpty(t *testing.T) {
	env := newTestEnv(t, mock.NewMockEmbedder(4), 4)

	_, err := env.pipeline.AddSource(context.Background(), "empty", nil)
	assert.ErrorIs(t, err, core.ErrEmptyInput)
	assert.Empty(t, env.scheduler.Pending())
}

func TestAddSource_EndToEnd(t *testing.T) {
	embedder := mock.NewStaticEmbedder(
		[]float32{1, 0},
		[]float32{0, 1},
		[]float32{0.707, 0.707},
	)
	env := newTestEnv(t, embedder, 2)
	ctx := context.Background()

	source, err := env.pipeline.AddSource(ctx, "doc1", pieces("first", "second", "third"))
	require.NoError(t, err)
	assert.Equal(t, 1, env.scheduler.RunPending(ctx))
	require.Empty(t, env.scheduler.Errors())

	saved, err := env.repos.Sources.GetSource(ctx, source.Id)
	require.NoError(t, err)
	assert.True(t, saved.Saved)
	assert.Positive(t, saved.TotalTokens)

	neighbors, err := env.store.NearestNeighbors(ctx, []float32{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, source.ChunkIds[0], neighbors[0].Id)
	assert.InDelta(t, 1.0, neighbors[0].Score, 1e-6)
	assert.Equal(t, source.ChunkIds[2], neighbors[1].Id)
	assert.InDelta(t, 0.707, neighbors[1].Score, 1e-6)

	assert.Equal(t, "doc1", neighbors[0].Metadata[storage.MetaName])
	assert.Equal(t, fmt.Sprint(source.Id), neighbors[0].Metadata[storage.MetaSource])
	assert.Equal(t, "2", neighbors[1].Metadata[storage.MetaChunkIndex])
}

func TestAddSource_NormalizesNewlines(t *testing.T) {
	embedder := mock.NewMockEmbedder(4)
	env := newTestEnv(t, embedder, 4)
	ctx := context.Background()

	_, err := env.pipeline.AddSource(ctx, "doc", pieces("line one\nline two"))
	require.NoError(t, err)
	env.scheduler.RunPending(ctx)

	inputs := embedder.Inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, []string{"line one line two"}, inputs[0])
}

func TestAddBatch_SingleCallAndOffsets(t *testing.T) {
	vecs := [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}, {0.8, 0.6}, {-1, 0}}
	embedder := mock.NewStaticEmbedder(vecs...)
	env := newTestEnv(t, embedder, 2)
	ctx := context.Background()

	added, err := env.pipeline.AddBatch(ctx, []Document{
		{Name: "a", Pieces: pieces("aaaa", "bbbb")},
		{Name: "b", Pieces: pieces("cccc", "dddd", "eeee")},
	})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "a", added[0].Name)
	assert.Equal(t, "b", added[1].Name)

	require.Len(t, env.scheduler.Pending(), 1)
	env.scheduler.RunPending(ctx)
	require.Empty(t, env.scheduler.Errors())
	assert.Equal(t, 1, embedder.CallCount())
	assert.Len(t, embedder.Inputs()[0], 5)

	// Second source reads combined offsets 2, 3 and 4
	for i, chunkID := range added[1].ChunkIds {
		vector, err := env.store.Get(ctx, chunkID)
		require.NoError(t, err)
		assert.Equal(t, vecs[2+i], vector)
	}
	for i, chunkID := range added[0].ChunkIds {
		vector, err := env.store.Get(ctx, chunkID)
		require.NoError(t, err)
		assert.Equal(t, vecs[i], vector)
	}
}

func TestAddBatch_ProRatesStats(t *testing.T) {
	embedder := mock.NewMockEmbedder(2)
	env := newTestEnv(t, embedder, 2)
	ctx := context.Background()

	// 20 characters in total, charged 5 tokens by the mock
	added, err := env.pipeline.AddBatch(ctx, []Document{
		{Name: "a", Pieces: pieces("aaaa", "bbbb")},
		{Name: "b", Pieces: pieces("cccc", "dddd", "eeee")},
	})
	require.NoError(t, err)
	env.scheduler.RunPending(ctx)
	require.Empty(t, env.scheduler.Errors())

	a, err := env.repos.Sources.GetSource(ctx, added[0].Id)
	require.NoError(t, err)
	b, err := env.repos.Sources.GetSource(ctx, added[1].Id)
	require.NoError(t, err)
	assert.True(t, a.Saved)
	assert.True(t, b.Saved)
	assert.Equal(t, 2, a.TotalTokens)
	assert.Equal(t, 3, b.TotalTokens)

	chunk, err := env.repos.Sources.GetChunk(ctx, added[1].ChunkIds[0])
	require.NoError(t, err)
	assert.Equal(t, 1, chunk.Tokens)

	stats, _, err := env.repos.Stats.ListEmbeddingStats(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 5, stats[0].NumTexts)
	assert.Equal(t, 5, stats[0].TotalTokens)
	assert.Equal(t, 20, stats[0].TotalLength)
}

func TestAddBatch_BoundedFanOut(t *testing.T) {
	env := newTestEnv(t, mock.NewMockEmbedder(2), 2, WithFanOut(2))
	ctx := context.Background()

	batch := make([]Document, 10)
	for i := range batch {
		batch[i] = Document{Name: fmt.Sprintf("doc%d", i), Pieces: pieces(strings.Repeat("x", i+1))}
	}
	added, err := env.pipeline.AddBatch(ctx, batch)
	require.NoError(t, err)
	require.Len(t, added, 10)
	for i, source := range added {
		assert.Equal(t, batch[i].Name, source.Name)
	}

	env.scheduler.RunPending(ctx)
	require.Empty(t, env.scheduler.Errors())
	for _, source := range added {
		saved, err := env.repos.Sources.GetSource(ctx, source.Id)
		require.NoError(t, err)
		assert.True(t, saved.Saved)
	}
}

func TestEmbed_FailureLeavesSourceUnsaved(t *testing.T) {
	embedder := mock.NewMockEmbedder(2)
	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string) (*ai.BatchResult, error) {
		return nil, fmt.Errorf("%w: API returned status 500", core.ErrEmbeddingAPI)
	}
	env := newTestEnv(t, embedder, 2)
	ctx := context.Background()

	source, err := env.pipeline.AddSource(ctx, "doc", pieces("text"))
	require.NoError(t, err)
	env.scheduler.RunPending(ctx)

	errs := env.scheduler.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrEmbeddingAPI)

	loaded, err := env.repos.Sources.GetSource(ctx, source.Id)
	require.NoError(t, err)
	assert.False(t, loaded.Saved)
}

func TestEmbed_ShortResponse(t *testing.T) {
	embedder := mock.NewMockEmbedder(2)
	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string) (*ai.BatchResult, error) {
		return mock.Result(texts, []float32{1, 0}), nil
	}
	env := newTestEnv(t, embedder, 2)
	ctx := context.Background()

	source, err := env.pipeline.AddSource(ctx, "doc", pieces("one", "two"))
	require.NoError(t, err)
	err = env.pipeline.Embed(ctx, source.Id)
	assert.ErrorIs(t, err, core.ErrEmbeddingAPI)

	loaded, err := env.repos.Sources.GetSource(ctx, source.Id)
	require.NoError(t, err)
	assert.False(t, loaded.Saved)
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	env := newTestEnv(t, mock.NewMockEmbedder(3), 2)
	ctx := context.Background()

	source, err := env.pipeline.AddSource(ctx, "doc", pieces("text"))
	require.NoError(t, err)
	err = env.pipeline.Embed(ctx, source.Id)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	loaded, err := env.repos.Sources.GetSource(ctx, source.Id)
	require.NoError(t, err)
	assert.False(t, loaded.Saved)
}

func TestEmbed_SourceDeletedBeforeJob(t *testing.T) {
	embedder := mock.NewMockEmbedder(2)
	env := newTestEnv(t, embedder, 2)
	ctx := context.Background()

	source, err := env.pipeline.AddSource(ctx, "doc", pieces("text"))
	require.NoError(t, err)
	_, err = env.pipeline.DeleteSource(ctx, source.Id)
	require.NoError(t, err)

	assert.Equal(t, 2, env.scheduler.RunPending(ctx))
	assert.Empty(t, env.scheduler.Errors())
	assert.Zero(t, embedder.CallCount())
}

func TestEmbed_SourceDeletedMidFlight(t *testing.T) {
	env := newTestEnv(t, mock.NewMockEmbedder(2), 2)
	ctx := context.Background()

	source, err := env.pipeline.AddSource(ctx, "doc", pieces("one", "two"))
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder(2)
	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string) (*ai.BatchResult, error) {
		_, err := env.pipeline.DeleteSource(ctx, source.Id)
		require.NoError(t, err)
		return mock.Result(texts, []float32{1, 0}, []float32{0, 1}), nil
	}
	env.pipeline.embedProc.embedder = embedder

	env.scheduler.RunPending(ctx)
	assert.Empty(t, env.scheduler.Errors())

	for _, chunkID := range source.ChunkIds {
		_, err := env.store.Get(ctx, chunkID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
	_, err = env.repos.Sources.GetSource(ctx, source.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteSource(t *testing.T) {
	env := newTestEnv(t, mock.NewMockEmbedder(2), 2)
	ctx := context.Background()

	source, err := env.pipeline.AddSource(ctx, "doc", pieces("one", "two"))
	require.NoError(t, err)
	env.scheduler.RunPending(ctx)
	_, err = env.store.Get(ctx, source.ChunkIds[0])
	require.NoError(t, err)

	deleted, err := env.pipeline.DeleteSource(ctx, source.Id)
	require.NoError(t, err)
	assert.Equal(t, source.Id, deleted.Id)

	_, err = env.repos.Sources.GetChunk(ctx, source.ChunkIds[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pending := env.scheduler.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, jobs.KindDeleteVectors, pending[0].Kind)
	assert.Equal(t, jobs.DeleteVectorsPayload{ChunkIds: source.ChunkIds}, pending[0].Payload)

	env.scheduler.RunPending(ctx)
	require.Empty(t, env.scheduler.Errors())
	for _, chunkID := range source.ChunkIds {
		_, err := env.store.Get(ctx, chunkID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}

	_, err = env.pipeline.DeleteSource(ctx, source.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAddText(t *testing.T) {
	c, err := chunker.New(chunker.WithMaxChunkSize(20))
	require.NoError(t, err)
	env := newTestEnv(t, mock.NewMockEmbedder(2), 2, WithChunker(c))
	ctx := context.Background()

	source, err := env.pipeline.AddText(ctx, "notes", "first paragraph\n\nsecond paragraph")
	require.NoError(t, err)
	assert.Len(t, source.ChunkIds, 2)

	_, err = env.pipeline.AddText(ctx, "blank", "   ")
	assert.ErrorIs(t, err, core.ErrEmptyInput)
}
