package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/poiesic/docsim/ai"
	"github.com/poiesic/docsim/ai/mock"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/jobs"
	"github.com/poiesic/docsim/storage"
	"github.com/poiesic/docsim/storage/badger"
	"github.com/poiesic/docsim/vectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	repos       *badger.Repositories
	chunkStore  *vectors.Store
	searchStore *vectors.Store
	embedder    *mock.MockEmbedder
	scheduler   *jobs.Manual
	searcher    *Searcher
}

// queryVectors maps search input to the vector the embedder returns for it.
var queryVectors = map[string][]float32{
	"north":     {1, 0},
	"east":      {0, 1},
	"northeast": {0.6, 0.8},
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	chunkStore, err := vectors.NewStore(repos.Vectors, storage.NamespaceChunks, 2)
	require.NoError(t, err)
	searchStore, err := vectors.NewStore(repos.Vectors, storage.NamespaceSearches, 2)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder(2)
	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string) (*ai.BatchResult, error) {
		vecs := make([][]float32, len(texts))
		for i, text := range texts {
			vec, ok := queryVectors[text]
			if !ok {
				return nil, fmt.Errorf("%w: no vector for %q", core.ErrEmbeddingAPI, text)
			}
			vecs[i] = vec
		}
		return mock.Result(texts, vecs...), nil
	}

	scheduler := jobs.NewManual()
	searcher, err := NewSearcher(repos.Sources, repos.Queries, chunkStore, searchStore, embedder, scheduler, opts...)
	require.NoError(t, err)

	return &testEnv{
		repos:       repos,
		chunkStore:  chunkStore,
		searchStore: searchStore,
		embedder:    embedder,
		scheduler:   scheduler,
		searcher:    searcher,
	}
}

// seed stores a source whose chunks carry the given vectors.
func (e *testEnv) seed(t *testing.T, name string, vecs ...[]float32) *core.Source {
	t.Helper()
	ctx := context.Background()
	chunks := make([]*core.Chunk, len(vecs))
	for i := range vecs {
		chunks[i] = &core.Chunk{
			Text:  fmt.Sprintf("%s chunk %d", name, i),
			Lines: core.LineRange{From: i + 1, To: i + 1},
		}
	}
	source, err := e.repos.Sources.AddSource(ctx, &core.Source{Name: name}, chunks)
	require.NoError(t, err)

	records := make([]vectors.Record, len(vecs))
	for i, vec := range vecs {
		records[i] = vectors.Record{Id: source.ChunkIds[i], Vector: vec}
	}
	require.NoError(t, e.chunkStore.PutMany(ctx, records...))
	return source
}

func (e *testEnv) run(t *testing.T) {
	t.Helper()
	e.scheduler.RunPending(context.Background())
	require.Empty(t, e.scheduler.Errors())
}

func TestNewSearcher(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	store, err := vectors.NewStore(repos.Vectors, storage.NamespaceChunks, 2)
	require.NoError(t, err)
	embedder := mock.NewMockEmbedder(2)
	scheduler := jobs.NewManual()

	t.Run("valid configuration", func(t *testing.T) {
		searcher, err := NewSearcher(repos.Sources, repos.Queries, store, store, embedder, scheduler)
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		searcher, err := NewSearcher(repos.Sources, repos.Queries, store, store, embedder, scheduler,
			WithLogger(nil), WithLogger(slog.Default()))
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("invalid memo size", func(t *testing.T) {
		_, err := NewSearcher(repos.Sources, repos.Queries, store, store, embedder, scheduler, WithMemoSize(0))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("missing collaborators", func(t *testing.T) {
		_, err := NewSearcher(nil, repos.Queries, store, store, embedder, scheduler)
		assert.Equal(t, ErrSourceRepositoryRequired, err)
		_, err = NewSearcher(repos.Sources, nil, store, store, embedder, scheduler)
		assert.Equal(t, ErrQueryRepositoryRequired, err)
		_, err = NewSearcher(repos.Sources, repos.Queries, nil, store, embedder, scheduler)
		assert.Equal(t, ErrVectorStoreRequired, err)
		_, err = NewSearcher(repos.Sources, repos.Queries, store, nil, embedder, scheduler)
		assert.Equal(t, ErrVectorStoreRequired, err)
		_, err = NewSearcher(repos.Sources, repos.Queries, store, store, nil, scheduler)
		assert.Equal(t, ErrEmbedderRequired, err)
		_, err = NewSearcher(repos.Sources, repos.Queries, store, store, embedder, nil)
		assert.Equal(t, ErrSchedulerRequired, err)
	})
}

func TestUpsertSearch_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.searcher.UpsertSearch(ctx, "  ", 5)
	assert.ErrorIs(t, err, core.ErrEmptyInput)

	_, err = env.searcher.UpsertSearch(ctx, "north", -1)
	assert.ErrorIs(t, err, core.ErrInvalidCount)

	id, err := env.searcher.UpsertSearch(ctx, "north", 0)
	require.NoError(t, err)
	search, err := env.repos.Queries.GetSearch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DefaultCount, search.Count)
}

func TestSearch_PendingThenReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	source := env.seed(t, "doc1", []float32{1, 0}, []float32{0, 1}, []float32{0.707, 0.707})

	id, err := env.searcher.UpsertSearch(ctx, "north", 2)
	require.NoError(t, err)

	results, err := env.searcher.Search(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, results)

	env.run(t)

	results, err = env.searcher.Search(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, source.ChunkIds[0], results[0].Chunk.Id)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, source.ChunkIds[2], results[1].Chunk.Id)
	assert.InDelta(t, 0.707, results[1].Score, 1e-6)
	assert.Equal(t, "doc1", results[0].SourceName)
	assert.Equal(t, "doc1 chunk 0", results[0].Chunk.Text)

	search, err := env.repos.Queries.GetSearch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.QueryReady, search.Status())
	assert.Positive(t, search.Stats.InputTokens)

	// The query vector is kept alongside the search
	vector, err := env.searchStore.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vector)
}

func TestUpsertSearch_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "doc", []float32{1, 0})

	first, err := env.searcher.UpsertSearch(ctx, "north", 5)
	require.NoError(t, err)
	env.run(t)

	second, err := env.searcher.UpsertSearch(ctx, "north", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Empty(t, env.scheduler.Pending())
	assert.Equal(t, 1, env.embedder.CallCount())
}

func TestUpsertSearch_PendingRecordIsReused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.searcher.UpsertSearch(ctx, "north", 5)
	require.NoError(t, err)
	second, err := env.searcher.UpsertSearch(ctx, "north", 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, env.scheduler.Pending(), 1)
}

// restart replaces the scheduler and searcher as a new process would, keeping
// the stores. Jobs queued on the old scheduler are lost.
func (e *testEnv) restart(t *testing.T) {
	t.Helper()
	e.scheduler = jobs.NewManual()
	searcher, err := NewSearcher(e.repos.Sources, e.repos.Queries, e.chunkStore, e.searchStore, e.embedder, e.scheduler)
	require.NoError(t, err)
	e.searcher = searcher
}

func TestUpsertSearch_PendingRecordRescheduledAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	source := env.seed(t, "doc", []float32{1, 0}, []float32{0, 1})

	first, err := env.searcher.UpsertSearch(ctx, "north", 1)
	require.NoError(t, err)
	env.restart(t)

	second, err := env.searcher.UpsertSearch(ctx, "north", 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, env.scheduler.Pending(), 1)

	third, err := env.searcher.UpsertSearch(ctx, "north", 1)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Len(t, env.scheduler.Pending(), 1)

	env.run(t)

	results, err := env.searcher.Search(ctx, first)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, source.ChunkIds[0], results[0].Chunk.Id)

	// Ready records are not scheduled again
	_, err = env.searcher.UpsertSearch(ctx, "north", 1)
	require.NoError(t, err)
	assert.Empty(t, env.scheduler.Pending())
}

func TestUpsertComparison_PendingRecordRescheduledAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	source := env.seed(t, "doc", []float32{1, 0}, []float32{0, 1}, []float32{0.6, 0.8})
	target := source.ChunkIds[0]

	first, err := env.searcher.UpsertComparison(ctx, target, 1)
	require.NoError(t, err)
	env.restart(t)

	second, err := env.searcher.UpsertComparison(ctx, target, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, env.scheduler.Pending(), 1)

	env.run(t)

	view, err := env.searcher.Comparison(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, view)
	require.Len(t, view.Related, 1)
	assert.Equal(t, source.ChunkIds[2], view.Related[0].Chunk.Id)
}

func TestUpsertSearch_MonotonicReuse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "doc", []float32{1, 0}, []float32{0, 1})

	five, err := env.searcher.UpsertSearch(ctx, "north", 5)
	require.NoError(t, err)
	env.run(t)

	ten, err := env.searcher.UpsertSearch(ctx, "north", 10)
	require.NoError(t, err)
	assert.NotEqual(t, five, ten)
	env.run(t)

	three, err := env.searcher.UpsertSearch(ctx, "north", 3)
	require.NoError(t, err)
	assert.Equal(t, ten, three)

	// The second search reused the memoized query embedding
	assert.Equal(t, 1, env.embedder.CallCount())
}

func TestUpsertSearch_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]core.ID, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = env.searcher.UpsertSearch(ctx, "north", 5)
		}()
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Len(t, env.scheduler.Pending(), 1)
}

func TestSearch_SkipsDeletedChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gone := env.seed(t, "gone", []float32{1, 0})
	kept := env.seed(t, "kept", []float32{0.6, 0.8})

	id, err := env.searcher.UpsertSearch(ctx, "north", 5)
	require.NoError(t, err)
	env.run(t)

	_, err = env.repos.Sources.DeleteSource(ctx, gone.Id)
	require.NoError(t, err)

	results, err := env.searcher.Search(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, kept.ChunkIds[0], results[0].Chunk.Id)
	assert.Equal(t, "kept", results[0].SourceName)
}

func TestSearch_AllChunksDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	source := env.seed(t, "doc", []float32{1, 0})

	id, err := env.searcher.UpsertSearch(ctx, "north", 5)
	require.NoError(t, err)
	env.run(t)

	_, err = env.repos.Sources.DeleteSource(ctx, source.Id)
	require.NoError(t, err)

	results, err := env.searcher.Search(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_EmptyResultFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.searcher.UpsertSearch(ctx, "north", 5)
	require.NoError(t, err)
	env.scheduler.RunPending(ctx)

	errs := env.scheduler.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrEmptyResult)

	_, err = env.searcher.Search(ctx, id)
	assert.ErrorIs(t, err, core.ErrQueryFailed)

	// Failed records are not reused
	retry, err := env.searcher.UpsertSearch(ctx, "north", 5)
	require.NoError(t, err)
	assert.NotEqual(t, id, retry)
}

func TestSearch_EmbeddingFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "doc", []float32{1, 0})

	id, err := env.searcher.UpsertSearch(ctx, "unknown words", 5)
	require.NoError(t, err)
	env.scheduler.RunPending(ctx)

	errs := env.scheduler.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrEmbeddingAPI)

	search, err := env.repos.Queries.GetSearch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.QueryFailed, search.Status())
	assert.Contains(t, search.Error, "no vector")

	_, err = env.searcher.Search(ctx, id)
	assert.ErrorIs(t, err, core.ErrQueryFailed)
}

func TestSearch_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.searcher.Search(context.Background(), 12345)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = env.searcher.Comparison(context.Background(), 12345)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestComparison_ExcludesTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	source := env.seed(t, "doc", []float32{1, 0}, []float32{0, 1}, []float32{0.6, 0.8}, []float32{1, 0})
	target := source.ChunkIds[0]

	id, err := env.searcher.UpsertComparison(ctx, target, 3)
	require.NoError(t, err)

	view, err := env.searcher.Comparison(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, view)

	env.run(t)

	view, err = env.searcher.Comparison(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, view)
	require.NotNil(t, view.Target)
	assert.Equal(t, target, view.Target.Chunk.Id)
	assert.Equal(t, "doc", view.Target.SourceName)

	require.Len(t, view.Related, 3)
	for _, match := range view.Related {
		assert.NotEqual(t, target, match.Chunk.Id)
	}
	assert.Equal(t, source.ChunkIds[3], view.Related[0].Chunk.Id)
	assert.Equal(t, source.ChunkIds[2], view.Related[1].Chunk.Id)
	assert.Equal(t, source.ChunkIds[1], view.Related[2].Chunk.Id)

	again, err := env.searcher.UpsertComparison(ctx, target, 2)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// Comparisons never call the embedding API
	assert.Zero(t, env.embedder.CallCount())
}

func TestComparison_TargetDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.seed(t, "first", []float32{1, 0})
	second := env.seed(t, "second", []float32{0.6, 0.8})

	id, err := env.searcher.UpsertComparison(ctx, first.ChunkIds[0], 5)
	require.NoError(t, err)
	env.run(t)

	_, err = env.repos.Sources.DeleteSource(ctx, first.Id)
	require.NoError(t, err)

	view, err := env.searcher.Comparison(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, view.Target)
	require.Len(t, view.Related, 1)
	assert.Equal(t, second.ChunkIds[0], view.Related[0].Chunk.Id)
}

func TestUpsertComparison_UnknownTarget(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.searcher.UpsertComparison(context.Background(), 999, 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, env.scheduler.Pending())
}

func TestComparison_TargetNotEmbedded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "embedded", []float32{1, 0})
	source, err := env.repos.Sources.AddSource(ctx, &core.Source{Name: "unsaved"},
		[]*core.Chunk{{Text: "no vector yet", Lines: core.LineRange{From: 1, To: 1}}})
	require.NoError(t, err)

	id, err := env.searcher.UpsertComparison(ctx, source.ChunkIds[0], 5)
	require.NoError(t, err)
	env.scheduler.RunPending(ctx)

	errs := env.scheduler.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], storage.ErrNotFound)

	_, err = env.searcher.Comparison(ctx, id)
	assert.ErrorIs(t, err, core.ErrQueryFailed)
}

func TestWordSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	source := env.seed(t, "words", []float32{1, 0}, []float32{0, 1})

	results, err := env.searcher.WordSearch(ctx, "Chunk 1", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, source.ChunkIds[1], results[0].Chunk.Id)
	assert.Equal(t, "words", results[0].SourceName)

	results, err = env.searcher.WordSearch(ctx, "words chunk", 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	_, err = env.searcher.WordSearch(ctx, "the a", 5)
	assert.ErrorIs(t, err, core.ErrEmptyInput)
}

// recordingMonitor records the stages it observes.
type recordingMonitor struct {
	mu     sync.Mutex
	stages []string
	errs   []error
}

func (m *recordingMonitor) Start(kind string, id core.ID) {
	m.record("start " + kind)
}

func (m *recordingMonitor) AfterEmbedding(id core.ID, tokens int, cached bool) {
	m.record(fmt.Sprintf("embedded cached=%t", cached))
}

func (m *recordingMonitor) AfterRank(id core.ID, related []core.RelatedChunk) {
	m.record(fmt.Sprintf("ranked %d", len(related)))
}

func (m *recordingMonitor) Finish(id core.ID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, "finish")
	m.errs = append(m.errs, err)
}

func (m *recordingMonitor) record(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func TestSearchMonitor(t *testing.T) {
	monitor := &recordingMonitor{}
	env := newTestEnv(t, WithMonitor(monitor))
	ctx := context.Background()
	env.seed(t, "doc", []float32{1, 0}, []float32{0, 1})

	_, err := env.searcher.UpsertSearch(ctx, "north", 1)
	require.NoError(t, err)
	env.run(t)
	_, err = env.searcher.UpsertSearch(ctx, "north", 2)
	require.NoError(t, err)
	env.run(t)

	assert.Equal(t, []string{
		"start search", "embedded cached=false", "ranked 1", "finish",
		"start search", "embedded cached=true", "ranked 2", "finish",
	}, monitor.stages)
	for _, err := range monitor.errs {
		assert.NoError(t, err)
	}
}

func TestSearchMonitor_ReportsFailure(t *testing.T) {
	monitor := &recordingMonitor{}
	env := newTestEnv(t, WithMonitor(monitor))
	ctx := context.Background()

	_, err := env.searcher.UpsertSearch(ctx, "north", 1)
	require.NoError(t, err)
	env.scheduler.RunPending(ctx)

	require.Len(t, monitor.errs, 1)
	assert.True(t, errors.Is(monitor.errs[0], core.ErrEmptyResult))
}
