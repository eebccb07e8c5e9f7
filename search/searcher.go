package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/poiesic/docsim/ai"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/jobs"
	"github.com/poiesic/docsim/storage"
	"github.com/poiesic/docsim/vectors"
)

const (
	// DefaultCount is the number of results requested when a caller passes 0.
	DefaultCount = 10

	// DefaultMemoSize is the number of query embeddings kept in memory.
	DefaultMemoSize = 256
)

// queryEmbedding is a memoized embedding of search input.
type queryEmbedding struct {
	vector []float32
	tokens int
}

// jobKey identifies the job computing a search or comparison record.
type jobKey struct {
	kind jobs.Kind
	id   core.ID
}

// Searcher provides cached semantic search and chunk comparison.
type Searcher struct {
	sources     storage.SourceRepository
	queries     storage.QueryRepository
	chunkStore  *vectors.Store
	searchStore *vectors.Store
	embedder    ai.Embedder
	scheduler   jobs.Scheduler
	monitor     SearchMonitor
	memoSize    int
	memo        *lru.Cache[core.ID, queryEmbedding]
	logger      *slog.Logger

	mu        sync.Mutex
	scheduled map[jobKey]struct{} // jobs queued or running in this process
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMonitor sets a monitor notified as search and comparison jobs run.
func WithMonitor(monitor SearchMonitor) Option {
	return func(s *Searcher) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		s.monitor = monitor
		return nil
	}
}

// WithMemoSize sets how many query embeddings are memoized.
// Default is DefaultMemoSize.
func WithMemoSize(size int) Option {
	return func(s *Searcher) error {
		if size < 1 {
			return fmt.Errorf("%w: memo size must be positive, got %d", core.ErrConfiguration, size)
		}
		s.memoSize = size
		return nil
	}
}

// NewSearcher creates a new searcher and registers its job handlers with
// scheduler. chunkStore holds chunk vectors; searchStore receives the query
// vector of each search.
func NewSearcher(
	sources storage.SourceRepository,
	queries storage.QueryRepository,
	chunkStore *vectors.Store,
	searchStore *vectors.Store,
	embedder ai.Embedder,
	scheduler jobs.Scheduler,
	opts ...Option,
) (*Searcher, error) {
	if sources == nil {
		return nil, ErrSourceRepositoryRequired
	}
	if queries == nil {
		return nil, ErrQueryRepositoryRequired
	}
	if chunkStore == nil || searchStore == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if scheduler == nil {
		return nil, ErrSchedulerRequired
	}

	s := &Searcher{
		sources:     sources,
		queries:     queries,
		chunkStore:  chunkStore,
		searchStore: searchStore,
		embedder:    embedder,
		scheduler:   scheduler,
		monitor:     &noopMonitor{},
		memoSize:    DefaultMemoSize,
		logger:      slog.Default(),
		scheduled:   make(map[jobKey]struct{}),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	memo, err := lru.New[core.ID, queryEmbedding](s.memoSize)
	if err != nil {
		return nil, err
	}
	s.memo = memo
	s.logger = s.logger.With("component", "search")

	scheduler.Register(jobs.KindRunSearch, s.handleSearch)
	scheduler.Register(jobs.KindRunComparison, s.handleComparison)

	return s, nil
}

func resolveCount(count int) (int, error) {
	if count == 0 {
		return DefaultCount, nil
	}
	if err := core.ValidateCount(count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpsertSearch returns the id of a cached search for input answering at
// least count results, creating a pending one and scheduling its computation
// when none exists. A count of 0 requests DefaultCount results.
func (s *Searcher) UpsertSearch(ctx context.Context, input string, count int) (core.ID, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, core.ErrEmptyInput
	}
	count, err := resolveCount(count)
	if err != nil {
		return 0, err
	}

	search, created, err := s.queries.UpsertSearch(ctx, input, count)
	if err != nil {
		return 0, err
	}
	if !created && search.Status() != core.QueryPending {
		s.logger.Debug("reusing cached search", "search", search.Id, "count", search.Count)
		return search.Id, nil
	}

	scheduled, err := s.schedule(ctx, jobs.RunSearchPayload{SearchId: search.Id}, search.Id)
	if err != nil {
		if created {
			// Failed records are never reused
			failErr := s.queries.FailSearch(ctx, search.Id, core.QueryFailedUpdate{Err: err.Error()})
			if failErr != nil {
				s.logger.Error("error failing unscheduled search", "search", search.Id, "err", failErr)
			}
		}
		return 0, fmt.Errorf("schedule search: %w", err)
	}
	if !created && scheduled {
		s.logger.Info("rescheduled pending search", "search", search.Id)
	}
	return search.Id, nil
}

// Search returns the results of a search joined with current chunk data.
// It returns nil, nil while the search is pending and core.ErrQueryFailed if
// computing it failed. Chunks or sources deleted since are skipped.
func (s *Searcher) Search(ctx context.Context, id core.ID) ([]core.ChunkMatch, error) {
	search, err := s.queries.GetSearch(ctx, id)
	if err != nil {
		return nil, err
	}

	switch search.Status() {
	case core.QueryPending:
		return nil, nil
	case core.QueryFailed:
		return nil, fmt.Errorf("search %d: %w: %s", id, core.ErrQueryFailed, search.Error)
	}
	return s.join(ctx, search.RelatedChunks)
}

// UpsertComparison returns the id of a cached comparison of target against
// the corpus, creating a pending one when none qualifies. target must exist.
func (s *Searcher) UpsertComparison(ctx context.Context, target core.ID, count int) (core.ID, error) {
	count, err := resolveCount(count)
	if err != nil {
		return 0, err
	}
	if _, err := s.sources.GetChunk(ctx, target); err != nil {
		return 0, err
	}

	comparison, created, err := s.queries.UpsertComparison(ctx, target, count)
	if err != nil {
		return 0, err
	}
	if !created && comparison.Status() != core.QueryPending {
		s.logger.Debug("reusing cached comparison", "comparison", comparison.Id, "count", comparison.Count)
		return comparison.Id, nil
	}

	scheduled, err := s.schedule(ctx, jobs.RunComparisonPayload{ComparisonId: comparison.Id}, comparison.Id)
	if err != nil {
		if created {
			failErr := s.queries.FailComparison(ctx, comparison.Id, core.QueryFailedUpdate{Err: err.Error()})
			if failErr != nil {
				s.logger.Error("error failing unscheduled comparison", "comparison", comparison.Id, "err", failErr)
			}
		}
		return 0, fmt.Errorf("schedule comparison: %w", err)
	}
	if !created && scheduled {
		s.logger.Info("rescheduled pending comparison", "comparison", comparison.Id)
	}
	return comparison.Id, nil
}

// Comparison returns a completed comparison joined with current chunk data,
// nil while it is pending, or core.ErrQueryFailed if computing it failed.
func (s *Searcher) Comparison(ctx context.Context, id core.ID) (*core.ComparisonView, error) {
	comparison, err := s.queries.GetComparison(ctx, id)
	if err != nil {
		return nil, err
	}

	switch comparison.Status() {
	case core.QueryPending:
		return nil, nil
	case core.QueryFailed:
		return nil, fmt.Errorf("comparison %d: %w: %s", id, core.ErrQueryFailed, comparison.Error)
	}

	view := &core.ComparisonView{Comparison: comparison}
	target, err := s.sources.JoinChunks(ctx, []core.RelatedChunk{{ChunkId: comparison.Target}})
	if err != nil {
		return nil, err
	}
	if len(target) == 1 {
		view.Target = &target[0]
	}
	if view.Related, err = s.join(ctx, comparison.RelatedChunks); err != nil {
		return nil, err
	}
	return view, nil
}

// WordSearch returns up to count chunks containing every word of input,
// ranked by term frequency. A count of 0 requests DefaultCount results.
func (s *Searcher) WordSearch(ctx context.Context, input string, count int) ([]core.ChunkMatch, error) {
	count, err := resolveCount(count)
	if err != nil {
		return nil, err
	}
	terms := core.UniqueTerms(input)
	if len(terms) == 0 {
		return nil, core.ErrEmptyInput
	}
	return s.sources.SearchWords(ctx, terms, count)
}

// schedule enqueues the job computing a pending record unless one is already
// queued or running here. The store is held by one process at a time, so a
// pending record with no job in this process lost it to a restart and is
// scheduled again. Completion of a record is idempotent.
func (s *Searcher) schedule(ctx context.Context, payload jobs.Payload, id core.ID) (bool, error) {
	key := jobKey{kind: payload.Kind(), id: id}
	s.mu.Lock()
	if _, ok := s.scheduled[key]; ok {
		s.mu.Unlock()
		return false, nil
	}
	s.scheduled[key] = struct{}{}
	s.mu.Unlock()

	if _, err := s.scheduler.Enqueue(ctx, payload); err != nil {
		s.unschedule(key)
		return false, err
	}
	return true, nil
}

func (s *Searcher) unschedule(key jobKey) {
	s.mu.Lock()
	delete(s.scheduled, key)
	s.mu.Unlock()
}

// join never returns nil so callers can tell a ready record from a pending one.
func (s *Searcher) join(ctx context.Context, related []core.RelatedChunk) ([]core.ChunkMatch, error) {
	matches, err := s.sources.JoinChunks(ctx, related)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []core.ChunkMatch{}
	}
	return matches, nil
}
