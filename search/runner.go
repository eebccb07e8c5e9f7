package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/docsim/ai"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/jobs"
	"github.com/poiesic/docsim/storage"
	"github.com/poiesic/docsim/vectors"
)

func (s *Searcher) handleSearch(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(jobs.RunSearchPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job kind %s", job.Payload, job.Kind)
	}
	defer s.unschedule(jobKey{kind: jobs.KindRunSearch, id: payload.SearchId})
	return s.runSearch(ctx, payload.SearchId)
}

func (s *Searcher) handleComparison(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(jobs.RunComparisonPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job kind %s", job.Payload, job.Kind)
	}
	defer s.unschedule(jobKey{kind: jobs.KindRunComparison, id: payload.ComparisonId})
	return s.runComparison(ctx, payload.ComparisonId)
}

// runSearch embeds the search input, ranks chunks against it and completes
// the record. Failures are written to the record and returned.
func (s *Searcher) runSearch(ctx context.Context, id core.ID) (err error) {
	search, err := s.queries.GetSearch(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("search vanished before it ran", "search", id)
		return nil
	}
	if err != nil {
		return err
	}
	if search.Status() != core.QueryPending {
		return nil
	}

	s.monitor.Start("search", id)
	defer func() { s.monitor.Finish(id, err) }()

	embedding, embedMs, cached, err := s.embedQuery(ctx, search.Input)
	if err == nil {
		s.monitor.AfterEmbedding(id, embedding.tokens, cached)
		if err = s.searchStore.Put(ctx, id, embedding.vector); err != nil {
			err = fmt.Errorf("store query vector: %w", err)
		}
	}
	if err != nil {
		return s.failSearch(ctx, id, err)
	}

	related, queryMs, err := rank(ctx, s.chunkStore, embedding.vector, search.Count, 0)
	if err != nil {
		return s.failSearch(ctx, id, err)
	}
	s.monitor.AfterRank(id, related)

	update := core.SearchResultsUpdate{
		RelatedChunks: related,
		Stats: core.QueryStats{
			EmbeddingMs: embedMs,
			QueryMs:     queryMs,
			InputTokens: embedding.tokens,
		},
	}
	if err = s.queries.CompleteSearch(ctx, id, update); err != nil {
		return err
	}
	s.logger.Info("search completed", "search", id, "results", len(related), "queryMs", queryMs)
	return nil
}

// runComparison ranks chunks against the vector of the target chunk,
// excluding the target itself.
func (s *Searcher) runComparison(ctx context.Context, id core.ID) (err error) {
	comparison, err := s.queries.GetComparison(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("comparison vanished before it ran", "comparison", id)
		return nil
	}
	if err != nil {
		return err
	}
	if comparison.Status() != core.QueryPending {
		return nil
	}

	s.monitor.Start("comparison", id)
	defer func() { s.monitor.Finish(id, err) }()

	vector, err := s.chunkStore.Get(ctx, comparison.Target)
	if err != nil {
		return s.failComparison(ctx, id, fmt.Errorf("target chunk %d: %w", comparison.Target, err))
	}

	related, queryMs, err := rank(ctx, s.chunkStore, vector, comparison.Count, comparison.Target)
	if err != nil {
		return s.failComparison(ctx, id, err)
	}
	s.monitor.AfterRank(id, related)

	update := core.ComparisonResultsUpdate{
		RelatedChunks: related,
		Stats:         core.QueryStats{QueryMs: queryMs},
	}
	if err = s.queries.CompleteComparison(ctx, id, update); err != nil {
		return err
	}
	s.logger.Info("comparison completed", "comparison", id, "results", len(related), "queryMs", queryMs)
	return nil
}

// embedQuery returns the embedding of input, from the memo when possible.
// Memoized embeddings report zero latency.
func (s *Searcher) embedQuery(ctx context.Context, input string) (queryEmbedding, int64, bool, error) {
	key := core.IDFromContent(input)
	if cached, ok := s.memo.Get(key); ok {
		return cached, 0, true, nil
	}

	result, err := s.embedder.EmbedBatch(ctx, []string{ai.PrepareText(input)})
	if err != nil {
		return queryEmbedding{}, 0, false, fmt.Errorf("embed query: %w", err)
	}
	if len(result.Vectors) != 1 {
		return queryEmbedding{}, 0, false, fmt.Errorf("%w: expected 1 embedding, received %d", core.ErrEmbeddingAPI, len(result.Vectors))
	}

	embedding := queryEmbedding{vector: result.Vectors[0], tokens: result.TotalTokens}
	s.memo.Add(key, embedding)
	return embedding, result.ElapsedMs(), false, nil
}

// rank returns the count nearest chunks to vector. No matches is an error:
// it means nothing has been embedded or the index is misconfigured.
func rank(ctx context.Context, store *vectors.Store, vector []float32, count int, exclude core.ID) ([]core.RelatedChunk, int64, error) {
	start := time.Now()
	neighbors, err := store.NearestNeighbors(ctx, vector, count, exclude)
	if err != nil {
		return nil, 0, err
	}
	if len(neighbors) == 0 {
		return nil, 0, core.ErrEmptyResult
	}

	related := make([]core.RelatedChunk, len(neighbors))
	for i, n := range neighbors {
		related[i] = core.RelatedChunk{ChunkId: n.Id, Score: n.Score}
	}
	return related, time.Since(start).Milliseconds(), nil
}

func (s *Searcher) failSearch(ctx context.Context, id core.ID, cause error) error {
	s.logger.Error("search failed", "search", id, "err", cause)
	if err := s.queries.FailSearch(ctx, id, core.QueryFailedUpdate{Err: cause.Error()}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Searcher) failComparison(ctx context.Context, id core.ID, cause error) error {
	s.logger.Error("comparison failed", "comparison", id, "err", cause)
	if err := s.queries.FailComparison(ctx, id, core.QueryFailedUpdate{Err: cause.Error()}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
