package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/poiesic/docsim/ai"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/storage"
	"github.com/poiesic/docsim/vectors"
	"golang.org/x/sync/errgroup"
)

// offsets returns the start of each group in an array holding the groups
// back to back.
func offsets(counts []int) []int {
	result := make([]int, len(counts))
	next := 0
	for i, count := range counts {
		result[i] = next
		next += count
	}
	return result
}

// sourceWork is one source of a batch and its slice of the embedding request.
type sourceWork struct {
	source *core.Source
	chunks []*core.Chunk
	texts  []string
	length int
}

// embeddingProcessor embeds the chunks of several sources with one call.
type embeddingProcessor struct {
	sources  storage.SourceRepository
	stats    storage.StatsRepository
	store    *vectors.Store
	embedder ai.Embedder
	fanOut   int
	logger   *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

func newEmbeddingProcessor(sources storage.SourceRepository, stats storage.StatsRepository,
	store *vectors.Store, embedder ai.Embedder, fanOut int, logger *slog.Logger) *embeddingProcessor {
	return &embeddingProcessor{
		sources:  sources,
		stats:    stats,
		store:    store,
		embedder: embedder,
		fanOut:   fanOut,
		logger:   logger.With("processor", "embeddings"),
	}
}

// process embeds every chunk of the given sources, stores the vectors and
// marks each source saved. Sources deleted before or during the call are
// skipped. On embedding failure no source is marked saved.
func (ep *embeddingProcessor) process(ctx context.Context, ids ...core.ID) error {
	work, err := ep.load(ctx, ids)
	if err != nil {
		return err
	}
	if len(work) == 0 {
		return nil
	}

	counts := make([]int, len(work))
	var texts []string
	for i, w := range work {
		counts[i] = len(w.texts)
		texts = append(texts, w.texts...)
	}

	ep.logger.Info("embedding sources", "sources", len(work), "chunks", len(texts))
	result, err := ep.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed sources: %w", err)
	}
	if len(result.Vectors) != len(texts) {
		return fmt.Errorf("%w: expected %d embeddings, received %d", core.ErrEmbeddingAPI, len(texts), len(result.Vectors))
	}
	ep.recordStats(ctx, len(texts), result)

	totalLength := ai.TextLength(texts...)
	starts := offsets(counts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ep.fanOut)
	for i, w := range work {
		vecs := result.Vectors[starts[i] : starts[i]+counts[i]]
		g.Go(func() error {
			return ep.save(gctx, w, vecs, result, totalLength)
		})
	}
	return g.Wait()
}

// load reads the sources and their chunks in the order given.
func (ep *embeddingProcessor) load(ctx context.Context, ids []core.ID) ([]sourceWork, error) {
	work := make([]sourceWork, 0, len(ids))
	for _, id := range ids {
		source, err := ep.sources.GetSource(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			ep.logger.Info("source deleted before embedding", "source", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		chunks, err := ep.sources.GetSourceChunks(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			ep.logger.Info("source deleted before embedding", "source", id)
			continue
		}
		if err != nil {
			return nil, err
		}

		w := sourceWork{source: source, chunks: chunks, texts: make([]string, len(chunks))}
		for i, chunk := range chunks {
			w.texts[i] = ai.PrepareText(chunk.Text)
		}
		w.length = ai.TextLength(w.texts...)
		work = append(work, w)
	}
	return work, nil
}

// save writes the vectors of one source and flips it to saved.
func (ep *embeddingProcessor) save(ctx context.Context, w sourceWork, vecs [][]float32, result *ai.BatchResult, totalLength int) error {
	records := make([]vectors.Record, len(w.chunks))
	for i, chunk := range w.chunks {
		records[i] = vectors.Record{
			Id:     chunk.Id,
			Vector: vecs[i],
			Metadata: map[string]string{
				storage.MetaSource:     strconv.FormatUint(uint64(w.source.Id), 10),
				storage.MetaName:       w.source.Name,
				storage.MetaChunkIndex: strconv.Itoa(chunk.ChunkIndex),
			},
		}
	}
	if len(records) > 0 {
		if err := ep.store.PutMany(ctx, records...); err != nil {
			return fmt.Errorf("source %d: %w", w.source.Id, err)
		}
	}

	totalTokens := int64(result.TotalTokens)
	update := core.SourceSavedUpdate{
		TotalTokens: int(ai.ProRate(totalTokens, w.length, totalLength)),
		EmbeddingMs: ai.ProRate(result.ElapsedMs(), w.length, totalLength),
		ChunkTokens: make([]int, len(w.texts)),
	}
	for i, text := range w.texts {
		update.ChunkTokens[i] = int(ai.ProRate(totalTokens, ai.TextLength(text), totalLength))
	}

	_, err := ep.sources.MarkSourceSaved(ctx, w.source.Id, update)
	if errors.Is(err, storage.ErrNotFound) {
		err = fmt.Errorf("source %d: %w", w.source.Id, core.ErrUnknownSource)
		ep.logger.Warn("source deleted during embedding, dropping vectors", "source", w.source.Id, "err", err)
		ids := make([]core.ID, len(w.chunks))
		for i, chunk := range w.chunks {
			ids[i] = chunk.Id
		}
		if delErr := ep.store.Delete(ctx, ids...); delErr != nil {
			ep.logger.Error("error dropping orphaned vectors", "source", w.source.Id, "err", delErr)
		}
		return nil
	}
	if err != nil {
		return err
	}

	ep.logger.Debug("source saved", "source", w.source.Id, "tokens", update.TotalTokens)
	return nil
}

func (ep *embeddingProcessor) recordStats(ctx context.Context, numTexts int, result *ai.BatchResult) {
	stats := &core.EmbeddingStats{
		NumTexts:    numTexts,
		TotalTokens: result.TotalTokens,
		TotalLength: result.TotalLength,
		ElapsedMs:   result.ElapsedMs(),
	}
	if _, err := ep.stats.AddEmbeddingStats(ctx, stats); err != nil {
		ep.logger.Warn("error recording embedding stats", "err", err)
	}
}
