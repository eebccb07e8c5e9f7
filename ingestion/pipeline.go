package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/docsim/ai"
	"github.com/poiesic/docsim/chunker"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/jobs"
	"github.com/poiesic/docsim/storage"
	"github.com/poiesic/docsim/vectors"
	"golang.org/x/sync/errgroup"
)

// DefaultFanOut bounds concurrent source writes during batch ingestion.
const DefaultFanOut = 100

// Document is a named source and its chunk pieces, ready to be stored.
type Document struct {
	Name   string
	Pieces []chunker.Piece
}

// Pipeline orchestrates the ingestion of sources.
// Sources and chunks are stored synchronously; embedding runs as a job.
type Pipeline struct {
	sources   storage.SourceRepository
	scheduler jobs.Scheduler
	chunker   *chunker.Chunker
	embedProc *embeddingProcessor
	fanOut    int
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithFanOut sets the number of concurrent source writes in AddBatch and
// vector writes when a batch is embedded.
// Default is DefaultFanOut.
func WithFanOut(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			n = 1
		}
		p.fanOut = n
		return nil
	}
}

// WithChunker sets the chunker used by AddText.
// Default is a chunker with chunker.DefaultMaxChunkSize.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) error {
		if c != nil {
			p.chunker = c
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline and registers its job handlers
// with scheduler. store must be the chunk vector store.
func NewPipeline(
	sources storage.SourceRepository,
	stats storage.StatsRepository,
	store *vectors.Store,
	embedder ai.Embedder,
	scheduler jobs.Scheduler,
	opts ...Option,
) (*Pipeline, error) {
	if sources == nil {
		return nil, ErrSourceRepositoryRequired
	}
	if stats == nil {
		return nil, ErrStatsRepositoryRequired
	}
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if scheduler == nil {
		return nil, ErrSchedulerRequired
	}

	p := &Pipeline{
		sources:   sources,
		scheduler: scheduler,
		fanOut:    DefaultFanOut,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.chunker == nil {
		c, err := chunker.New()
		if err != nil {
			return nil, err
		}
		p.chunker = c
	}
	p.logger = p.logger.With("component", "ingestion")

	// Processors are created after options are applied so they get final config
	p.embedProc = newEmbeddingProcessor(sources, stats, store, embedder, p.fanOut, p.logger)
	cleanup := newVectorCleanup(store, p.logger)

	scheduler.Register(jobs.KindEmbedSources, handler(p.embedProc, func(payload jobs.Payload) ([]core.ID, bool) {
		body, ok := payload.(jobs.EmbedSourcesPayload)
		return body.SourceIds, ok
	}))
	scheduler.Register(jobs.KindDeleteVectors, handler(cleanup, func(payload jobs.Payload) ([]core.ID, bool) {
		body, ok := payload.(jobs.DeleteVectorsPayload)
		return body.ChunkIds, ok
	}))

	return p, nil
}

// AddText chunks text and adds it as a source named name.
func (p *Pipeline) AddText(ctx context.Context, name, text string) (*core.Source, error) {
	pieces, err := p.chunker.Chunk(text)
	if err != nil {
		return nil, err
	}
	return p.AddSource(ctx, name, pieces)
}

// AddSource stores a source and its chunks with Saved=false, then schedules
// embedding. The returned source is visible to readers immediately.
func (p *Pipeline) AddSource(ctx context.Context, name string, pieces []chunker.Piece) (*core.Source, error) {
	added, err := p.AddBatch(ctx, []Document{{Name: name, Pieces: pieces}})
	if err != nil {
		return nil, err
	}
	return added[0], nil
}

// AddBatch stores every document as a source, with at most the configured
// fan-out of writes in flight, then schedules one embedding job spanning all
// of them. Sources are returned in document order.
//
// If some writes fail, the sources that were stored are still scheduled for
// embedding and the first write error is returned.
func (p *Pipeline) AddBatch(ctx context.Context, batch []Document) ([]*core.Source, error) {
	for _, doc := range batch {
		if len(doc.Pieces) == 0 {
			return nil, fmt.Errorf("%w: source %q has no chunks", core.ErrEmptyInput, doc.Name)
		}
	}
	if len(batch) == 0 {
		return nil, nil
	}

	added := make([]*core.Source, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fanOut)
	for i, doc := range batch {
		g.Go(func() error {
			source, err := p.persist(gctx, doc)
			if err != nil {
				return fmt.Errorf("add source %q: %w", doc.Name, err)
			}
			added[i] = source
			return nil
		})
	}
	writeErr := g.Wait()

	ids := make([]core.ID, 0, len(added))
	for _, source := range added {
		if source != nil {
			ids = append(ids, source.Id)
		}
	}
	if len(ids) > 0 {
		if _, err := p.scheduler.Enqueue(ctx, jobs.EmbedSourcesPayload{SourceIds: ids}); err != nil {
			return nil, fmt.Errorf("schedule embedding: %w", err)
		}
		p.logger.Info("scheduled embedding", "sources", len(ids))
	}

	if writeErr != nil {
		return nil, writeErr
	}
	return added, nil
}

func (p *Pipeline) persist(ctx context.Context, doc Document) (*core.Source, error) {
	chunks := make([]*core.Chunk, len(doc.Pieces))
	for i, piece := range doc.Pieces {
		chunks[i] = &core.Chunk{Text: piece.Text, Lines: piece.Lines}
	}
	return p.sources.AddSource(ctx, &core.Source{Name: doc.Name}, chunks)
}

// Embed synchronously embeds the chunks of the given sources with one
// embedding call and marks them saved. It is the work performed by the
// embedding job, exposed for repair tooling.
func (p *Pipeline) Embed(ctx context.Context, sourceIds ...core.ID) error {
	return p.embedProc.process(ctx, sourceIds...)
}

// DeleteSource removes a source and its chunks, then schedules removal of
// their vectors. Vector removal is best effort; a scheduling failure is
// logged and the deleted source is still returned.
func (p *Pipeline) DeleteSource(ctx context.Context, id core.ID) (*core.Source, error) {
	deleted, err := p.sources.DeleteSource(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(deleted.ChunkIds) > 0 {
		payload := jobs.DeleteVectorsPayload{ChunkIds: deleted.ChunkIds}
		if _, err := p.scheduler.Enqueue(ctx, payload); err != nil {
			p.logger.Warn("error scheduling vector deletion", "source", id, "err", err)
		}
	}

	p.logger.Info("deleted source", "source", id, "chunks", len(deleted.ChunkIds))
	return deleted, nil
}
