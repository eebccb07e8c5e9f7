package badger

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/storage"
)

// SourceRepository implements storage.SourceRepository for BadgerDB.
type SourceRepository struct {
	backend   *Backend
	sourceSeq *badger.Sequence
	chunkSeq  *badger.Sequence
	logger    *slog.Logger
}

var _ storage.SourceRepository = (*SourceRepository)(nil)

// NewSourceRepository creates a new SourceRepository.
func NewSourceRepository(backend *Backend) (*SourceRepository, error) {
	sourceSeq, err := backend.GetSequence(sourceIDSeq)
	if err != nil {
		return nil, err
	}
	chunkSeq, err := backend.GetSequence(chunkIDSeq)
	if err != nil {
		sourceSeq.Release()
		return nil, err
	}

	return &SourceRepository{
		backend:   backend,
		sourceSeq: sourceSeq,
		chunkSeq:  chunkSeq,
		logger:    slog.Default().With("component", "source-repository"),
	}, nil
}

// Close releases the ID sequences.
func (r *SourceRepository) Close() error {
	err := r.sourceSeq.Release()
	if chunkErr := r.chunkSeq.Release(); err == nil {
		err = chunkErr
	}
	return err
}

// AddSource stores a source and its chunks. Chunks and their word index
// entries are written first and the source record last, so a visible source
// always has all of its chunks.
func (r *SourceRepository) AddSource(ctx context.Context, source *core.Source, chunks []*core.Chunk) (*core.Source, error) {
	if err := core.ValidateSource(source); err != nil {
		return nil, err
	}
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return nil, err
		}
	}

	// IDs are drawn before the transaction so conflict retries reuse them
	sourceID, err := nextID(r.sourceSeq)
	if err != nil {
		return nil, err
	}
	chunkIDs := make([]core.ID, len(chunks))
	for i := range chunks {
		if chunkIDs[i], err = nextID(r.chunkSeq); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	source.Id = sourceID
	source.ChunkIds = chunkIDs
	source.InsertedAt = now
	source.UpdatedAt = now
	for i, chunk := range chunks {
		chunk.Id = chunkIDs[i]
		chunk.SourceId = sourceID
		chunk.ChunkIndex = i
	}

	err = r.backend.WriteBatch(ctx, func(wb *badger.WriteBatch) error {
		for _, chunk := range chunks {
			if err := wb.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
			if err := r.indexTerms(wb, chunk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeSourceKey(source.Id), storage.MarshalSource(source))
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("stored source", "source", source.Id, "chunks", len(chunks))
	return source, nil
}

// indexTerms writes one word index entry per distinct term of the chunk.
func (r *SourceRepository) indexTerms(wb *badger.WriteBatch, chunk *core.Chunk) error {
	for term, freq := range core.TermFrequencies(chunk.Text) {
		if err := wb.Set(makeTermKey(term, chunk.Id), storage.MarshalCount(freq)); err != nil {
			return err
		}
	}
	return nil
}

// unindexTerms removes the word index entries of the chunk.
func (r *SourceRepository) unindexTerms(wb *badger.WriteBatch, chunk *core.Chunk) error {
	for _, term := range core.UniqueTerms(chunk.Text) {
		if err := wb.Delete(makeTermKey(term, chunk.Id)); err != nil {
			return err
		}
	}
	return nil
}

// GetSource retrieves a single source by ID.
func (r *SourceRepository) GetSource(ctx context.Context, id core.ID) (*core.Source, error) {
	var result *core.Source
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeSourceKey(id), storage.UnmarshalSource)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("source %d: %w", id, storage.ErrNotFound)
		}
		return nil
	})
	return result, err
}

// GetChunk retrieves a single chunk by ID.
func (r *SourceRepository) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	var result *core.Chunk
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeChunkKey(id), storage.UnmarshalChunk)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("chunk %d: %w", id, storage.ErrNotFound)
		}
		return nil
	})
	return result, err
}

// GetChunks retrieves the chunks that exist among ids.
func (r *SourceRepository) GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := readValue(tx, makeChunkKey(id), storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
		}
		return nil
	})
	return results, err
}

// GetSourceChunks returns the chunks of a source in chunk order.
func (r *SourceRepository) GetSourceChunks(ctx context.Context, sourceId core.ID) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		source, err := readValue(tx, makeSourceKey(sourceId), storage.UnmarshalSource)
		if err != nil {
			return err
		}
		if source == nil {
			return fmt.Errorf("source %d: %w", sourceId, storage.ErrNotFound)
		}
		for _, id := range source.ChunkIds {
			chunk, err := readValue(tx, makeChunkKey(id), storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
		}
		return nil
	})
	return results, err
}

// sourceNames caches source names for the duration of one read transaction.
type sourceNames struct {
	tx    *badger.Txn
	names map[core.ID]string
}

func newSourceNames(tx *badger.Txn) *sourceNames {
	return &sourceNames{tx: tx, names: make(map[core.ID]string)}
}

// lookup returns the source name and whether the source still exists.
func (s *sourceNames) lookup(id core.ID) (string, bool, error) {
	if name, ok := s.names[id]; ok {
		return name, name != "", nil
	}
	source, err := readValue(s.tx, makeSourceKey(id), storage.UnmarshalSource)
	if err != nil {
		return "", false, err
	}
	if source == nil {
		s.names[id] = ""
		return "", false, nil
	}
	s.names[id] = source.Name
	return source.Name, true, nil
}

// joinChunk reads a chunk and its source name. ok is false if either is gone.
func joinChunk(tx *badger.Txn, names *sourceNames, id core.ID) (*core.Chunk, string, bool, error) {
	chunk, err := readValue(tx, makeChunkKey(id), storage.UnmarshalChunk)
	if err != nil || chunk == nil {
		return nil, "", false, err
	}
	name, ok, err := names.lookup(chunk.SourceId)
	if err != nil || !ok {
		return nil, "", false, err
	}
	return chunk, name, true, nil
}

// JoinChunks resolves related chunks against current chunk and source data.
func (r *SourceRepository) JoinChunks(ctx context.Context, related []core.RelatedChunk) ([]core.ChunkMatch, error) {
	matches := make([]core.ChunkMatch, 0, len(related))
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		names := newSourceNames(tx)
		for _, rc := range related {
			chunk, name, ok, err := joinChunk(tx, names, rc.ChunkId)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			matches = append(matches, core.ChunkMatch{Chunk: chunk, SourceName: name, Score: rc.Score})
		}
		return nil
	})
	return matches, err
}

// MarkSourceSaved backfills chunk token estimates and then applies update to
// the source. Backfill runs in bounded transactions and skips deleted chunks.
func (r *SourceRepository) MarkSourceSaved(ctx context.Context, id core.ID, update core.SourceSavedUpdate) (*core.Source, error) {
	source, err := r.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}

	chunkIDs := source.ChunkIds[:min(len(source.ChunkIds), len(update.ChunkTokens))]
	err = r.backend.UpdateEach(ctx, len(chunkIDs), func(tx *badger.Txn, i int) error {
		chunk, err := readValue(tx, makeChunkKey(chunkIDs[i]), storage.UnmarshalChunk)
		if err != nil || chunk == nil {
			return err
		}
		chunk.Tokens = update.ChunkTokens[i]
		return tx.Set(makeChunkKey(chunkIDs[i]), storage.MarshalChunk(chunk))
	})
	if err != nil {
		return nil, err
	}

	var result *core.Source
	err = r.backend.Update(ctx, func(tx *badger.Txn) error {
		source, err := readValue(tx, makeSourceKey(id), storage.UnmarshalSource)
		if err != nil {
			return err
		}
		if source == nil {
			return fmt.Errorf("source %d: %w", id, storage.ErrNotFound)
		}

		update.Apply(source)
		source.UpdatedAt = time.Now().UTC()
		result = source
		return tx.Set(makeSourceKey(id), storage.MarshalSource(source))
	})
	return result, err
}

// DeleteSource removes a source, its chunks and their word index entries.
// The source record goes first so readers stop seeing the source at once;
// chunks whose source is gone are never joined into results.
func (r *SourceRepository) DeleteSource(ctx context.Context, id core.ID) (*core.Source, error) {
	var source *core.Source
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		var err error
		source, err = readValue(tx, makeSourceKey(id), storage.UnmarshalSource)
		if err != nil {
			return err
		}
		if source == nil {
			return fmt.Errorf("source %d: %w", id, storage.ErrNotFound)
		}
		return tx.Delete(makeSourceKey(id))
	})
	if err != nil {
		return nil, err
	}

	chunks, err := r.GetChunks(ctx, source.ChunkIds...)
	if err != nil {
		return nil, err
	}
	err = r.backend.WriteBatch(ctx, func(wb *badger.WriteBatch) error {
		for _, chunk := range chunks {
			if err := r.unindexTerms(wb, chunk); err != nil {
				return err
			}
			if err := wb.Delete(makeChunkKey(chunk.Id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("deleted source", "source", id, "chunks", len(source.ChunkIds))
	return source, nil
}

// ListSources returns sources newest first with the text of their first chunk.
func (r *SourceRepository) ListSources(ctx context.Context, cursor core.ID, limit int) ([]core.SourceSummary, core.ID, error) {
	var (
		summaries []core.SourceSummary
		next      core.ID
	)
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		sources, nextID, err := page(tx, []byte(sourcePrefix), cursor, limit, true, storage.UnmarshalSource)
		if err != nil {
			return err
		}
		next = nextID
		summaries = make([]core.SourceSummary, 0, len(sources))
		for _, source := range sources {
			summary := core.SourceSummary{Source: source}
			if len(source.ChunkIds) > 0 {
				first, err := readValue(tx, makeChunkKey(source.ChunkIds[0]), storage.UnmarshalChunk)
				if err != nil {
					return err
				}
				if first != nil {
					summary.FirstChunkText = first.Text
				}
			}
			summaries = append(summaries, summary)
		}
		return nil
	})
	return summaries, next, err
}

// ListChunks returns chunks in ascending id order with their source name.
// Chunks whose source is missing are left out, so a page may be short.
func (r *SourceRepository) ListChunks(ctx context.Context, cursor core.ID, limit int) ([]core.ChunkMatch, core.ID, error) {
	var (
		matches []core.ChunkMatch
		next    core.ID
	)
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		chunks, nextID, err := page(tx, []byte(chunkPrefix), cursor, limit, false, storage.UnmarshalChunk)
		if err != nil {
			return err
		}
		next = nextID
		names := newSourceNames(tx)
		matches = make([]core.ChunkMatch, 0, len(chunks))
		for _, chunk := range chunks {
			name, ok, err := names.lookup(chunk.SourceId)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			matches = append(matches, core.ChunkMatch{Chunk: chunk, SourceName: name})
		}
		return nil
	})
	return matches, next, err
}

// ForEachSource visits every source in ascending id order.
// Sources are read up front so fn may write to the store.
func (r *SourceRepository) ForEachSource(ctx context.Context, fn func(*core.Source) error) error {
	var sources []*core.Source
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sourcePrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				source, err := storage.UnmarshalSource(val)
				if err != nil {
					return err
				}
				sources = append(sources, source)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(source); err != nil {
			return err
		}
	}
	return nil
}

// SearchWords returns chunks containing every term.
func (r *SourceRepository) SearchWords(ctx context.Context, terms []string, limit int) ([]core.ChunkMatch, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	var matches []core.ChunkMatch
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var scores map[core.ID]int
		for _, term := range terms {
			postings, err := readPostings(tx, term)
			if err != nil {
				return err
			}
			scores = intersect(scores, postings)
			if len(scores) == 0 {
				return nil
			}
		}

		type hit struct {
			id    core.ID
			score int
		}
		hits := make([]hit, 0, len(scores))
		for id, score := range scores {
			hits = append(hits, hit{id, score})
		}
		slices.SortFunc(hits, func(a, b hit) int {
			if a.score != b.score {
				return cmp.Compare(b.score, a.score)
			}
			return cmp.Compare(a.id, b.id)
		})

		names := newSourceNames(tx)
		for _, h := range hits {
			if len(matches) == limit {
				break
			}
			chunk, name, ok, err := joinChunk(tx, names, h.id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			matches = append(matches, core.ChunkMatch{Chunk: chunk, SourceName: name, Score: float32(h.score)})
		}
		return nil
	})
	return matches, err
}

// readPostings returns the term frequency of term per chunk.
func readPostings(tx *badger.Txn, term string) (map[core.ID]int, error) {
	prefix := makeTermPrefix(term)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	postings := make(map[core.ID]int)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		id := lastID(item.Key())
		err := item.Value(func(val []byte) error {
			freq, err := storage.UnmarshalCount(val)
			if err != nil {
				return err
			}
			postings[id] = freq
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return postings, nil
}

// intersect keeps the ids present in both maps and sums their frequencies.
// A nil acc means no term has been seen yet.
func intersect(acc, postings map[core.ID]int) map[core.ID]int {
	if acc == nil {
		return postings
	}
	for id, score := range acc {
		freq, ok := postings[id]
		if !ok {
			delete(acc, id)
			continue
		}
		acc[id] = score + freq
	}
	return acc
}
