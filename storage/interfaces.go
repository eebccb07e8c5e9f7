package storage

import (
	"context"

	"github.com/poiesic/docsim/core"
)

// Vector index namespaces.
const (
	// NamespaceChunks holds one vector per chunk, keyed by chunk id.
	NamespaceChunks = "chunks"
	// NamespaceSearches holds the query vector of each search, keyed by search id.
	NamespaceSearches = "searches"
)

// Chunk vector metadata keys.
const (
	MetaSource     = "source"
	MetaName       = "name"
	MetaChunkIndex = "chunkIndex"
)

// VectorRecord is a vector keyed by the id of the entity that owns it.
type VectorRecord struct {
	Id       core.ID
	Vector   []float32
	Metadata map[string]string
}

// VectorMatch is a ranked query result from a VectorIndex.
type VectorMatch struct {
	Id       core.ID
	Score    float32
	Metadata map[string]string
}

// VectorIndex stores fixed-dimension vectors in named namespaces.
// Implementations must be thread-safe and support concurrent access.
type VectorIndex interface {
	// Upsert writes records, replacing any existing vector with the same id.
	// The first write to a namespace fixes its dimension; later writes of a
	// different length fail with core.ErrDimensionMismatch and write nothing.
	Upsert(ctx context.Context, namespace string, records ...VectorRecord) error

	// Query ranks every vector in the namespace against vector by dot product.
	// Results are ordered by score descending, then id ascending. excludeId is
	// never returned; 0 excludes nothing. topK <= 0 returns every match.
	Query(ctx context.Context, namespace string, vector []float32, topK int, excludeId core.ID) ([]VectorMatch, error)

	// Fetch returns the records that exist among ids, in the order given.
	Fetch(ctx context.Context, namespace string, ids ...core.ID) ([]VectorRecord, error)

	// Delete removes vectors by id. Missing ids are ignored.
	Delete(ctx context.Context, namespace string, ids ...core.ID) error

	// Scan returns records in ascending id order. limit <= 0 returns all.
	Scan(ctx context.Context, namespace string, limit int) ([]VectorRecord, error)

	// Dimension returns the dimension fixed for the namespace, or 0 if nothing
	// has been written to it yet.
	Dimension(ctx context.Context, namespace string) (int, error)
}

// SourceRepository provides operations for managing sources and their chunks.
type SourceRepository interface {
	// AddSource stores a source and its chunks in one transaction.
	// Generates ids for the source and each chunk, sets SourceId, ChunkIds and
	// timestamps, and indexes chunk text for word search.
	// Returns the source with generated fields populated.
	AddSource(ctx context.Context, source *core.Source, chunks []*core.Chunk) (*core.Source, error)

	// GetSource retrieves a single source by ID.
	// Returns ErrNotFound if the source doesn't exist.
	GetSource(ctx context.Context, id core.ID) (*core.Source, error)

	// GetChunk retrieves a single chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error)

	// GetChunks retrieves multiple chunks by their IDs.
	// Returns only the chunks that exist (no error for missing chunks),
	// in the order requested.
	GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error)

	// GetSourceChunks returns the chunks of a source in chunk order.
	// Returns ErrNotFound if the source doesn't exist.
	GetSourceChunks(ctx context.Context, sourceId core.ID) ([]*core.Chunk, error)

	// JoinChunks resolves related chunks into matches carrying the current
	// chunk and its source name. Chunks or sources that no longer exist are
	// skipped. Order is preserved.
	JoinChunks(ctx context.Context, related []core.RelatedChunk) ([]core.ChunkMatch, error)

	// MarkSourceSaved applies update to the source and backfills chunk token
	// estimates. Returns ErrNotFound if the source has been deleted.
	MarkSourceSaved(ctx context.Context, id core.ID, update core.SourceSavedUpdate) (*core.Source, error)

	// DeleteSource removes a source, its chunks and their text index entries.
	// Returns the deleted source, or ErrNotFound if it doesn't exist.
	DeleteSource(ctx context.Context, id core.ID) (*core.Source, error)

	// ListSources returns sources newest first, each with the text of its first chunk.
	// cursor is the last id of the previous page, or 0 for the first page.
	// The returned cursor is 0 when no further page exists.
	ListSources(ctx context.Context, cursor core.ID, limit int) ([]core.SourceSummary, core.ID, error)

	// ListChunks returns chunks in ascending id order, each with its source name.
	// Cursor semantics match ListSources.
	ListChunks(ctx context.Context, cursor core.ID, limit int) ([]core.ChunkMatch, core.ID, error)

	// ForEachSource visits every source in ascending id order.
	// Iteration stops at the first error returned by fn.
	ForEachSource(ctx context.Context, fn func(*core.Source) error) error

	// SearchWords returns chunks containing every term, ranked by total term
	// frequency descending then id ascending, joined with their source name.
	SearchWords(ctx context.Context, terms []string, limit int) ([]core.ChunkMatch, error)

	// Close releases id sequences.
	Close() error
}

// QueryRepository persists cached searches and comparisons.
type QueryRepository interface {
	// UpsertSearch returns the qualifying search for input, or creates a
	// pending one. A qualifying record is not failed and has Count >= count;
	// among several the largest Count wins, ties going to the lowest id.
	// created reports whether a new record was written.
	UpsertSearch(ctx context.Context, input string, count int) (search *core.Search, created bool, err error)

	// GetSearch retrieves a search by ID.
	// Returns ErrNotFound if the search doesn't exist.
	GetSearch(ctx context.Context, id core.ID) (*core.Search, error)

	// CompleteSearch replaces the results of a search.
	CompleteSearch(ctx context.Context, id core.ID, update core.SearchResultsUpdate) error

	// FailSearch completes a search with an error.
	FailSearch(ctx context.Context, id core.ID, update core.QueryFailedUpdate) error

	// ListSearches returns searches newest first. Cursor semantics match
	// SourceRepository.ListSources.
	ListSearches(ctx context.Context, cursor core.ID, limit int) ([]*core.Search, core.ID, error)

	// UpsertComparison is UpsertSearch keyed by target chunk.
	UpsertComparison(ctx context.Context, target core.ID, count int) (comparison *core.Comparison, created bool, err error)

	// GetComparison retrieves a comparison by ID.
	// Returns ErrNotFound if the comparison doesn't exist.
	GetComparison(ctx context.Context, id core.ID) (*core.Comparison, error)

	// CompleteComparison replaces the results of a comparison.
	CompleteComparison(ctx context.Context, id core.ID, update core.ComparisonResultsUpdate) error

	// FailComparison completes a comparison with an error.
	FailComparison(ctx context.Context, id core.ID, update core.QueryFailedUpdate) error

	// Close releases id sequences.
	Close() error
}

// StatsRepository records embedding API usage.
type StatsRepository interface {
	// AddEmbeddingStats appends a record, generating its id and timestamp.
	AddEmbeddingStats(ctx context.Context, stats *core.EmbeddingStats) (*core.EmbeddingStats, error)

	// ListEmbeddingStats returns records newest first. Cursor semantics match
	// SourceRepository.ListSources.
	ListEmbeddingStats(ctx context.Context, cursor core.ID, limit int) ([]*core.EmbeddingStats, core.ID, error)

	// Close releases id sequences.
	Close() error
}
