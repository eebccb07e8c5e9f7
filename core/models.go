package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using database sequences or content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// LineRange is an inclusive, 1-based span of lines in a source document.
type LineRange struct {
	From int
	To   int
}

// Chunk is a bounded-size span of a source document and the unit that gets embedded.
type Chunk struct {
	Id         ID
	SourceId   ID
	Text       string
	ChunkIndex int       // Position within the owning source
	Lines      LineRange // Lines of the source document covered by this chunk
	Tokens     int       // Estimated token count, backfilled when the source is saved
}

// Source is a named document composed of an ordered sequence of chunks.
type Source struct {
	Id          ID
	Name        string
	ChunkIds    []ID
	Saved       bool  // True once every chunk embedding has been persisted
	TotalTokens int   // Tokens reported by the embedding API for this source
	EmbeddingMs int64 // Embedding latency attributed to this source
	InsertedAt  time.Time
	UpdatedAt   time.Time
}

// RelatedChunk is a ranked reference to a chunk.
type RelatedChunk struct {
	ChunkId ID
	Score   float32
}

// QueryStats records timing and usage for a completed search or comparison.
type QueryStats struct {
	EmbeddingMs int64
	QueryMs     int64
	InputTokens int
}

// QueryStatus is the cache state of a search or comparison record.
type QueryStatus int

const (
	// QueryPending means the record exists but results are not computed yet.
	QueryPending QueryStatus = iota
	// QueryReady means the record holds its ranked results.
	QueryReady
	// QueryFailed means computing the results failed; Error holds the reason.
	QueryFailed
)

// String returns the status name.
func (s QueryStatus) String() string {
	switch s {
	case QueryPending:
		return "pending"
	case QueryReady:
		return "ready"
	case QueryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Search is a cached semantic search keyed by its input text.
type Search struct {
	Id            ID
	Input         string
	Count         int // Number of results requested when the record was created
	RelatedChunks []RelatedChunk
	Stats         QueryStats
	Error         string
	Completed     bool
	InsertedAt    time.Time
	UpdatedAt     time.Time
}

// Status reports the cache state of the search.
func (s *Search) Status() QueryStatus {
	return statusOf(s.Completed, s.Error)
}

// Comparison is a cached similarity query keyed by an existing chunk.
type Comparison struct {
	Id            ID
	Target        ID
	Count         int
	RelatedChunks []RelatedChunk
	Stats         QueryStats
	Error         string
	Completed     bool
	InsertedAt    time.Time
	UpdatedAt     time.Time
}

// Status reports the cache state of the comparison.
func (c *Comparison) Status() QueryStatus {
	return statusOf(c.Completed, c.Error)
}

func statusOf(completed bool, errMsg string) QueryStatus {
	switch {
	case !completed:
		return QueryPending
	case errMsg != "":
		return QueryFailed
	default:
		return QueryReady
	}
}

// EmbeddingStats records one call to the embedding API.
type EmbeddingStats struct {
	Id          ID
	NumTexts    int
	TotalTokens int
	TotalLength int
	ElapsedMs   int64
	CreatedAt   time.Time
}

// ChunkMatch is a chunk joined with its source name and, for ranked results, a score.
type ChunkMatch struct {
	Chunk      *Chunk
	SourceName string
	Score      float32
}

// SourceSummary is a source joined with the text of its first chunk.
type SourceSummary struct {
	Source         *Source
	FirstChunkText string
}

// ComparisonView is a completed comparison joined with current chunk data.
type ComparisonView struct {
	Comparison *Comparison
	Target     *ChunkMatch // nil if the target chunk has been deleted
	Related    []ChunkMatch
}
