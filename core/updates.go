package core

// SourceSavedUpdate marks a source as saved once all of its chunk vectors are stored.
type SourceSavedUpdate struct {
	TotalTokens int
	EmbeddingMs int64
	// ChunkTokens holds the estimated token count for each chunk, in chunk order.
	// A nil slice leaves chunk estimates untouched.
	ChunkTokens []int
}

// SearchResultsUpdate completes a search with its ranked results.
type SearchResultsUpdate struct {
	RelatedChunks []RelatedChunk
	Stats         QueryStats
}

// ComparisonResultsUpdate completes a comparison with its ranked results.
type ComparisonResultsUpdate struct {
	RelatedChunks []RelatedChunk
	Stats         QueryStats
}

// QueryFailedUpdate completes a search or comparison with an error.
type QueryFailedUpdate struct {
	Err string
}

// Apply replaces the search results. Completion is a full replacement, never a merge.
func (u SearchResultsUpdate) Apply(s *Search) {
	s.RelatedChunks = u.RelatedChunks
	s.Stats = u.Stats
	s.Error = ""
	s.Completed = true
}

// Apply replaces the comparison results.
func (u ComparisonResultsUpdate) Apply(c *Comparison) {
	c.RelatedChunks = u.RelatedChunks
	c.Stats = u.Stats
	c.Error = ""
	c.Completed = true
}

// ApplySearch marks a search as failed.
func (u QueryFailedUpdate) ApplySearch(s *Search) {
	s.RelatedChunks = nil
	s.Error = u.Err
	s.Completed = true
}

// ApplyComparison marks a comparison as failed.
func (u QueryFailedUpdate) ApplyComparison(c *Comparison) {
	c.RelatedChunks = nil
	c.Error = u.Err
	c.Completed = true
}

// Apply flips the source to saved and records its embedding statistics.
// Chunk token backfill is applied separately by the repository.
func (u SourceSavedUpdate) Apply(s *Source) {
	s.Saved = true
	s.TotalTokens = u.TotalTokens
	s.EmbeddingMs = u.EmbeddingMs
}
