package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/docsim/core"
)

// SourceEmbedder embeds the chunks of stored sources with one call and marks
// them saved. ingestion.Pipeline implements it.
type SourceEmbedder interface {
	Embed(ctx context.Context, sourceIds ...core.ID) error
}

// BatchProcessor embeds batches of sources with retries.
type BatchProcessor struct {
	embedder       SourceEmbedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts per batch
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(embedder SourceEmbedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds every source of batch.
func (bp *BatchProcessor) Process(ctx context.Context, batch Batch) error {
	if len(batch.SourceIds) == 0 {
		return nil
	}

	err := RetryWithBackoff(ctx, func() error {
		return bp.embedder.Embed(ctx, batch.SourceIds...)
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("embed %d sources: %w", len(batch.SourceIds), err)
	}
	return nil
}
