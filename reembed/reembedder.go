// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/docsim/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the maximum number of chunks embedded per call
	BatchSize int

	// ReportInterval is how often to report progress (number of sources)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per batch
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// All reembeds every source instead of only unsaved ones
	All bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 10,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Result summarizes a run.
type Result struct {
	Sources int
	Chunks  int
	Failed  int
	Elapsed time.Duration
}

// Reembedder re-runs embedding for stored sources.
type Reembedder struct {
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *SourceIterator
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(repo storage.SourceRepository, embedder SourceEmbedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if repo == nil {
		return nil, ErrSourceRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(embedder, config.MaxRetries, config.RetryDelay),
		iterator:  NewSourceIterator(repo, config.BatchSize, config.All),
		logger:    slog.Default().With("component", "reembed"),
	}, nil
}

// Run embeds every selected source. A batch that still fails after its
// retries is counted and skipped; if any batch failed the returned error
// wraps ErrIncomplete. Context cancellation stops the run.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	batches, err := r.iterator.Batches(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	result := &Result{}
	for _, batch := range batches {
		result.Sources += len(batch.SourceIds)
	}
	if result.Sources == 0 {
		fmt.Fprintf(r.progress, "No sources need reembedding\n")
		return result, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d sources in %d batches (batch size: %d chunks)\n",
		result.Sources, len(batches), r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, result.Sources, r.config.ReportInterval)
	tracker.Start()

	var failures []error
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := r.processor.Process(ctx, batch); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			r.logger.Error("batch failed", "sources", batch.SourceIds, "err", err)
			failures = append(failures, err)
			result.Failed += len(batch.SourceIds)
			tracker.Failed(len(batch.SourceIds))
			continue
		}
		result.Chunks += batch.Chunks
		tracker.Done(len(batch.SourceIds), batch.Chunks)
	}

	tracker.Finish()
	result.Elapsed = tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. %d sources, %d chunks, %d failed in %v\n",
		result.Sources, result.Chunks, result.Failed, result.Elapsed.Round(time.Millisecond))

	if len(failures) > 0 {
		return result, fmt.Errorf("%w: %d of %d sources failed: %w",
			ErrIncomplete, result.Failed, result.Sources, errors.Join(failures...))
	}
	return result, nil
}
