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

package docsim

import (
	"errors"
	"io"
	"log/slog"

	"github.com/poiesic/docsim/ai"
	"github.com/poiesic/docsim/ai/openai"
	"github.com/poiesic/docsim/chunker"
	"github.com/poiesic/docsim/ingestion"
	"github.com/poiesic/docsim/jobs"
	"github.com/poiesic/docsim/reembed"
	"github.com/poiesic/docsim/search"
	"github.com/poiesic/docsim/storage"
	"github.com/poiesic/docsim/storage/badger"
	"github.com/poiesic/docsim/vectors"
)

// Database wires storage, the embedding provider, the job queue, the
// ingestion pipeline and the searcher together.
type Database struct {
	repos       *badger.Repositories
	provider    ai.AIProvider
	queue       *jobs.Queue
	chunker     *chunker.Chunker
	chunkStore  *vectors.Store
	searchStore *vectors.Store
	pipeline    *ingestion.Pipeline
	searcher    *search.Searcher
	logger      *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig  *ai.Config
	provider  ai.AIProvider
	poolSize  int
	fanOut    int
	chunkSize int
	inMemory  bool
	logger    *slog.Logger
}

// WithAIConfig sets the embedding service configuration.
// Default is ai.DefaultConfig(), which has no API key.
func WithAIConfig(config *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = config
	}
}

// WithProvider replaces the OpenAI-compatible provider, typically with a mock.
// The database takes ownership and closes it.
func WithProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithPoolSize sets the number of background job workers.
func WithPoolSize(size int) DatabaseOption {
	return func(o *databaseOptions) {
		o.poolSize = size
	}
}

// WithFanOut bounds concurrent source writes during batch ingestion.
func WithFanOut(n int) DatabaseOption {
	return func(o *databaseOptions) {
		o.fanOut = n
	}
}

// WithChunkSize sets the maximum chunk size in characters.
func WithChunkSize(size int) DatabaseOption {
	return func(o *databaseOptions) {
		o.chunkSize = size
	}
}

// WithInMemory keeps all data in memory; the path is ignored.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// NewDatabase opens or creates the database at filePath.
func NewDatabase(filePath string, opts ...DatabaseOption) (_ *Database, err error) {
	// Apply options
	options := &databaseOptions{
		aiConfig:  ai.DefaultConfig(),
		fanOut:    ingestion.DefaultFanOut,
		chunkSize: chunker.DefaultMaxChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	// Resolve the provider first so a missing credential fails before any file is touched
	provider := options.provider
	if provider == nil {
		if provider, err = openai.NewProvider(options.aiConfig); err != nil {
			return nil, err
		}
	}
	db := &Database{provider: provider, logger: options.logger}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	if db.chunker, err = chunker.New(chunker.WithMaxChunkSize(options.chunkSize)); err != nil {
		return nil, err
	}
	if db.repos, err = badger.Open(filePath, options.inMemory); err != nil {
		return nil, err
	}

	queueOpts := []jobs.Option{jobs.WithLogger(options.logger)}
	if options.poolSize > 0 {
		queueOpts = append(queueOpts, jobs.WithPoolSize(options.poolSize))
	}
	if db.queue, err = jobs.NewQueue(queueOpts...); err != nil {
		return nil, err
	}

	dim := provider.Dimension()
	if db.chunkStore, err = vectors.NewStore(db.repos.Vectors, storage.NamespaceChunks, dim); err != nil {
		return nil, err
	}
	if db.searchStore, err = vectors.NewStore(db.repos.Vectors, storage.NamespaceSearches, dim); err != nil {
		return nil, err
	}

	db.pipeline, err = ingestion.NewPipeline(db.repos.Sources, db.repos.Stats, db.chunkStore,
		provider.Embedder(), db.queue,
		ingestion.WithFanOut(options.fanOut),
		ingestion.WithChunker(db.chunker),
		ingestion.WithLogger(options.logger))
	if err != nil {
		return nil, err
	}

	db.searcher, err = search.NewSearcher(db.repos.Sources, db.repos.Queries, db.chunkStore, db.searchStore,
		provider.Embedder(), db.queue, search.WithLogger(options.logger))
	if err != nil {
		return nil, err
	}

	return db, nil
}

// Wait blocks until every scheduled background job has finished.
func (db *Database) Wait() {
	if db.queue != nil {
		db.queue.Wait()
	}
}

// Close waits for background jobs, then releases the queue, the provider
// and storage.
func (db *Database) Close() error {
	var errs []error
	if db.queue != nil {
		db.queue.Wait()
		db.queue.Release()
	}

	// Close AI provider first
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}

	if db.repos != nil {
		if err := db.repos.Close(); err != nil {
			db.logger.Error("error closing storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pipeline returns the ingestion pipeline.
func (db *Database) Pipeline() *ingestion.Pipeline {
	return db.pipeline
}

// Searcher returns the searcher.
func (db *Database) Searcher() *search.Searcher {
	return db.searcher
}

// Chunker returns the chunker configured for the database.
func (db *Database) Chunker() *chunker.Chunker {
	return db.chunker
}

func (db *Database) SourceRepository() storage.SourceRepository {
	return db.repos.Sources
}

func (db *Database) QueryRepository() storage.QueryRepository {
	return db.repos.Queries
}

func (db *Database) StatsRepository() storage.StatsRepository {
	return db.repos.Stats
}

// ChunkVectors returns the store holding one vector per chunk.
func (db *Database) ChunkVectors() *vectors.Store {
	return db.chunkStore
}

// NewReembedder creates a reembedder repairing sources through the pipeline.
func (db *Database) NewReembedder(config *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(db.repos.Sources, db.pipeline, config, progress)
}
