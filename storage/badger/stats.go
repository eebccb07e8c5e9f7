package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/storage"
)

// StatsRepository implements storage.StatsRepository for BadgerDB.
type StatsRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.StatsRepository = (*StatsRepository)(nil)

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(backend *Backend) (*StatsRepository, error) {
	idSeq, err := backend.GetSequence(statsIDSeq)
	if err != nil {
		return nil, err
	}
	return &StatsRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *StatsRepository) Close() error {
	return r.idSeq.Release()
}

// AddEmbeddingStats appends a record.
func (r *StatsRepository) AddEmbeddingStats(ctx context.Context, stats *core.EmbeddingStats) (*core.EmbeddingStats, error) {
	id, err := nextID(r.idSeq)
	if err != nil {
		return nil, err
	}
	stats.Id = id
	if stats.CreatedAt.IsZero() {
		stats.CreatedAt = time.Now().UTC()
	}

	err = r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeStatsKey(id), storage.MarshalEmbeddingStats(stats))
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ListEmbeddingStats returns records newest first.
func (r *StatsRepository) ListEmbeddingStats(ctx context.Context, cursor core.ID, limit int) ([]*core.EmbeddingStats, core.ID, error) {
	var (
		stats []*core.EmbeddingStats
		next  core.ID
	)
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		stats, next, err = page(tx, []byte(statsPrefix), cursor, limit, true, storage.UnmarshalEmbeddingStats)
		return err
	})
	return stats, next, err
}
