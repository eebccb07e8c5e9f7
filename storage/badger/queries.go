package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/storage"
)

// QueryRepository implements storage.QueryRepository for BadgerDB.
type QueryRepository struct {
	backend       *Backend
	searchSeq     *badger.Sequence
	comparisonSeq *badger.Sequence
	logger        *slog.Logger
}

var _ storage.QueryRepository = (*QueryRepository)(nil)

// NewQueryRepository creates a new QueryRepository.
func NewQueryRepository(backend *Backend) (*QueryRepository, error) {
	searchSeq, err := backend.GetSequence(searchIDSeq)
	if err != nil {
		return nil, err
	}
	comparisonSeq, err := backend.GetSequence(comparisonIDSeq)
	if err != nil {
		searchSeq.Release()
		return nil, err
	}

	return &QueryRepository{
		backend:       backend,
		searchSeq:     searchSeq,
		comparisonSeq: comparisonSeq,
		logger:        slog.Default().With("component", "query-repository"),
	}, nil
}

// Close releases the ID sequences.
func (r *QueryRepository) Close() error {
	err := r.searchSeq.Release()
	if cmpErr := r.comparisonSeq.Release(); err == nil {
		err = cmpErr
	}
	return err
}

// qualifies reports whether a cached record can answer a request for count results.
func qualifies(status core.QueryStatus, recordCount, count int) bool {
	return status != core.QueryFailed && recordCount >= count
}

// better reports whether candidate should replace best: largest count wins,
// ties going to the lowest id.
func better(candidateCount int, candidateID core.ID, bestCount int, bestID core.ID) bool {
	if candidateCount != bestCount {
		return candidateCount > bestCount
	}
	return candidateID < bestID
}

// readGuard reads the index guard key so that two transactions creating a
// record under the same index prefix conflict and one of them retries.
// The guard is the bare prefix and is rewritten on every create.
func readGuard(tx *badger.Txn, guard []byte) error {
	if _, err := tx.Get(guard); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return nil
}

// UpsertSearch returns the qualifying search for input or creates a pending one.
func (r *QueryRepository) UpsertSearch(ctx context.Context, input string, count int) (*core.Search, bool, error) {
	if input == "" {
		return nil, false, core.ErrEmptyInput
	}
	if err := core.ValidateCount(count); err != nil {
		return nil, false, err
	}

	var (
		result  *core.Search
		created bool
	)
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		result, created = nil, false

		prefix := makeSearchInputPrefix(input)
		if err := readGuard(tx, prefix); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			if len(key) == len(prefix) {
				continue
			}
			id := lastID(key)
			search, err := readValue(tx, makeSearchKey(id), storage.UnmarshalSearch)
			if err != nil {
				iter.Close()
				return err
			}
			// Fingerprints can collide; the stored input is authoritative
			if search == nil || search.Input != input {
				continue
			}
			if !qualifies(search.Status(), search.Count, count) {
				continue
			}
			if result == nil || better(search.Count, search.Id, result.Count, result.Id) {
				result = search
			}
		}
		iter.Close()

		if result != nil {
			return nil
		}

		id, err := nextID(r.searchSeq)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		result = &core.Search{
			Id:         id,
			Input:      input,
			Count:      count,
			InsertedAt: now,
			UpdatedAt:  now,
		}
		if err := tx.Set(makeSearchKey(id), storage.MarshalSearch(result)); err != nil {
			return err
		}
		created = true
		if err := tx.Set(prefix, storage.MarshalID(id)); err != nil {
			return err
		}
		return tx.Set(makeSearchInputKey(input, id), storage.MarshalID(id))
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// GetSearch retrieves a search by ID.
func (r *QueryRepository) GetSearch(ctx context.Context, id core.ID) (*core.Search, error) {
	var result *core.Search
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeSearchKey(id), storage.UnmarshalSearch)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("search %d: %w", id, storage.ErrNotFound)
		}
		return nil
	})
	return result, err
}

// updateSearch rewrites a search after apply mutates it.
func (r *QueryRepository) updateSearch(ctx context.Context, id core.ID, apply func(*core.Search)) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		search, err := readValue(tx, makeSearchKey(id), storage.UnmarshalSearch)
		if err != nil {
			return err
		}
		if search == nil {
			return fmt.Errorf("search %d: %w", id, storage.ErrNotFound)
		}
		apply(search)
		search.UpdatedAt = time.Now().UTC()
		return tx.Set(makeSearchKey(id), storage.MarshalSearch(search))
	})
}

// CompleteSearch replaces the results of a search.
func (r *QueryRepository) CompleteSearch(ctx context.Context, id core.ID, update core.SearchResultsUpdate) error {
	return r.updateSearch(ctx, id, update.Apply)
}

// FailSearch completes a search with an error.
func (r *QueryRepository) FailSearch(ctx context.Context, id core.ID, update core.QueryFailedUpdate) error {
	return r.updateSearch(ctx, id, update.ApplySearch)
}

// ListSearches returns searches newest first.
func (r *QueryRepository) ListSearches(ctx context.Context, cursor core.ID, limit int) ([]*core.Search, core.ID, error) {
	var (
		searches []*core.Search
		next     core.ID
	)
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		searches, next, err = page(tx, []byte(searchPrefix), cursor, limit, true, storage.UnmarshalSearch)
		return err
	})
	return searches, next, err
}

// UpsertComparison returns the qualifying comparison for target or creates a pending one.
func (r *QueryRepository) UpsertComparison(ctx context.Context, target core.ID, count int) (*core.Comparison, bool, error) {
	if err := core.ValidateCount(count); err != nil {
		return nil, false, err
	}

	var (
		result  *core.Comparison
		created bool
	)
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		result, created = nil, false

		prefix := makeComparisonTargetPrefix(target)
		if err := readGuard(tx, prefix); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			if len(key) == len(prefix) {
				continue
			}
			id := lastID(key)
			comparison, err := readValue(tx, makeComparisonKey(id), storage.UnmarshalComparison)
			if err != nil {
				iter.Close()
				return err
			}
			if comparison == nil || !qualifies(comparison.Status(), comparison.Count, count) {
				continue
			}
			if result == nil || better(comparison.Count, comparison.Id, result.Count, result.Id) {
				result = comparison
			}
		}
		iter.Close()

		if result != nil {
			return nil
		}

		id, err := nextID(r.comparisonSeq)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		result = &core.Comparison{
			Id:         id,
			Target:     target,
			Count:      count,
			InsertedAt: now,
			UpdatedAt:  now,
		}
		if err := tx.Set(makeComparisonKey(id), storage.MarshalComparison(result)); err != nil {
			return err
		}
		created = true
		if err := tx.Set(prefix, storage.MarshalID(id)); err != nil {
			return err
		}
		return tx.Set(makeComparisonTargetKey(target, id), storage.MarshalID(id))
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// GetComparison retrieves a comparison by ID.
func (r *QueryRepository) GetComparison(ctx context.Context, id core.ID) (*core.Comparison, error) {
	var result *core.Comparison
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeComparisonKey(id), storage.UnmarshalComparison)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("comparison %d: %w", id, storage.ErrNotFound)
		}
		return nil
	})
	return result, err
}

func (r *QueryRepository) updateComparison(ctx context.Context, id core.ID, apply func(*core.Comparison)) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		comparison, err := readValue(tx, makeComparisonKey(id), storage.UnmarshalComparison)
		if err != nil {
			return err
		}
		if comparison == nil {
			return fmt.Errorf("comparison %d: %w", id, storage.ErrNotFound)
		}
		apply(comparison)
		comparison.UpdatedAt = time.Now().UTC()
		return tx.Set(makeComparisonKey(id), storage.MarshalComparison(comparison))
	})
}

// CompleteComparison replaces the results of a comparison.
func (r *QueryRepository) CompleteComparison(ctx context.Context, id core.ID, update core.ComparisonResultsUpdate) error {
	return r.updateComparison(ctx, id, update.Apply)
}

// FailComparison completes a comparison with an error.
func (r *QueryRepository) FailComparison(ctx context.Context, id core.ID, update core.QueryFailedUpdate) error {
	return r.updateComparison(ctx, id, update.ApplyComparison)
}
