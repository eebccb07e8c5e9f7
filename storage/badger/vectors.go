package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/similarity"
	"github.com/poiesic/docsim/storage"
)

// VectorIndex implements storage.VectorIndex for BadgerDB.
// Queries are exact brute-force scans of the namespace.
type VectorIndex struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates a new VectorIndex.
func NewVectorIndex(backend *Backend) *VectorIndex {
	return &VectorIndex{
		backend: backend,
		logger:  slog.Default().With("component", "vector-index"),
	}
}

func validateNamespace(namespace string) error {
	if namespace == "" || strings.IndexByte(namespace, keySeparator) >= 0 {
		return fmt.Errorf("%w: %q", storage.ErrInvalidNamespace, namespace)
	}
	return nil
}

// readDimension returns the dimension recorded for namespace, or 0.
func readDimension(tx *badger.Txn, namespace string) (int, error) {
	item, err := tx.Get(makeVectorDimKey(namespace))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var dim int
	err = item.Value(func(val []byte) error {
		var err error
		dim, err = storage.UnmarshalCount(val)
		return err
	})
	return dim, err
}

// Upsert writes records, fixing the namespace dimension on first write.
// Records are checked before anything is written; the writes themselves are
// spread over as many transactions as their size requires.
func (v *VectorIndex) Upsert(ctx context.Context, namespace string, records ...storage.VectorRecord) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	dim := len(records[0].Vector)
	for _, record := range records {
		if err := core.ValidateVector(record.Vector, dim); err != nil {
			return fmt.Errorf("vector %d: %w", record.Id, err)
		}
	}

	err := v.backend.Update(ctx, func(tx *badger.Txn) error {
		stored, err := readDimension(tx, namespace)
		if err != nil {
			return err
		}
		switch {
		case stored == 0:
			return tx.Set(makeVectorDimKey(namespace), storage.MarshalCount(dim))
		case stored != dim:
			return fmt.Errorf("%w: namespace %s has dimension %d, got %d", core.ErrDimensionMismatch, namespace, stored, dim)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return v.backend.WriteBatch(ctx, func(wb *badger.WriteBatch) error {
		for i := range records {
			if err := wb.Set(makeVectorKey(namespace, records[i].Id), storage.MarshalVectorRecord(&records[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query ranks every vector in the namespace against vector.
func (v *VectorIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, excludeId core.ID) ([]storage.VectorMatch, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	var matches []storage.VectorMatch
	err := v.backend.View(ctx, func(tx *badger.Txn) error {
		dim, err := readDimension(tx, namespace)
		if err != nil {
			return err
		}
		if err := core.ValidateVector(vector, dim); err != nil {
			return err
		}

		metadata := make(map[core.ID]map[string]string)
		var candidates []similarity.Candidate
		err = scanNamespace(tx, namespace, 0, func(record *storage.VectorRecord) error {
			candidates = append(candidates, similarity.Candidate{Id: record.Id, Vector: record.Vector})
			if record.Metadata != nil {
				metadata[record.Id] = record.Metadata
			}
			return nil
		})
		if err != nil {
			return err
		}

		ranked := similarity.Rank(vector, candidates, topK, excludeId)
		matches = make([]storage.VectorMatch, len(ranked))
		for i, rc := range ranked {
			matches[i] = storage.VectorMatch{Id: rc.ChunkId, Score: rc.Score, Metadata: metadata[rc.ChunkId]}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.logger.Debug("vector query", "namespace", namespace, "matches", len(matches))
	return matches, nil
}

// Fetch returns the records that exist among ids.
func (v *VectorIndex) Fetch(ctx context.Context, namespace string, ids ...core.ID) ([]storage.VectorRecord, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	var records []storage.VectorRecord
	err := v.backend.View(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			record, err := readValue(tx, makeVectorKey(namespace, id), storage.UnmarshalVectorRecord)
			if err != nil {
				return err
			}
			if record != nil {
				records = append(records, *record)
			}
		}
		return nil
	})
	return records, err
}

// Delete removes vectors by id. Missing ids are ignored.
func (v *VectorIndex) Delete(ctx context.Context, namespace string, ids ...core.ID) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return v.backend.WriteBatch(ctx, func(wb *badger.WriteBatch) error {
		for _, id := range ids {
			if err := wb.Delete(makeVectorKey(namespace, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan returns records in ascending id order.
func (v *VectorIndex) Scan(ctx context.Context, namespace string, limit int) ([]storage.VectorRecord, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	var records []storage.VectorRecord
	err := v.backend.View(ctx, func(tx *badger.Txn) error {
		return scanNamespace(tx, namespace, limit, func(record *storage.VectorRecord) error {
			records = append(records, *record)
			return nil
		})
	})
	return records, err
}

// Dimension returns the dimension fixed for the namespace, or 0.
func (v *VectorIndex) Dimension(ctx context.Context, namespace string) (int, error) {
	if err := validateNamespace(namespace); err != nil {
		return 0, err
	}
	var dim int
	err := v.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		dim, err = readDimension(tx, namespace)
		return err
	})
	return dim, err
}

// scanNamespace visits up to limit records of namespace in id order; limit <= 0 visits all.
func scanNamespace(tx *badger.Txn, namespace string, limit int, fn func(*storage.VectorRecord) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeVectorPrefix(namespace)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	count := 0
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if limit > 0 && count == limit {
			break
		}
		err := iter.Item().Value(func(val []byte) error {
			record, err := storage.UnmarshalVectorRecord(val)
			if err != nil {
				return err
			}
			return fn(record)
		})
		if err != nil {
			return err
		}
		count++
	}
	return nil
}
