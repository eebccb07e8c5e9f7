package vectors

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/storage"
)

var (
	// ErrIndexRequired is returned when no vector index is supplied.
	ErrIndexRequired = errors.New("vector index is required")
)

// Record pairs an owner id with its vector.
type Record = storage.VectorRecord

// Neighbor is a ranked nearest-neighbor result.
type Neighbor = storage.VectorMatch

// Store is a fixed-dimension view over one vector index namespace.
// It is safe for concurrent use.
type Store struct {
	index     storage.VectorIndex
	namespace string
	dimension int
}

// NewStore creates a store over namespace of index. The dimension must be positive.
func NewStore(index storage.VectorIndex, namespace string, dimension int) (*Store, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if namespace == "" {
		return nil, fmt.Errorf("%w: namespace is required", core.ErrConfiguration)
	}
	if dimension < 1 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", core.ErrConfiguration, dimension)
	}
	return &Store{index: index, namespace: namespace, dimension: dimension}, nil
}

// Namespace returns the index namespace backing the store.
func (s *Store) Namespace() string {
	return s.namespace
}

// Dimension returns the vector length accepted by the store.
func (s *Store) Dimension() int {
	return s.dimension
}

// Put stores vector for ownerId, replacing any previous vector.
func (s *Store) Put(ctx context.Context, ownerId core.ID, vector []float32) error {
	return s.PutMany(ctx, Record{Id: ownerId, Vector: vector})
}

// PutMany stores several records in one write. Nothing is written if any
// record has the wrong dimension.
func (s *Store) PutMany(ctx context.Context, records ...Record) error {
	for _, record := range records {
		if err := core.ValidateVector(record.Vector, s.dimension); err != nil {
			return fmt.Errorf("vector %d: %w", record.Id, err)
		}
	}
	return s.index.Upsert(ctx, s.namespace, records...)
}

// Get returns the vector stored for ownerId, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, ownerId core.ID) ([]float32, error) {
	records, err := s.index.Fetch(ctx, s.namespace, ownerId)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("vector %d: %w", ownerId, storage.ErrNotFound)
	}
	return records[0].Vector, nil
}

// ScanAll returns stored records in ascending id order. limit <= 0 returns all.
func (s *Store) ScanAll(ctx context.Context, limit int) ([]Record, error) {
	return s.index.Scan(ctx, s.namespace, limit)
}

// NearestNeighbors returns the k vectors closest to vector by dot product,
// excluding excludeId. k <= 0 returns every vector.
func (s *Store) NearestNeighbors(ctx context.Context, vector []float32, k int, excludeId core.ID) ([]Neighbor, error) {
	if err := core.ValidateVector(vector, s.dimension); err != nil {
		return nil, err
	}
	return s.index.Query(ctx, s.namespace, vector, k, excludeId)
}

// Delete removes the vectors of ownerIds. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, ownerIds ...core.ID) error {
	return s.index.Delete(ctx, s.namespace, ownerIds...)
}
