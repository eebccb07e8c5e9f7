package badger

import (
	"errors"
)

// Repositories bundles every BadgerDB repository sharing one backend.
type Repositories struct {
	Backend *Backend
	Sources *SourceRepository
	Vectors *VectorIndex
	Queries *QueryRepository
	Stats   *StatsRepository
}

// Open opens the database at path and creates all repositories on it.
// An empty path with inMemory set opens a throwaway in-memory store.
func Open(path string, inMemory bool) (*Repositories, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}

	sources, err := NewSourceRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	queries, err := NewQueryRepository(backend)
	if err != nil {
		sources.Close()
		backend.Close()
		return nil, err
	}

	stats, err := NewStatsRepository(backend)
	if err != nil {
		queries.Close()
		sources.Close()
		backend.Close()
		return nil, err
	}

	return &Repositories{
		Backend: backend,
		Sources: sources,
		Vectors: NewVectorIndex(backend),
		Queries: queries,
		Stats:   stats,
	}, nil
}

// Close releases every repository and then closes the backend.
func (r *Repositories) Close() error {
	return errors.Join(
		r.Stats.Close(),
		r.Queries.Close(),
		r.Sources.Close(),
		r.Backend.Close(),
	)
}
