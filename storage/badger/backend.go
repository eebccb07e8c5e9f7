package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/storage"
)

const (
	defaultSequenceBandwidth = 100
	maxConflictRetries       = 10

	// maxTxnItems bounds the records one UpdateEach transaction touches.
	maxTxnItems = 256
)

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool) (*Backend, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Ensure directory exists
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filePath, 0755); err != nil {
					return nil, err
				}
				info, err = os.Stat(filePath)
				if err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		opts = badger.DefaultOptions(filePath)
	}

	logger := slog.Default().With("component", "badger")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction and fn is responsible
// for committing it. The transaction is always discarded afterwards.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// Update runs fn in a read-write transaction and commits it.
// Commits that lose a write conflict are retried with a fresh transaction,
// so fn must be safe to run more than once.
func (b *Backend) Update(ctx context.Context, fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = b.WithTx(func(tx *badger.Txn) error {
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit()
		}, true)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		b.logger.Debug("retrying transaction after conflict", "attempt", attempt+1)
	}
	return err
}

// UpdateEach runs fn for every index below n, committing a fresh transaction
// every maxTxnItems items so the work never outgrows a single transaction.
// Each transaction is retried on conflict like Update.
func (b *Backend) UpdateEach(ctx context.Context, n int, fn func(tx *badger.Txn, i int) error) error {
	for start := 0; start < n; start += maxTxnItems {
		end := min(start+maxTxnItems, n)
		err := b.Update(ctx, func(tx *badger.Txn) error {
			for i := start; i < end; i++ {
				if err := fn(tx, i); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch applies blind writes through a badger write batch, which commits
// in as many transactions as its size requires. The writes are not atomic as
// a whole.
func (b *Backend) WriteBatch(ctx context.Context, fn func(wb *badger.WriteBatch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	if err := fn(wb); err != nil {
		return err
	}
	return wb.Flush()
}

// View runs fn in a read-only transaction.
func (b *Backend) View(ctx context.Context, fn func(tx *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.WithTx(fn, false)
}

// GetSequence returns a BadgerDB sequence for generating sequential IDs.
func (b *Backend) GetSequence(name string) (*badger.Sequence, error) {
	return b.db.GetSequence([]byte(name), defaultSequenceBandwidth)
}

// nextID draws the next non-zero ID from seq.
func nextID(seq *badger.Sequence) (core.ID, error) {
	id, err := seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if id == 0 {
		id, err = seq.Next()
		if err != nil {
			return 0, err
		}
	}
	return core.ID(id), nil
}

// readValue reads the value at key and decodes it with unmarshal.
// Returns nil, nil if the key doesn't exist.
func readValue[T any](tx *badger.Txn, key []byte, unmarshal func([]byte) (*T, error)) (*T, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var result *T
	err = item.Value(func(val []byte) error {
		var err error
		result, err = unmarshal(val)
		return err
	})
	return result, err
}

// page iterates the keys under prefix starting after cursor and decodes up to
// limit values. Newest-first pages iterate in reverse id order. The returned
// cursor is the id of the last item when more items follow, otherwise 0.
func page[T any](tx *badger.Txn, prefix []byte, cursor core.ID, limit int, newestFirst bool, unmarshal func([]byte) (*T, error)) ([]*T, core.ID, error) {
	if limit < 1 {
		return nil, 0, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = newestFirst
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var seek []byte
	switch {
	case cursor != 0:
		seek = idKey(prefix, cursor)
	case newestFirst:
		seek = idKey(prefix, core.ID(^uint64(0)))
	default:
		seek = prefix
	}

	var (
		results []*T
		lastID  core.ID
		more    bool
	)
	for iter.Seek(seek); iter.Valid(); iter.Next() {
		id := idFromKey(iter.Item().Key(), prefix)
		if cursor != 0 && id == cursor {
			continue
		}
		if len(results) == limit {
			more = true
			break
		}
		err := iter.Item().Value(func(val []byte) error {
			v, err := unmarshal(val)
			if err != nil {
				return err
			}
			results = append(results, v)
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
		lastID = id
	}

	if !more {
		lastID = 0
	}
	return results, lastID, nil
}
