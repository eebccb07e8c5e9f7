package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepositories(t *testing.T) *Repositories {
	t.Helper()
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0644))

	backend, err := OpenBackend(tmpFile, false)
	require.Error(t, err)
	assert.Nil(t, backend)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.View(context.Background(), func(tx *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestUpdate_CommitsAndReads(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	err = backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set([]byte("k"), []byte("v"))
	})
	require.NoError(t, err)

	err = backend.View(ctx, func(tx *badger.Txn) error {
		item, err := tx.Get([]byte("k"))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		assert.Equal(t, []byte("v"), val)
		return err
	})
	require.NoError(t, err)
}

func TestUpdate_PropagatesError(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	boom := errors.New("boom")
	calls := 0
	err = backend.Update(context.Background(), func(tx *badger.Txn) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestUpdate_RetriesConflicts(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	key := []byte("counter")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := backend.Update(ctx, func(tx *badger.Txn) error {
				n := 0
				item, err := tx.Get(key)
				switch {
				case err == nil:
					val, err := item.ValueCopy(nil)
					if err != nil {
						return err
					}
					n, err = storage.UnmarshalCount(val)
					if err != nil {
						return err
					}
				case !errors.Is(err, badger.ErrKeyNotFound):
					return err
				}
				return tx.Set(key, storage.MarshalCount(n+1))
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	err = backend.View(ctx, func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		n, err := storage.UnmarshalCount(val)
		assert.Equal(t, 8, n)
		return err
	})
	require.NoError(t, err)
}

func TestUpdate_CanceledContext(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = backend.Update(ctx, func(tx *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextID_SkipsZero(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	seq, err := backend.GetSequence("testseq")
	require.NoError(t, err)
	defer seq.Release()

	first, err := nextID(seq)
	require.NoError(t, err)
	second, err := nextID(seq)
	require.NoError(t, err)

	assert.NotEqual(t, core.ID(0), first)
	assert.Greater(t, second, first)
}

func TestKeys_OrderByID(t *testing.T) {
	assert.Less(t, string(makeSourceKey(1)), string(makeSourceKey(2)))
	assert.Less(t, string(makeSourceKey(255)), string(makeSourceKey(256)))
	assert.Equal(t, core.ID(300), idFromKey(makeChunkKey(300), []byte(chunkPrefix)))
	assert.Equal(t, core.ID(7), lastID(makeTermKey("vector", 7)))
	assert.NotEqual(t, makeTermPrefix("foo"), makeTermPrefix("foobar")[:len(makeTermPrefix("foo"))])
}

func TestUpdateEach_CommitsInSlices(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	n := maxTxnItems*2 + 1
	txns := make(map[*badger.Txn]int)
	err = backend.UpdateEach(ctx, n, func(tx *badger.Txn, i int) error {
		txns[tx]++
		return tx.Set([]byte(fmt.Sprintf("k%04d", i)), []byte("v"))
	})
	require.NoError(t, err)
	assert.Len(t, txns, 3)

	err = backend.View(ctx, func(tx *badger.Txn) error {
		_, err := tx.Get([]byte(fmt.Sprintf("k%04d", n-1)))
		return err
	})
	assert.NoError(t, err)
}

func TestUpdateEach_StopsOnError(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	boom := errors.New("boom")
	calls := 0
	err = backend.UpdateEach(context.Background(), maxTxnItems*3, func(tx *badger.Txn, i int) error {
		calls++
		if i == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
}

func TestWriteBatch(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	ctx := context.Background()
	err = backend.WriteBatch(ctx, func(wb *badger.WriteBatch) error {
		return wb.Set([]byte("k"), []byte("v"))
	})
	require.NoError(t, err)

	err = backend.View(ctx, func(tx *badger.Txn) error {
		_, err := tx.Get([]byte("k"))
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = backend.WriteBatch(ctx, func(wb *badger.WriteBatch) error {
		if err := wb.Set([]byte("discarded"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, backend.Close())
	err = backend.WriteBatch(ctx, func(wb *badger.WriteBatch) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
