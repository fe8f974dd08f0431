package pebble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/pkg/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store *Store)
	}{
		{
			name: "basic_put_get",
			fn:   testBasicPutGet,
		},
		{
			name: "delete_operations",
			fn:   testDelete,
		},
		{
			name: "range_order",
			fn:   testRangeOrder,
		},
		{
			name: "batch_atomicity",
			fn:   testBatch,
		},
		{
			name: "collections",
			fn:   testCollections,
		},
		{
			name: "clear",
			fn:   testClear,
		},
		{
			name: "store_closure",
			fn:   testStoreClosure,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newTestStore(t))
		})
	}
}

func testBasicPutGet(t *testing.T, store *Store) {
	value := []byte("test-value")

	err := store.Put(db.CollectionMain, 42, value, false)
	require.NoError(t, err)

	retrieved, err := store.Get(db.CollectionMain, 42)
	require.NoError(t, err)
	assert.Equal(t, value, retrieved)

	// Test non-existent key
	_, err = store.Get(db.CollectionMain, 43)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func testDelete(t *testing.T, store *Store) {
	err := store.Put(db.CollectionMain, 7, []byte("to-be-deleted"), false)
	require.NoError(t, err)

	err = store.Delete(db.CollectionMain, 7)
	require.NoError(t, err)

	_, err = store.Get(db.CollectionMain, 7)
	assert.ErrorIs(t, err, db.ErrNotFound)

	// Delete non-existent key should not error
	err = store.Delete(db.CollectionMain, 8)
	assert.NoError(t, err)
}

func testRangeOrder(t *testing.T, store *Store) {
	// Negative keys must sort before positive ones.
	for _, k := range []db.Key{5, -3, 9, 1, -8} {
		require.NoError(t, store.Put(db.CollectionMain, k, []byte{byte(k + 10)}, false))
	}

	iter, err := store.Range(db.CollectionMain, db.KeyFirst)
	require.NoError(t, err)
	defer iter.Close()

	var keys []db.Key
	for iter.Next() {
		keys = append(keys, iter.Key())
	}
	assert.Equal(t, []db.Key{-8, -3, 1, 5, 9}, keys)

	iter2, err := store.Range(db.CollectionMain, 0)
	require.NoError(t, err)
	defer iter2.Close()

	keys = keys[:0]
	for iter2.Next() {
		keys = append(keys, iter2.Key())
	}
	assert.Equal(t, []db.Key{1, 5, 9}, keys)
}

func testBatch(t *testing.T, store *Store) {
	require.NoError(t, store.Put(db.CollectionMain, 1, []byte("old"), false))

	batch := store.NewBatch()
	require.NoError(t, batch.Put(db.CollectionMain, 2, []byte("two")))
	require.NoError(t, batch.Delete(db.CollectionMain, 1))
	require.NoError(t, batch.Commit(false))

	_, err := store.Get(db.CollectionMain, 1)
	assert.ErrorIs(t, err, db.ErrNotFound)
	value, err := store.Get(db.CollectionMain, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), value)

	// Reuse after commit fails
	assert.ErrorIs(t, batch.Put(db.CollectionMain, 3, nil), ErrBatchDone)
}

func testCollections(t *testing.T, store *Store) {
	main, err := store.OpenCollection("")
	require.NoError(t, err)
	assert.Equal(t, db.CollectionMain, main)

	people, err := store.OpenCollection("people")
	require.NoError(t, err)
	assert.NotEqual(t, db.CollectionMain, people)

	again, err := store.OpenCollection("people")
	require.NoError(t, err)
	assert.Equal(t, people, again)

	// Namespaces are isolated
	require.NoError(t, store.Put(people, 1, []byte("alice"), false))
	_, err = store.Get(db.CollectionMain, 1)
	assert.ErrorIs(t, err, db.ErrNotFound)

	names, err := store.ListCollections()
	require.NoError(t, err)
	assert.Equal(t, []string{"people"}, names)

	require.NoError(t, store.RemoveCollection("people"))
	names, err = store.ListCollections()
	require.NoError(t, err)
	assert.Empty(t, names)
	_, err = store.Get(people, 1)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func testClear(t *testing.T, store *Store) {
	for k := db.Key(0); k < 10; k++ {
		require.NoError(t, store.Put(db.CollectionMain, k, []byte("v"), false))
	}
	require.NoError(t, store.Clear(db.CollectionMain))

	m, err := store.Measure(db.CollectionMain)
	require.NoError(t, err)
	assert.Zero(t, m.Keys)
}

func testStoreClosure(t *testing.T, store *Store) {
	err := store.Close()
	require.NoError(t, err)

	// Test operations after close
	_, err = store.Get(db.CollectionMain, 1)
	assert.ErrorIs(t, err, db.ErrClosed)

	err = store.Put(db.CollectionMain, 1, []byte("value"), false)
	assert.ErrorIs(t, err, db.ErrClosed)

	// Double close should not error
	err = store.Close()
	assert.NoError(t, err)
}

func TestSnapshotCommit(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(db.CollectionMain, 1, []byte("one"), false))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	// Writes after the snapshot stay invisible to it.
	require.NoError(t, store.Put(db.CollectionMain, 1, []byte("newer"), false))
	value, err := snap.Get(db.CollectionMain, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), value)

	// A watch on the modified key fails the commit.
	_, err = snap.Commit(
		[]db.Write{{Collection: db.CollectionMain, Key: 2, Value: []byte("two")}},
		[]db.Watch{{Collection: db.CollectionMain, Key: 1}},
		false,
	)
	assert.ErrorIs(t, err, status.ErrConflict)

	// Without the stale watch the commit lands and bumps the sequence.
	snap2, err := store.Snapshot()
	require.NoError(t, err)
	defer snap2.Close()

	seq, err := snap2.Commit(
		[]db.Write{{Collection: db.CollectionMain, Key: 2, Value: []byte("two")}},
		[]db.Watch{{Collection: db.CollectionMain, Key: 2}},
		false,
	)
	require.NoError(t, err)
	assert.Greater(t, uint64(seq), uint64(snap2.Seq()))

	value, err = store.Get(db.CollectionMain, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), value)
}

func TestDirectoryPersistence(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir, Options{})
	require.NoError(t, err)
	people, err := store.OpenCollection("people")
	require.NoError(t, err)
	require.NoError(t, store.Put(people, 1, []byte("alice"), true))
	require.NoError(t, store.Close())

	reopened, err := New(dir, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	again, err := reopened.OpenCollection("people")
	require.NoError(t, err)
	assert.Equal(t, people, again)

	value, err := reopened.Get(again, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), value)
}
