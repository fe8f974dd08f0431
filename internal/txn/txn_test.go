package txn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/pkg/db"
	"github.com/eigerco/ustore/pkg/db/bolt"
	"github.com/eigerco/ustore/pkg/db/pebble"
)

func newTestManager(t *testing.T) (*Manager, db.Backend) {
	t.Helper()
	backend, err := pebble.New(t.TempDir(), pebble.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return NewManager(backend), backend
}

func TestReadYourWrites(t *testing.T) {
	mgr, _ := newTestManager(t)

	txn, err := mgr.Begin(false)
	require.NoError(t, err)
	defer txn.Free()

	require.NoError(t, txn.Put(db.CollectionMain, 1, []byte("staged")))

	value, found, err := txn.Get(db.CollectionMain, 1, true)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("staged"), value)

	// Insert then delete of the same key: the delete wins.
	require.NoError(t, txn.Delete(db.CollectionMain, 1))
	_, found, err = txn.Get(db.CollectionMain, 1, true)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotIsolation(t *testing.T) {
	mgr, backend := newTestManager(t)

	require.NoError(t, backend.Put(db.CollectionMain, 1, []byte("before"), false))

	txn, err := mgr.Begin(false)
	require.NoError(t, err)
	defer txn.Free()

	// A write committed after the snapshot stays invisible.
	require.NoError(t, backend.Put(db.CollectionMain, 1, []byte("after"), false))

	value, found, err := txn.Get(db.CollectionMain, 1, false)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("before"), value)
}

func TestCommitConflict(t *testing.T) {
	mgr, _ := newTestManager(t)

	t1, err := mgr.Begin(false)
	require.NoError(t, err)
	defer t1.Free()
	t2, err := mgr.Begin(false)
	require.NoError(t, err)
	defer t2.Free()

	// T1 reads key 1 and so watches it.
	_, _, err = t1.Get(db.CollectionMain, 1, true)
	require.NoError(t, err)

	// T2 commits a write to the watched key.
	require.NoError(t, t2.Put(db.CollectionMain, 1, []byte("x")))
	seq2, err := t2.Commit(false)
	require.NoError(t, err)

	// T1's commit must lose even though it writes elsewhere.
	require.NoError(t, t1.Put(db.CollectionMain, 2, []byte("y")))
	_, err = t1.Commit(false)
	assert.ErrorIs(t, err, status.ErrConflict)
	assert.Equal(t, Open, t1.State())

	// After a reset the handle is reusable and the commit lands.
	require.NoError(t, t1.Reset())
	require.NoError(t, t1.Put(db.CollectionMain, 2, []byte("y")))
	seq1, err := t1.Commit(false)
	require.NoError(t, err)
	assert.Greater(t, uint64(seq1), uint64(seq2))
}

func TestDontWatch(t *testing.T) {
	mgr, _ := newTestManager(t)

	t1, err := mgr.Begin(true)
	require.NoError(t, err)
	defer t1.Free()
	t2, err := mgr.Begin(false)
	require.NoError(t, err)
	defer t2.Free()

	_, _, err = t1.Get(db.CollectionMain, 1, true)
	require.NoError(t, err)

	require.NoError(t, t2.Put(db.CollectionMain, 1, []byte("x")))
	_, err = t2.Commit(false)
	require.NoError(t, err)

	// Watching was disabled at begin, so no conflict.
	require.NoError(t, t1.Put(db.CollectionMain, 2, []byte("y")))
	_, err = t1.Commit(false)
	assert.NoError(t, err)
}

func TestSequenceNumbersIncrease(t *testing.T) {
	mgr, _ := newTestManager(t)

	var last db.SeqNo
	for i := 0; i < 5; i++ {
		txn, err := mgr.Begin(false)
		require.NoError(t, err)
		require.NoError(t, txn.Put(db.CollectionMain, db.Key(i), []byte("v")))
		seq, err := txn.Commit(false)
		require.NoError(t, err)
		assert.Greater(t, uint64(seq), uint64(last))
		last = seq
		txn.Free()
	}
}

func TestScanMergesStagedWrites(t *testing.T) {
	mgr, backend := newTestManager(t)

	for _, k := range []db.Key{1, 3, 5, 9} {
		require.NoError(t, backend.Put(db.CollectionMain, k, []byte("v"), false))
	}

	txn, err := mgr.Begin(false)
	require.NoError(t, err)
	defer txn.Free()

	require.NoError(t, txn.Put(db.CollectionMain, 4, []byte("staged")))
	require.NoError(t, txn.Delete(db.CollectionMain, 5))

	keys, err := txn.Scan(db.CollectionMain, 2, 10, false)
	require.NoError(t, err)
	assert.Equal(t, []db.Key{3, 4, 9}, keys)

	keys, err = txn.Scan(db.CollectionMain, 2, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []db.Key{3, 4}, keys)
}

func TestAtomicCommit(t *testing.T) {
	mgr, backend := newTestManager(t)

	txn, err := mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, txn.Put(db.CollectionMain, 1, []byte("one")))
	require.NoError(t, txn.Put(db.CollectionMain, 2, []byte("two")))

	// Nothing is visible before commit.
	_, err = backend.Get(db.CollectionMain, 1)
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = txn.Commit(false)
	require.NoError(t, err)
	txn.Free()

	one, err := backend.Get(db.CollectionMain, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), one)
	two, err := backend.Get(db.CollectionMain, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), two)
}

func TestFreeIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)

	txn, err := mgr.Begin(false)
	require.NoError(t, err)
	txn.Free()
	assert.Equal(t, Aborted, txn.State())
	txn.Free()

	_, _, err = txn.Get(db.CollectionMain, 1, true)
	assert.ErrorIs(t, err, status.ErrArgsWrong)
}

func TestUnsupportedEngine(t *testing.T) {
	backend, err := bolt.New(filepath.Join(t.TempDir(), "ustore.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	mgr := NewManager(backend)
	assert.False(t, mgr.Supported())
	_, err = mgr.Begin(false)
	assert.ErrorIs(t, err, status.ErrUnsupported)
}
