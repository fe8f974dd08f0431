package pebble

import (
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/pkg/db"
)

// Snapshot pins a pebble snapshot together with the commit sequence number
// it was taken at. Commit implements the optimistic check: a watched key
// whose version advanced past the snapshot sequence fails the transaction.
type Snapshot struct {
	store  *Store
	snap   *pebble.Snapshot
	seq    db.SeqNo
	closed atomic.Bool
}

func (s *Store) Snapshot() (db.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, db.ErrClosed
	}

	// Sequence number and pebble snapshot must agree, so both are taken
	// under the commit mutex.
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return &Snapshot{store: s, snap: s.db.NewSnapshot(), seq: s.seq}, nil
}

func (sn *Snapshot) Seq() db.SeqNo {
	return sn.seq
}

func (sn *Snapshot) Get(col db.Collection, key db.Key) ([]byte, error) {
	if sn.closed.Load() {
		return nil, ErrSnapshotDone
	}

	value, closer, err := sn.snap.Get(dataKey(col, key))
	if err == pebble.ErrNotFound {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, status.Wrap(status.ErrIO, "snapshot get: %v", err)
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (sn *Snapshot) Range(col db.Collection, min db.Key) (db.Iterator, error) {
	if sn.closed.Load() {
		return nil, ErrSnapshotDone
	}
	return newIterator(sn.snap.NewIter, col, min)
}

func (sn *Snapshot) Commit(writes []db.Write, watches []db.Watch, sync bool) (db.SeqNo, error) {
	if sn.closed.Load() {
		return 0, ErrSnapshotDone
	}

	sn.store.mu.RLock()
	defer sn.store.mu.RUnlock()
	if sn.store.closed {
		return 0, db.ErrClosed
	}

	sn.store.commitMu.Lock()
	defer sn.store.commitMu.Unlock()

	for _, w := range watches {
		if v, ok := sn.store.versions[place{w.Collection, w.Key}]; ok && v > sn.seq {
			return 0, status.Wrap(status.ErrConflict, "key %d in collection %d changed at seq %d", w.Key, w.Collection, v)
		}
	}
	return sn.store.applyLocked(writes, sync)
}

func (sn *Snapshot) Close() error {
	if !sn.closed.CompareAndSwap(false, true) {
		return nil
	}
	return sn.snap.Close()
}
