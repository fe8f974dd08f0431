// Package txn owns in-flight transaction state: the snapshot, the staged
// write-set, the watched-key set, and the commit/reset/free lifecycle.
// Conflict detection itself lives with the snapshot-capable engine; the
// manager stages intent and hands it over at commit time.
package txn

import (
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/pkg/db"
	"github.com/eigerco/ustore/pkg/log"
)

// State of a transaction. Terminal states are idempotent to free.
type State uint8

const (
	Open State = iota
	Committed
	Aborted
)

type place struct {
	col db.Collection
	key db.Key
}

// Manager issues transactions against one engine.
type Manager struct {
	snapper db.Snapshotter
	log     zerolog.Logger
}

func NewManager(backend db.Backend) *Manager {
	m := &Manager{log: log.Txn}
	if backend.Features()&db.FeatTransactions != 0 {
		m.snapper, _ = backend.(db.Snapshotter)
	}
	return m
}

// Supported reports whether the engine can run transactions at all.
func (m *Manager) Supported() bool {
	return m.snapper != nil
}

// Begin acquires a snapshot and returns an open transaction. With dontWatch
// set, reads are never tracked and commit skips the read-conflict check.
func (m *Manager) Begin(dontWatch bool) (*Txn, error) {
	if m.snapper == nil {
		return nil, status.Wrap(status.ErrUnsupported, "engine does not support transactions")
	}
	snap, err := m.snapper.Snapshot()
	if err != nil {
		return nil, err
	}

	t := &Txn{
		id:        uuid.New(),
		mgr:       m,
		snap:      snap,
		dontWatch: dontWatch,
		watched:   make(map[place]struct{}),
		writes:    make(map[place][]byte),
	}
	m.log.Debug().Stringer("txn", t.id).Uint64("snapshot_seq", uint64(snap.Seq())).Msg("begin")
	return t, nil
}

// Txn is exclusive to one caller thread between Begin and Commit/Free.
type Txn struct {
	id        uuid.UUID
	mgr       *Manager
	snap      db.Snapshot
	dontWatch bool
	state     State
	watched   map[place]struct{}
	writes    map[place][]byte
	committed db.SeqNo
}

func (t *Txn) ID() uuid.UUID { return t.id }

func (t *Txn) State() State { return t.state }

// SnapshotSeq is the sequence number the transaction reads as of.
func (t *Txn) SnapshotSeq() db.SeqNo { return t.snap.Seq() }

// SeqNo returns the commit sequence number once the transaction committed.
func (t *Txn) SeqNo() db.SeqNo { return t.committed }

// Get reads a key as of the snapshot, unless the transaction's own staged
// writes override it. The key joins the watched set when both the
// transaction and the call have watching enabled.
func (t *Txn) Get(col db.Collection, key db.Key, watch bool) ([]byte, bool, error) {
	if t.state != Open {
		return nil, false, status.Wrap(status.ErrArgsWrong, "transaction is not open")
	}

	pl := place{col, key}
	if staged, ok := t.writes[pl]; ok {
		return staged, staged != nil, nil
	}
	if watch && !t.dontWatch {
		t.watched[pl] = struct{}{}
	}

	value, err := t.snap.Get(col, key)
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stages a write. Later reads inside the transaction see it. The value
// is copied; a nil value stages a tombstone.
func (t *Txn) Put(col db.Collection, key db.Key, value []byte) error {
	if t.state != Open {
		return status.Wrap(status.ErrArgsWrong, "transaction is not open")
	}
	var owned []byte
	if value != nil {
		owned = make([]byte, len(value))
		copy(owned, value)
	}
	t.writes[place{col, key}] = owned
	return nil
}

// Delete stages a tombstone. Insert-then-delete of the same key inside one
// transaction yields the delete: last stated intent wins.
func (t *Txn) Delete(col db.Collection, key db.Key) error {
	return t.Put(col, key, nil)
}

// Scan merges the snapshot's key range with the staged write-set: staged
// inserts appear, staged tombstones hide committed keys. Returned keys join
// the watched set under the same rules as Get.
func (t *Txn) Scan(col db.Collection, min db.Key, limit uint32, watch bool) ([]db.Key, error) {
	if t.state != Open {
		return nil, status.Wrap(status.ErrArgsWrong, "transaction is not open")
	}

	var staged []db.Key
	for pl := range t.writes {
		if pl.col == col && pl.key >= min {
			staged = append(staged, pl.key)
		}
	}
	sort.Slice(staged, func(i, j int) bool { return staged[i] < staged[j] })

	iter, err := t.snap.Range(col, min)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []db.Key
	si := 0
	advance := func(k db.Key) bool {
		// Staged keys below k come first; a staged key equal to k decides
		// k's visibility.
		for si < len(staged) && staged[si] <= k {
			sk := staged[si]
			si++
			if t.writes[place{col, sk}] != nil {
				out = append(out, sk)
			}
			if sk == k {
				return false
			}
			if uint32(len(out)) == limit {
				return false
			}
		}
		out = append(out, k)
		return true
	}
	for uint32(len(out)) < limit && iter.Next() {
		advance(iter.Key())
	}
	for uint32(len(out)) < limit && si < len(staged) {
		sk := staged[si]
		si++
		if t.writes[place{col, sk}] != nil {
			out = append(out, sk)
		}
	}

	if watch && !t.dontWatch {
		for _, k := range out {
			t.watched[place{col, k}] = struct{}{}
		}
	}
	return out, nil
}

// Commit hands the staged writes and watches to the engine. On success the
// transaction is terminal and the returned sequence number exceeds every
// previously returned one. On conflict the transaction stays open and may
// be reset.
func (t *Txn) Commit(flush bool) (db.SeqNo, error) {
	if t.state != Open {
		return 0, status.Wrap(status.ErrArgsWrong, "transaction is not open")
	}

	writes := make([]db.Write, 0, len(t.writes))
	for pl, value := range t.writes {
		writes = append(writes, db.Write{Collection: pl.col, Key: pl.key, Value: value})
	}
	sort.Slice(writes, func(i, j int) bool {
		if writes[i].Collection != writes[j].Collection {
			return writes[i].Collection < writes[j].Collection
		}
		return writes[i].Key < writes[j].Key
	})

	watches := make([]db.Watch, 0, len(t.watched))
	for pl := range t.watched {
		watches = append(watches, db.Watch{Collection: pl.col, Key: pl.key})
	}

	seq, err := t.snap.Commit(writes, watches, flush)
	if err != nil {
		if errors.Is(err, status.ErrConflict) {
			t.mgr.log.Debug().Stringer("txn", t.id).Msg("commit conflict")
		}
		return 0, err
	}

	t.state = Committed
	t.committed = seq
	_ = t.snap.Close()
	t.mgr.log.Debug().Stringer("txn", t.id).Uint64("seq", uint64(seq)).Msg("committed")
	return seq, nil
}

// Reset clears the staged state and re-issues a fresh snapshot, keeping the
// handle usable.
func (t *Txn) Reset() error {
	snap, err := t.mgr.snapper.Snapshot()
	if err != nil {
		return err
	}
	_ = t.snap.Close()
	t.snap = snap
	t.watched = make(map[place]struct{})
	t.writes = make(map[place][]byte)
	t.state = Open
	t.committed = 0
	return nil
}

// Free releases the transaction. Freeing an open transaction aborts it;
// freeing a terminal one is a no-op.
func (t *Txn) Free() {
	if t.state == Open {
		t.state = Aborted
	}
	if t.snap != nil {
		_ = t.snap.Close()
		t.snap = nil
	}
	t.watched = nil
	t.writes = nil
}
