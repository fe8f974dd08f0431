// Package db defines the narrow capability set the store core consumes from
// any pluggable ordered key-value engine, plus the shared key and collection
// types. Engines live in sub-packages; the core never imports them directly.
package db

import "math"

// Key is the only key type of the store: a fixed-width signed integer.
// Byte encodings of keys must sort in numeric order, see EncodeKey.
type Key int64

const (
	// KeyUnknown marks an absent or tombstoned key in output sequences.
	KeyUnknown Key = math.MaxInt64

	// KeyFirst is the unbounded lower bound of a scan.
	KeyFirst Key = math.MinInt64
)

// Collection is an opaque namespace handle issued by the engine's directory.
type Collection uint64

// CollectionMain is the unnamed default collection. Every store has it.
const CollectionMain Collection = 0

// SeqNo identifies the commit order of a transaction. Strictly increasing
// across successful commits.
type SeqNo uint64

// ValLenMissing marks an absent key in a lengths output column, distinct
// from zero which is an empty value.
const ValLenMissing uint32 = math.MaxUint32

// Feature bits reported by an engine at open time. Clients check these
// before using optional verbs.
type Feature uint32

const (
	FeatTransactions Feature = 1 << iota
	FeatNamedCollections
	FeatSnapshots
)

// Measurement is the size metadata of one collection. Engines may report
// approximate figures.
type Measurement struct {
	Bytes       uint64
	Keys        uint64
	Approximate bool
}

// Write is one staged mutation. A nil Value is a tombstone.
type Write struct {
	Collection Collection
	Key        Key
	Value      []byte
}

// Watch names a key whose concurrent modification should fail a commit.
type Watch struct {
	Collection Collection
	Key        Key
}

// Backend is implemented by every storage engine.
type Backend interface {
	Writer
	// Get returns the committed value of a key, or ErrNotFound.
	Get(col Collection, key Key) ([]byte, error)
	Delete(col Collection, key Key) error
	NewBatch() Batch
	// Range iterates keys >= min of one collection in ascending order.
	Range(col Collection, min Key) (Iterator, error)
	// Measure reports the size metadata of one collection.
	Measure(col Collection) (Measurement, error)
	// Clear removes every key of one collection, atomically where the
	// engine supports ranged deletes.
	Clear(col Collection) error

	// OpenCollection creates-or-opens a named namespace. The empty name
	// resolves to CollectionMain.
	OpenCollection(name string) (Collection, error)
	RemoveCollection(name string) error
	ListCollections() ([]string, error)

	Features() Feature
	Close() error
}

type Writer interface {
	// Put stores a value. Sync forces the write to stable storage before
	// returning.
	Put(col Collection, key Key, value []byte, sync bool) error
}

// Snapshotter is implemented by engines that support transactions.
type Snapshotter interface {
	Snapshot() (Snapshot, error)
}

// Snapshot is a frozen view of the store at one sequence number, plus the
// optimistic commit primitive the transaction manager builds on.
type Snapshot interface {
	Seq() SeqNo
	Get(col Collection, key Key) ([]byte, error)
	Range(col Collection, min Key) (Iterator, error)

	// Commit atomically applies writes iff none of the watched keys was
	// modified by a commit after this snapshot's sequence number. Returns
	// the new commit sequence number, or status.ErrConflict.
	Commit(writes []Write, watches []Watch, sync bool) (SeqNo, error)

	Close() error
}

// Batch is an atomic group of mutations. All operations become visible
// together on Commit.
type Batch interface {
	Put(col Collection, key Key, value []byte) error
	Delete(col Collection, key Key) error
	Commit(sync bool) error
	Close() error
}

// Iterator provides sequential access over one collection's key range.
// Iterators must be closed after use.
type Iterator interface {
	Next() bool
	Key() Key
	Value() ([]byte, error)
	Valid() bool
	Close() error
}
