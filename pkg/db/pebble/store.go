// Package pebble implements the store's Backend interface on top of
// cockroachdb/pebble. Collections are 8-byte big-endian key prefixes; a
// reserved system prefix holds the collection directory. Optimistic commits
// are serialized by a commit mutex over an in-memory version map.
package pebble

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/pkg/db"
)

// Options tunes the underlying pebble instance.
type Options struct {
	CacheBytes       int64
	WriteBufferBytes int64
}

type place struct {
	col db.Collection
	key db.Key
}

type Store struct {
	db     *pebble.DB
	mu     sync.RWMutex
	closed bool

	// commitMu serializes every state mutation so that commit sequence
	// numbers form a total order consistent with visibility.
	commitMu sync.Mutex
	seq      db.SeqNo
	versions map[place]db.SeqNo

	names map[string]db.Collection
	next  db.Collection
}

func New(path string, opts Options) (*Store, error) {
	cacheBytes := opts.CacheBytes
	if cacheBytes <= 0 {
		cacheBytes = 64 * 1024 * 1024
	}
	pebbleOpts := &pebble.Options{
		Cache: pebble.NewCache(cacheBytes),
	}
	if opts.WriteBufferBytes > 0 {
		pebbleOpts.MemTableSize = uint64(opts.WriteBufferBytes)
	}

	pdb, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %q: %w", path, err)
	}

	s := &Store{
		db:       pdb,
		versions: make(map[place]db.SeqNo),
		names:    make(map[string]db.Collection),
		next:     db.CollectionMain + 1,
	}
	if err := s.loadDirectory(); err != nil {
		_ = pdb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Features() db.Feature {
	return db.FeatTransactions | db.FeatNamedCollections | db.FeatSnapshots
}

func (s *Store) Get(col db.Collection, key db.Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, db.ErrClosed
	}

	value, closer, err := s.db.Get(dataKey(col, key))
	if err == pebble.ErrNotFound {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, status.Wrap(status.ErrIO, "get: %v", err)
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (s *Store) Put(col db.Collection, key db.Key, value []byte, sync bool) error {
	return s.applyWrites([]db.Write{{Collection: col, Key: key, Value: value}}, sync)
}

func (s *Store) Delete(col db.Collection, key db.Key) error {
	return s.applyWrites([]db.Write{{Collection: col, Key: key}}, false)
}

// applyWrites mutates committed state: one pebble batch, one new sequence
// number, version map updated for every touched key.
func (s *Store) applyWrites(writes []db.Write, sync bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return db.ErrClosed
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	_, err := s.applyLocked(writes, sync)
	return err
}

// applyLocked requires commitMu to be held.
func (s *Store) applyLocked(writes []db.Write, sync bool) (db.SeqNo, error) {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, w := range writes {
		var err error
		if w.Value == nil {
			err = batch.Delete(dataKey(w.Collection, w.Key), nil)
		} else {
			err = batch.Set(dataKey(w.Collection, w.Key), w.Value, nil)
		}
		if err != nil {
			return 0, status.Wrap(status.ErrIO, "stage write: %v", err)
		}
	}
	if err := batch.Commit(writeOpt(sync)); err != nil {
		return 0, status.Wrap(status.ErrIO, "commit batch: %v", err)
	}
	s.seq++
	for _, w := range writes {
		s.versions[place{w.Collection, w.Key}] = s.seq
	}
	return s.seq, nil
}

func (s *Store) Range(col db.Collection, min db.Key) (db.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, db.ErrClosed
	}
	return newIterator(s.db.NewIter, col, min)
}

func (s *Store) Measure(col db.Collection) (db.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return db.Measurement{}, db.ErrClosed
	}

	lower, upper := collectionBounds(col)
	bytes, err := s.db.EstimateDiskUsage(lower, upper)
	if err != nil {
		return db.Measurement{}, status.Wrap(status.ErrIO, "estimate usage: %v", err)
	}

	iter, err := newIterator(s.db.NewIter, col, db.KeyFirst)
	if err != nil {
		return db.Measurement{}, err
	}
	defer iter.Close()
	var keys uint64
	for iter.Next() {
		keys++
	}
	return db.Measurement{Bytes: bytes, Keys: keys, Approximate: true}, nil
}

func (s *Store) Clear(col db.Collection) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return db.ErrClosed
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	// Cleared keys must be visible to conflict checks of open snapshots.
	iter, err := newIterator(s.db.NewIter, col, db.KeyFirst)
	if err != nil {
		return err
	}
	var touched []db.Key
	for iter.Next() {
		touched = append(touched, iter.Key())
	}
	if err := iter.Close(); err != nil {
		return status.Wrap(status.ErrIO, "close iterator: %v", err)
	}

	lower, upper := collectionBounds(col)
	if err := s.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return status.Wrap(status.ErrIO, "delete range: %v", err)
	}
	s.seq++
	for _, k := range touched {
		s.versions[place{col, k}] = s.seq
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func writeOpt(sync bool) *pebble.WriteOptions {
	if sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Key layout: data keys are an 8-byte big-endian collection handle followed
// by the order-preserving key encoding. The all-ones prefix is reserved for
// the directory.

var sysPrefix = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

const sysKindName byte = 'c'

func dataKey(col db.Collection, key db.Key) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[:8], uint64(col))
	enc := db.EncodeKey(key)
	copy(out[8:], enc[:])
	return out
}

func collectionBounds(col db.Collection) (lower, upper []byte) {
	lower = make([]byte, 8)
	binary.BigEndian.PutUint64(lower, uint64(col))
	upper = make([]byte, 8)
	binary.BigEndian.PutUint64(upper, uint64(col)+1)
	return lower, upper
}

func nameKey(name string) []byte {
	out := make([]byte, 0, len(sysPrefix)+1+len(name))
	out = append(out, sysPrefix...)
	out = append(out, sysKindName)
	return append(out, name...)
}

func (s *Store) loadDirectory() error {
	lower := nameKey("")
	upper := append(append([]byte{}, sysPrefix...), sysKindName+1)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return status.Wrap(status.ErrIO, "open directory iterator: %v", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(lower):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return status.Wrap(status.ErrIO, "read directory entry: %v", err)
		}
		if len(val) != 8 {
			return status.Wrap(status.ErrCorruption, "directory entry for %q has %d bytes", name, len(val))
		}
		handle := db.Collection(binary.BigEndian.Uint64(val))
		s.names[name] = handle
		if handle >= s.next {
			s.next = handle + 1
		}
	}
	return nil
}

func (s *Store) OpenCollection(name string) (db.Collection, error) {
	if name == "" {
		return db.CollectionMain, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, db.ErrClosed
	}
	if handle, ok := s.names[name]; ok {
		return handle, nil
	}

	handle := s.next
	var encoded [8]byte
	binary.BigEndian.PutUint64(encoded[:], uint64(handle))
	if err := s.db.Set(nameKey(name), encoded[:], pebble.Sync); err != nil {
		return 0, status.Wrap(status.ErrIO, "persist collection %q: %v", name, err)
	}
	s.names[name] = handle
	s.next++
	return handle, nil
}

func (s *Store) RemoveCollection(name string) error {
	s.mu.Lock()
	handle, ok := s.names[name]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.names, name)
	s.mu.Unlock()

	if err := s.db.Delete(nameKey(name), pebble.Sync); err != nil {
		return status.Wrap(status.ErrIO, "drop collection %q: %v", name, err)
	}
	return s.Clear(handle)
}

func (s *Store) ListCollections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, db.ErrClosed
	}
	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
