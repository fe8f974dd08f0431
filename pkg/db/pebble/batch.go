package pebble

import (
	"sync/atomic"

	"github.com/eigerco/ustore/pkg/db"
)

// Batch buffers mutations and applies them through the store's commit path
// so they receive a sequence number and show up in conflict checks.
type Batch struct {
	store  *Store
	writes []db.Write
	done   atomic.Bool
}

func (s *Store) NewBatch() db.Batch {
	return &Batch{store: s}
}

func (b *Batch) Put(col db.Collection, key db.Key, value []byte) error {
	if b.done.Load() {
		return ErrBatchDone
	}
	owned := make([]byte, len(value))
	copy(owned, value)
	b.writes = append(b.writes, db.Write{Collection: col, Key: key, Value: owned})
	return nil
}

func (b *Batch) Delete(col db.Collection, key db.Key) error {
	if b.done.Load() {
		return ErrBatchDone
	}
	b.writes = append(b.writes, db.Write{Collection: col, Key: key})
	return nil
}

func (b *Batch) Commit(sync bool) error {
	if b.done.Load() {
		return ErrBatchDone
	}
	if err := b.store.applyWrites(b.writes, sync); err != nil {
		return err
	}
	b.done.Store(true)
	return nil
}

func (b *Batch) Close() error {
	b.done.Store(true)
	b.writes = nil
	return nil
}
