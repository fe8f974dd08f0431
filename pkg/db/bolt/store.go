// Package bolt implements the store's Backend interface on top of
// go.etcd.io/bbolt. Every collection maps to one bucket named by its 8-byte
// handle; string-named buckets hold the directory. The engine reports no
// snapshot support, so the transaction manager refuses to start transactions
// against it.
package bolt

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/pkg/db"
)

var (
	bucketDirectory = []byte("sys.directory")
	bucketMeta      = []byte("sys.meta")
	keyNextHandle   = []byte("next")
)

type Store struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	closed bool
}

func New(path string) (*Store, error) {
	bdb, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt at %q: %w", path, err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDirectory); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketName(db.CollectionMain))
		return err
	})
	if err != nil {
		_ = bdb.Close()
		return nil, status.Wrap(status.ErrIO, "initialize buckets: %v", err)
	}
	return &Store{db: bdb}, nil
}

func (s *Store) Features() db.Feature {
	return db.FeatNamedCollections
}

func bucketName(col db.Collection) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(col))
	return out
}

func (s *Store) Get(col db.Collection, key db.Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, db.ErrClosed
	}

	var result []byte
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(col))
		if bucket == nil {
			return nil
		}
		enc := db.EncodeKey(key)
		if val := bucket.Get(enc[:]); val != nil {
			result = make([]byte, len(val))
			copy(result, val)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, status.Wrap(status.ErrIO, "get: %v", err)
	}
	if !found {
		return nil, db.ErrNotFound
	}
	return result, nil
}

func (s *Store) Put(col db.Collection, key db.Key, value []byte, _ bool) error {
	return s.apply([]db.Write{{Collection: col, Key: key, Value: value}})
}

func (s *Store) Delete(col db.Collection, key db.Key) error {
	return s.apply([]db.Write{{Collection: col, Key: key}})
}

func (s *Store) apply(writes []db.Write) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return db.ErrClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, w := range writes {
			bucket, err := tx.CreateBucketIfNotExists(bucketName(w.Collection))
			if err != nil {
				return err
			}
			enc := db.EncodeKey(w.Key)
			if w.Value == nil {
				if err := bucket.Delete(enc[:]); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(enc[:], w.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return status.Wrap(status.ErrIO, "apply writes: %v", err)
	}
	return nil
}

func (s *Store) Range(col db.Collection, min db.Key) (db.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, db.ErrClosed
	}

	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, status.Wrap(status.ErrIO, "begin read transaction: %v", err)
	}
	return newIterator(tx, col, min), nil
}

func (s *Store) Measure(col db.Collection) (db.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return db.Measurement{}, db.ErrClosed
	}

	var m db.Measurement
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(col))
		if bucket == nil {
			return nil
		}
		stats := bucket.Stats()
		m.Keys = uint64(stats.KeyN)
		m.Bytes = uint64(stats.LeafInuse + stats.BranchInuse)
		return nil
	})
	if err != nil {
		return db.Measurement{}, status.Wrap(status.ErrIO, "bucket stats: %v", err)
	}
	return m, nil
}

func (s *Store) Clear(col db.Collection) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return db.ErrClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		name := bucketName(col)
		if tx.Bucket(name) == nil {
			return nil
		}
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
		_, err := tx.CreateBucket(name)
		return err
	})
	if err != nil {
		return status.Wrap(status.ErrIO, "clear bucket: %v", err)
	}
	return nil
}

func (s *Store) OpenCollection(name string) (db.Collection, error) {
	if name == "" {
		return db.CollectionMain, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, db.ErrClosed
	}

	var handle db.Collection
	err := s.db.Update(func(tx *bbolt.Tx) error {
		directory := tx.Bucket(bucketDirectory)
		if existing := directory.Get([]byte(name)); existing != nil {
			handle = db.Collection(binary.BigEndian.Uint64(existing))
			return nil
		}

		meta := tx.Bucket(bucketMeta)
		next := uint64(db.CollectionMain) + 1
		if raw := meta.Get(keyNextHandle); raw != nil {
			next = binary.BigEndian.Uint64(raw)
		}
		handle = db.Collection(next)

		var encoded [8]byte
		binary.BigEndian.PutUint64(encoded[:], next)
		if err := directory.Put([]byte(name), encoded[:]); err != nil {
			return err
		}
		binary.BigEndian.PutUint64(encoded[:], next+1)
		if err := meta.Put(keyNextHandle, encoded[:]); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketName(handle))
		return err
	})
	if err != nil {
		return 0, status.Wrap(status.ErrIO, "open collection %q: %v", name, err)
	}
	return handle, nil
}

func (s *Store) RemoveCollection(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return db.ErrClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		directory := tx.Bucket(bucketDirectory)
		raw := directory.Get([]byte(name))
		if raw == nil {
			return nil
		}
		handle := db.Collection(binary.BigEndian.Uint64(raw))
		if err := directory.Delete([]byte(name)); err != nil {
			return err
		}
		if tx.Bucket(bucketName(handle)) == nil {
			return nil
		}
		return tx.DeleteBucket(bucketName(handle))
	})
	if err != nil {
		return status.Wrap(status.ErrIO, "remove collection %q: %v", name, err)
	}
	return nil
}

func (s *Store) ListCollections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, db.ErrClosed
	}

	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDirectory).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, status.Wrap(status.ErrIO, "list collections: %v", err)
	}
	sort.Strings(names)
	return names, nil
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
