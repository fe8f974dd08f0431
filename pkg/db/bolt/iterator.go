package bolt

import (
	"errors"

	"go.etcd.io/bbolt"

	"github.com/eigerco/ustore/pkg/db"
)

var ErrIteratorInvalid = errors.New("bolt: iterator is not positioned")

// Iterator keeps a read-only bbolt transaction open for its whole lifetime.
// Close releases the transaction.
type Iterator struct {
	tx      *bbolt.Tx
	cursor  *bbolt.Cursor
	min     db.Key
	started bool
	key     []byte
	value   []byte
}

func newIterator(tx *bbolt.Tx, col db.Collection, min db.Key) *Iterator {
	it := &Iterator{tx: tx, min: min}
	if bucket := tx.Bucket(bucketName(col)); bucket != nil {
		it.cursor = bucket.Cursor()
	}
	return it
}

func (it *Iterator) Next() bool {
	if it.cursor == nil {
		return false
	}
	if !it.started {
		it.started = true
		enc := db.EncodeKey(it.min)
		it.key, it.value = it.cursor.Seek(enc[:])
	} else {
		it.key, it.value = it.cursor.Next()
	}
	return it.key != nil
}

func (it *Iterator) Key() db.Key {
	if it.key == nil || len(it.key) != 8 {
		return db.KeyUnknown
	}
	return db.DecodeKey(it.key)
}

func (it *Iterator) Value() ([]byte, error) {
	if it.key == nil {
		return nil, ErrIteratorInvalid
	}
	result := make([]byte, len(it.value))
	copy(result, it.value)
	return result, nil
}

func (it *Iterator) Valid() bool {
	return it.key != nil
}

func (it *Iterator) Close() error {
	it.cursor = nil
	it.key = nil
	return it.tx.Rollback()
}
