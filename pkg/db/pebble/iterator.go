package pebble

import (
	"github.com/cockroachdb/pebble"

	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/pkg/db"
)

type Iterator struct {
	iter *pebble.Iterator
}

// newIter is satisfied by both *pebble.DB and *pebble.Snapshot.
type newIter func(*pebble.IterOptions) (*pebble.Iterator, error)

func newIterator(open newIter, col db.Collection, min db.Key) (db.Iterator, error) {
	_, upper := collectionBounds(col)
	iter, err := open(&pebble.IterOptions{
		LowerBound: dataKey(col, min),
		UpperBound: upper,
	})
	if err != nil {
		return nil, status.Wrap(status.ErrIO, "create iterator: %v", err)
	}
	return &Iterator{iter: iter}, nil
}

func (it *Iterator) Next() bool {
	// If the iterator is un-positioned, position it at the first key
	if !it.iter.Valid() {
		return it.iter.First()
	}
	// Otherwise, move to the next key
	return it.iter.Next()
}

func (it *Iterator) Key() db.Key {
	raw := it.iter.Key()
	if len(raw) != 16 {
		return db.KeyUnknown
	}
	return db.DecodeKey(raw[8:])
}

func (it *Iterator) Value() ([]byte, error) {
	if !it.iter.Valid() {
		return nil, ErrIteratorInvalid
	}

	val, err := it.iter.ValueAndErr()
	if err != nil {
		return nil, status.Wrap(status.ErrIO, "iterator value: %v", err)
	}

	result := make([]byte, len(val))
	copy(result, val)
	return result, nil
}

func (it *Iterator) Valid() bool {
	return it.iter.Valid()
}

func (it *Iterator) Close() error {
	return it.iter.Close()
}
