package pebble

import "errors"

var (
	ErrBatchDone       = errors.New("pebble: batch already committed or closed")
	ErrSnapshotDone    = errors.New("pebble: snapshot already closed")
	ErrIteratorInvalid = errors.New("pebble: iterator is not positioned")
)
