package store

import (
	"github.com/eigerco/ustore/internal/soa"
	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/internal/txn"
)

// The validator checks argument shape and option masks only, never engine
// state, and runs before any side effect.

func optionsSubset(opts, allowed Options) bool {
	return opts&^allowed == 0
}

func validateWrite(places soa.Places, contents soa.Contents, opts Options) error {
	allowed := OptTxnDontWatch | OptDontDiscardMemory | OptWriteFlush
	if !optionsSubset(opts, allowed) {
		return status.Wrap(status.ErrArgsWrong, "invalid options")
	}
	if places.Keys.Absent() {
		return status.Wrap(status.ErrArgsWrong, "no keys were provided")
	}

	removeAll := contents.Absent()
	if removeAll && (!contents.Lengths.Absent() || !contents.Offsets.Absent()) {
		return status.Wrap(status.ErrArgsWrong, "can't address NULLs")
	}
	return nil
}

func validateRead(places soa.Places, opts Options) error {
	allowed := OptTxnDontWatch | OptDontDiscardMemory | OptReadSharedMemory
	if !optionsSubset(opts, allowed) {
		return status.Wrap(status.ErrArgsWrong, "invalid options")
	}
	if places.Keys.Absent() {
		return status.Wrap(status.ErrArgsWrong, "no keys were provided")
	}
	return nil
}

func validateScan(scans soa.Scans, opts Options) error {
	allowed := OptTxnDontWatch | OptDontDiscardMemory | OptReadSharedMemory | OptScanBulk
	if !optionsSubset(opts, allowed) {
		return status.Wrap(status.ErrArgsWrong, "invalid options")
	}
	if scans.Limits.Absent() {
		return status.Wrap(status.ErrArgsWrong, "full scans aren't supported - paginate")
	}
	for i := 0; i < scans.Count; i++ {
		if scans.Limits.At(i) == 0 {
			return status.Wrap(status.ErrArgsWrong, "scan limit must be positive")
		}
	}
	return nil
}

func validateSample(samples soa.Samples, opts Options) error {
	if !optionsSubset(opts, OptDontDiscardMemory) {
		return status.Wrap(status.ErrArgsWrong, "invalid options")
	}
	if samples.Limits.Absent() {
		return status.Wrap(status.ErrArgsWrong, "no limits were provided")
	}
	return nil
}

func validateTxnBegin(opts Options) error {
	if !optionsSubset(opts, OptTxnDontWatch) {
		return status.Wrap(status.ErrArgsWrong, "invalid options")
	}
	return nil
}

func validateTxnCommit(t *txn.Txn, opts Options) error {
	if t == nil {
		return status.Wrap(status.ErrArgsWrong, "transaction is uninitialized")
	}
	if !optionsSubset(opts, OptWriteFlush) {
		return status.Wrap(status.ErrArgsWrong, "invalid options")
	}
	return nil
}
