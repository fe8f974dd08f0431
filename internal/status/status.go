// Package status defines the error kinds surfaced by the data plane. Every
// error returned across the store boundary wraps one of these sentinels, so
// the first word of the message names the kind and callers can classify with
// errors.Is.
package status

import (
	"errors"
	"fmt"
)

var (
	// ErrArgsWrong is returned by the request validator before any side effect.
	ErrArgsWrong = errors.New("ARGS_WRONG")

	// ErrConflict is returned when a transaction commit lost a race on a
	// watched key. The transaction stays open and may be reset.
	ErrConflict = errors.New("CONFLICT")

	// ErrMissing marks an absent key. Read paths report absence through
	// length sentinels instead; this sentinel only surfaces where a key is
	// required to exist.
	ErrMissing = errors.New("MISSING")

	// ErrUnsupported is returned when the selected backend lacks a feature.
	ErrUnsupported = errors.New("UNSUPPORTED")

	// ErrCorruption is returned on decode or invariant failure. It taints
	// the current call, not the store.
	ErrCorruption = errors.New("CORRUPTION")

	// ErrIO wraps backend I/O failures.
	ErrIO = errors.New("IO")

	ErrOutOfMemory = errors.New("OUT_OF_MEMORY")
)

// Wrap annotates a kind with a formatted detail message. The kind stays
// matchable with errors.Is.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
