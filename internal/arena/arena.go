// Package arena provides the caller-owned scratch memory every data-plane
// call writes its outputs into. Tapes grow but never shrink; Reset rewinds
// them without releasing capacity, so a long-lived arena stops allocating
// once it has seen its largest batch.
package arena

import "github.com/eigerco/ustore/pkg/db"

// Arena holds one tape per output column type. Returned windows stay
// readable until the arena is next reset; growing a tape may move it, in
// which case earlier windows keep their contents but no longer alias the
// tape.
type Arena struct {
	bytes []byte
	keys  []db.Key
	lens  []uint32
	words []uint64
}

func New() *Arena {
	return &Arena{}
}

// Bytes reserves n zeroed bytes on the byte tape.
func (a *Arena) Bytes(n int) []byte {
	a.bytes = grow(a.bytes, n)
	return a.bytes[len(a.bytes)-n:]
}

// AppendBytes copies p onto the byte tape and returns its window.
func (a *Arena) AppendBytes(p []byte) []byte {
	window := a.Bytes(len(p))
	copy(window, p)
	return window
}

// BytesTape returns everything written to the byte tape since the last
// reset.
func (a *Arena) BytesTape() []byte {
	return a.bytes
}

// Keys reserves n key slots.
func (a *Arena) Keys(n int) []db.Key {
	a.keys = grow(a.keys, n)
	return a.keys[len(a.keys)-n:]
}

// Lens reserves n length slots.
func (a *Arena) Lens(n int) []uint32 {
	a.lens = grow(a.lens, n)
	return a.lens[len(a.lens)-n:]
}

// Words reserves n bitmap words.
func (a *Arena) Words(n int) []uint64 {
	a.words = grow(a.words, n)
	return a.words[len(a.words)-n:]
}

// Reset rewinds every tape, invalidating previously returned windows while
// keeping their capacity. Callers chaining reads pass the dont-discard
// option, in which case the store skips the reset and new outputs land
// after the old ones.
func (a *Arena) Reset() {
	a.bytes = a.bytes[:0]
	a.keys = a.keys[:0]
	a.lens = a.lens[:0]
	a.words = a.words[:0]
}

func grow[T any](tape []T, n int) []T {
	off := len(tape)
	if off+n <= cap(tape) {
		tape = tape[:off+n]
		var zero T
		for i := off; i < off+n; i++ {
			tape[i] = zero
		}
		return tape
	}
	return append(tape, make([]T, n)...)
}
