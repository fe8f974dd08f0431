package soa

import "github.com/eigerco/ustore/pkg/db"

// Place addresses one value: a collection and a key.
type Place struct {
	Collection db.Collection
	Key        db.Key
}

// Places is the SoA form of a batch of addresses. An absent collections
// column resolves every place into the main collection.
type Places struct {
	Collections Strided[db.Collection]
	Keys        Strided[db.Key]
	Count       int
}

// PlacesOf builds a dense Places batch over one collection.
func PlacesOf(col db.Collection, keys []db.Key) Places {
	return Places{
		Collections: Broadcast(col),
		Keys:        New(keys),
		Count:       len(keys),
	}
}

func (p Places) At(i int) Place {
	return Place{
		Collection: p.Collections.Or(i, db.CollectionMain),
		Key:        p.Keys.At(i),
	}
}

// SameCollection reports whether the whole batch addresses one collection,
// which lets implementations fast-path the dispatch.
func (p Places) SameCollection() bool {
	return SameElements(p.Collections, p.Count)
}

// Contents supplies the value column of a write. Values may arrive three
// ways: per-element pointers with explicit lengths, one contiguous tape
// with Arrow-style offsets, or separator-terminated strings. A nil column
// or a cleared presence bit yields a nil value, which is a tombstone.
type Contents struct {
	Presences Bits
	Offsets   Strided[uint32]
	Lengths   Strided[uint32]
	Bytes     Strided[[]byte]
	Count     int

	// Separated marks separator-terminated values; without it, and without
	// offsets or lengths, each element of Bytes is one whole value.
	Separated bool
	Separator byte
}

// ContentsOf builds a dense Contents batch from per-element values.
func ContentsOf(values [][]byte) Contents {
	return Contents{Bytes: New(values), Count: len(values)}
}

// Absent reports whether no value column was supplied: the whole batch
// removes keys.
func (c Contents) Absent() bool {
	return c.Bytes.Absent()
}

// At materializes the value at index i. Nil means delete.
func (c Contents) At(i int) []byte {
	if c.Bytes.Absent() {
		return nil
	}
	base := c.Bytes.At(i)
	if base == nil {
		return nil
	}
	if !c.Presences.Absent() && !c.Presences.Get(i) {
		return nil
	}

	off := c.Offsets.Or(i, 0)
	switch {
	case !c.Lengths.Absent():
		return base[off : off+c.Lengths.At(i)]
	case !c.Offsets.Absent():
		return base[off:c.Offsets.At(i+1)]
	case c.Separated:
		end := off
		for base[end] != c.Separator {
			end++
		}
		return base[off:end]
	default:
		return base[off:]
	}
}

// IsArrow reports the offsets-over-one-tape layout.
func (c Contents) IsArrow() bool {
	return !c.Bytes.Absent() && c.Bytes.stride == 0 && !c.Offsets.Absent() && c.Lengths.Absent()
}

// IsContinuous reports whether consecutive values are adjacent in one
// backing allocation, letting the payload pass straight through to the
// engine without re-copying.
func (c Contents) IsContinuous() bool {
	if c.Count == 0 {
		return true
	}
	last := c.At(0)
	for i := 1; i < c.Count; i++ {
		value := c.At(i)
		if value == nil {
			return false
		}
		if len(value) == 0 {
			continue
		}
		if cap(last) < len(last)+1 {
			return false
		}
		if &last[:len(last)+1][len(last)] != &value[0] {
			return false
		}
		last = value
	}
	return true
}

// Scan is one paginated range request.
type Scan struct {
	Collection db.Collection
	MinKey     db.Key
	Limit      uint32
}

// Scans is the SoA form of a batch of range requests. Absent start keys
// scan from the beginning; limits are mandatory.
type Scans struct {
	Collections Strided[db.Collection]
	MinKeys     Strided[db.Key]
	Limits      Strided[uint32]
	Count       int
}

func (s Scans) At(i int) Scan {
	return Scan{
		Collection: s.Collections.Or(i, db.CollectionMain),
		MinKey:     s.MinKeys.Or(i, db.KeyFirst),
		Limit:      s.Limits.At(i),
	}
}

func (s Scans) SameCollection() bool {
	return SameElements(s.Collections, s.Count)
}

// Sample is one random-sample request.
type Sample struct {
	Collection db.Collection
	Limit      uint32
}

// Samples is the SoA form of a batch of sample requests.
type Samples struct {
	Collections Strided[db.Collection]
	Limits      Strided[uint32]
	Count       int
}

func (s Samples) At(i int) Sample {
	return Sample{
		Collection: s.Collections.Or(i, db.CollectionMain),
		Limit:      s.Limits.At(i),
	}
}
