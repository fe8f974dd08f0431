package store

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/eigerco/ustore/internal/arena"
	"github.com/eigerco/ustore/internal/soa"
	"github.com/eigerco/ustore/internal/txn"
	"github.com/eigerco/ustore/pkg/db"
)

// Write stores or removes a batch of values. A nil value at index i removes
// the key. With a transaction the batch is staged; without one a
// multi-element batch goes through an atomic engine batch.
func (s *Store) Write(t *txn.Txn, places soa.Places, contents soa.Contents, opts Options) error {
	if err := validateWrite(places, contents, opts); err != nil {
		return err
	}
	flush := opts&OptWriteFlush != 0

	if t != nil {
		for i := 0; i < places.Count; i++ {
			pl := places.At(i)
			value := contents.At(i)
			var err error
			if value == nil {
				err = t.Delete(pl.Collection, pl.Key)
			} else {
				err = t.Put(pl.Collection, pl.Key, value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	if places.Count == 1 {
		pl := places.At(0)
		if value := contents.At(0); value != nil {
			return s.backend.Put(pl.Collection, pl.Key, value, flush)
		}
		return s.backend.Delete(pl.Collection, pl.Key)
	}

	batch := s.backend.NewBatch()
	defer batch.Close()
	for i := 0; i < places.Count; i++ {
		pl := places.At(i)
		value := contents.At(i)
		var err error
		if value == nil {
			err = batch.Delete(pl.Collection, pl.Key)
		} else {
			err = batch.Put(pl.Collection, pl.Key, value)
		}
		if err != nil {
			return err
		}
	}
	return batch.Commit(flush)
}

// Read fetches a batch of values. Lengths land in the arena as one tight
// array; db.ValLenMissing marks an absent key, distinct from an empty
// value. Bytes are appended in index order, so offset i is the sum of the
// defined lengths before it.
func (s *Store) Read(t *txn.Txn, places soa.Places, opts Options, a *arena.Arena) (lens []uint32, tape []byte, err error) {
	if err := validateRead(places, opts); err != nil {
		return nil, nil, err
	}
	if opts&OptDontDiscardMemory == 0 {
		a.Reset()
	}

	lens = a.Lens(places.Count)
	tapeStart := len(a.BytesTape())
	watch := opts&OptTxnDontWatch == 0

	for i := 0; i < places.Count; i++ {
		pl := places.At(i)
		var value []byte
		var found bool
		if t != nil {
			value, found, err = t.Get(pl.Collection, pl.Key, watch)
			if err != nil {
				return nil, nil, err
			}
		} else {
			value, err = s.backend.Get(pl.Collection, pl.Key)
			switch {
			case errors.Is(err, db.ErrNotFound):
				found = false
			case err != nil:
				return nil, nil, err
			default:
				found = true
			}
		}

		if !found {
			lens[i] = db.ValLenMissing
			continue
		}
		lens[i] = uint32(len(value))
		a.AppendBytes(value)
	}
	return lens, a.BytesTape()[tapeStart:], nil
}

// Scan answers a batch of paginated range requests. For request i the
// result holds up to Limit keys >= MinKey in ascending order; counts[i]
// keys belong to request i within the flat keys column.
func (s *Store) Scan(t *txn.Txn, scans soa.Scans, opts Options, a *arena.Arena) (counts []uint32, keys []db.Key, err error) {
	if err := validateScan(scans, opts); err != nil {
		return nil, nil, err
	}
	if opts&OptDontDiscardMemory == 0 {
		a.Reset()
	}

	counts = a.Lens(scans.Count)
	var flat []db.Key
	watch := opts&OptTxnDontWatch == 0

	for i := 0; i < scans.Count; i++ {
		sc := scans.At(i)
		var found []db.Key
		if t != nil {
			found, err = t.Scan(sc.Collection, sc.MinKey, sc.Limit, watch)
			if err != nil {
				return nil, nil, err
			}
		} else {
			found, err = s.scanBackend(sc)
			if err != nil {
				return nil, nil, err
			}
		}
		counts[i] = uint32(len(found))
		flat = append(flat, found...)
	}

	keys = a.Keys(len(flat))
	copy(keys, flat)
	return counts, keys, nil
}

func (s *Store) scanBackend(sc soa.Scan) ([]db.Key, error) {
	iter, err := s.backend.Range(sc.Collection, sc.MinKey)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var found []db.Key
	for uint32(len(found)) < sc.Limit && iter.Next() {
		found = append(found, iter.Key())
	}
	return found, nil
}

// sampleWindowFactor bounds how far past the requested limit the sampler
// scans. The distribution is uniform within that window.
const sampleWindowFactor = 16

// Sample draws keys per collection without replacement, deterministically
// for a given seed. The engine's scan order defines the window the
// reservoir draws from.
func (s *Store) Sample(samples soa.Samples, seed int64, opts Options, a *arena.Arena) (counts []uint32, keys []db.Key, err error) {
	if err := validateSample(samples, opts); err != nil {
		return nil, nil, err
	}
	if opts&OptDontDiscardMemory == 0 {
		a.Reset()
	}

	rng := rand.New(rand.NewSource(seed))
	counts = a.Lens(samples.Count)
	var flat []db.Key

	for i := 0; i < samples.Count; i++ {
		sm := samples.At(i)
		picked, err := s.sampleOne(sm, rng)
		if err != nil {
			return nil, nil, err
		}
		counts[i] = uint32(len(picked))
		flat = append(flat, picked...)
	}

	keys = a.Keys(len(flat))
	copy(keys, flat)
	return counts, keys, nil
}

func (s *Store) sampleOne(sm soa.Sample, rng *rand.Rand) ([]db.Key, error) {
	if sm.Limit == 0 {
		return nil, nil
	}
	iter, err := s.backend.Range(sm.Collection, db.KeyFirst)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	limit := int(sm.Limit)
	window := limit * sampleWindowFactor
	reservoir := make([]db.Key, 0, limit)
	seen := 0
	for seen < window && iter.Next() {
		k := iter.Key()
		if len(reservoir) < limit {
			reservoir = append(reservoir, k)
		} else if j := rng.Intn(seen + 1); j < limit {
			reservoir[j] = k
		}
		seen++
	}
	sort.Slice(reservoir, func(i, j int) bool { return reservoir[i] < reservoir[j] })
	return reservoir, nil
}
