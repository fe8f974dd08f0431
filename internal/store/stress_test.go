package store

import (
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/ustore/internal/arena"
	"github.com/eigerco/ustore/internal/soa"
	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/pkg/db"
)

type stressOpCode uint8

const (
	stressInsert stressOpCode = iota
	stressRemove
)

type stressOp struct {
	key   db.Key
	value uint64
	seq   db.SeqNo
	code  stressOpCode
}

// TestLinearizability runs concurrent single-op transactions, then replays
// the committed ones in sequence order into a reference map. The store's
// final contents must match the reference exactly: commit sequence numbers
// define a serial order equivalent to the concurrent execution.
func TestLinearizability(t *testing.T) {
	const (
		workers      = 8
		txnPerWorker = 64
		keySpace     = 32
	)

	cfg, err := json.Marshal(Config{Directory: t.TempDir()})
	require.NoError(t, err)
	s, err := Open(string(cfg))
	require.NoError(t, err)
	defer s.Close()

	var mu sync.Mutex
	var committed []stressOp

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker)))

			for i := 0; i < txnPerWorker; i++ {
				op := stressOp{
					key:   db.Key(rng.Intn(keySpace)),
					value: rng.Uint64(),
				}
				if rng.Intn(3) == 0 {
					op.code = stressRemove
				}

				txn, err := s.TxnBegin(0)
				if !assert.NoError(t, err) {
					return
				}

				var payload [8]byte
				binary.LittleEndian.PutUint64(payload[:], op.value)
				contents := soa.ContentsOf([][]byte{payload[:]})
				if op.code == stressRemove {
					contents = soa.Contents{Count: 1}
				}
				err = s.Write(txn, soa.PlacesOf(db.CollectionMain, []db.Key{op.key}), contents, 0)
				if !assert.NoError(t, err) {
					txn.Free()
					return
				}

				seq, err := s.TxnCommit(txn, 0)
				if err == nil {
					op.seq = seq
					mu.Lock()
					committed = append(committed, op)
					mu.Unlock()
				} else {
					// Lost the race; the op must leave no trace.
					assert.ErrorIs(t, err, status.ErrConflict)
				}
				txn.Free()
			}
		}(w)
	}
	wg.Wait()

	// Sequence numbers must be unique and strictly increasing.
	sort.Slice(committed, func(i, j int) bool { return committed[i].seq < committed[j].seq })
	for i := 1; i < len(committed); i++ {
		require.Greater(t, uint64(committed[i].seq), uint64(committed[i-1].seq))
	}

	reference := make(map[db.Key]uint64)
	for _, op := range committed {
		if op.code == stressInsert {
			reference[op.key] = op.value
		} else {
			delete(reference, op.key)
		}
	}

	a := arena.New()
	_, keys, err := s.Scan(nil, soa.Scans{
		Limits: soa.New([]uint32{keySpace * 2}),
		Count:  1,
	}, 0, a)
	require.NoError(t, err)

	stored := make(map[db.Key]uint64)
	if len(keys) > 0 {
		held := make([]db.Key, len(keys))
		copy(held, keys)
		lens, tape, err := s.Read(nil, soa.PlacesOf(db.CollectionMain, held), 0, a)
		require.NoError(t, err)
		off := uint32(0)
		for i, l := range lens {
			require.NotEqual(t, db.ValLenMissing, l)
			stored[held[i]] = binary.LittleEndian.Uint64(tape[off : off+l])
			off += l
		}
	}

	assert.Equal(t, reference, stored)
}
