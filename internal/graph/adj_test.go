package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/ustore/internal/status"
)

func TestAdjacencyCodec(t *testing.T) {
	t.Run("round_trip", func(t *testing.T) {
		recs := []record{
			{Peer: 2, EdgeID: 100, Role: RoleSource},
			{Peer: 3, EdgeID: 101, Role: RoleTarget},
			{Peer: -9, EdgeID: DefaultEdgeID, Role: RoleAny},
		}
		decoded, err := decodeAdjacency(encodeAdjacency(recs))
		require.NoError(t, err)
		assert.Equal(t, recs, decoded)
	})

	t.Run("empty", func(t *testing.T) {
		decoded, err := decodeAdjacency(nil)
		require.NoError(t, err)
		assert.Empty(t, decoded)

		decoded, err = decodeAdjacency(encodeAdjacency(nil))
		require.NoError(t, err)
		assert.Empty(t, decoded)
	})

	t.Run("truncated", func(t *testing.T) {
		blob := encodeAdjacency([]record{{Peer: 2, EdgeID: 1, Role: RoleSource}})
		_, err := decodeAdjacency(blob[:len(blob)-3])
		assert.ErrorIs(t, err, status.ErrCorruption)

		_, err = decodeAdjacency(blob[:2])
		assert.ErrorIs(t, err, status.ErrCorruption)
	})

	t.Run("bad_role", func(t *testing.T) {
		blob := encodeAdjacency([]record{{Peer: 2, EdgeID: 1, Role: RoleSource}})
		blob[len(blob)-1] = 7
		_, err := decodeAdjacency(blob)
		assert.ErrorIs(t, err, status.ErrCorruption)
	})
}

func TestInsertRecord(t *testing.T) {
	t.Run("sorted_insert", func(t *testing.T) {
		var recs []record
		recs = insertRecord(recs, record{Peer: 5, EdgeID: 1, Role: RoleSource}, true)
		recs = insertRecord(recs, record{Peer: 2, EdgeID: 1, Role: RoleSource}, true)
		recs = insertRecord(recs, record{Peer: 3, EdgeID: 1, Role: RoleTarget}, true)
		assert.Equal(t, []record{
			{Peer: 2, EdgeID: 1, Role: RoleSource},
			{Peer: 5, EdgeID: 1, Role: RoleSource},
			{Peer: 3, EdgeID: 1, Role: RoleTarget},
		}, recs)
	})

	t.Run("multi_keeps_parallel_edges", func(t *testing.T) {
		var recs []record
		recs = insertRecord(recs, record{Peer: 2, EdgeID: 10, Role: RoleSource}, true)
		recs = insertRecord(recs, record{Peer: 2, EdgeID: 11, Role: RoleSource}, true)
		assert.Len(t, recs, 2)

		// Same triple again is a no-op.
		recs = insertRecord(recs, record{Peer: 2, EdgeID: 10, Role: RoleSource}, true)
		assert.Len(t, recs, 2)
	})

	t.Run("non_multi_updates_edge_id", func(t *testing.T) {
		var recs []record
		recs = insertRecord(recs, record{Peer: 2, EdgeID: 10, Role: RoleSource}, false)
		recs = insertRecord(recs, record{Peer: 2, EdgeID: 11, Role: RoleSource}, false)
		assert.Equal(t, []record{{Peer: 2, EdgeID: 11, Role: RoleSource}}, recs)
	})
}

func TestRemoveRecord(t *testing.T) {
	recs := []record{
		{Peer: 2, EdgeID: 10, Role: RoleSource},
		{Peer: 2, EdgeID: 11, Role: RoleSource},
		{Peer: 3, EdgeID: 12, Role: RoleTarget},
	}

	t.Run("specific_id", func(t *testing.T) {
		out := removeRecord(append([]record{}, recs...), 2, RoleSource, 10, false)
		assert.Equal(t, []record{
			{Peer: 2, EdgeID: 11, Role: RoleSource},
			{Peer: 3, EdgeID: 12, Role: RoleTarget},
		}, out)
	})

	t.Run("any_id", func(t *testing.T) {
		out := removeRecord(append([]record{}, recs...), 2, RoleSource, 0, true)
		assert.Equal(t, []record{{Peer: 3, EdgeID: 12, Role: RoleTarget}}, out)
	})

	t.Run("no_match", func(t *testing.T) {
		out := removeRecord(append([]record{}, recs...), 9, RoleSource, 0, true)
		assert.Len(t, out, 3)
	})
}
