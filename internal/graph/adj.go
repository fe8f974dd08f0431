package graph

import (
	"encoding/binary"
	"sort"

	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/pkg/db"
)

// Adjacency encoding: a little-endian u32 record count followed by
// fixed-size records {peer 8B, edge id 8B, role 1B}. Records stay sorted by
// (role, peer, edge id), so merging an insert is a decode, a sorted insert
// and one append-or-replace write of the whole value - storage is never
// edited in place.

const (
	adjHeaderSize = 4
	adjRecordSize = 17
)

type record struct {
	Peer   db.Key
	EdgeID db.Key
	Role   Role
}

func encodeAdjacency(recs []record) []byte {
	out := make([]byte, adjHeaderSize+len(recs)*adjRecordSize)
	binary.LittleEndian.PutUint32(out, uint32(len(recs)))
	off := adjHeaderSize
	for _, r := range recs {
		binary.LittleEndian.PutUint64(out[off:], uint64(r.Peer))
		binary.LittleEndian.PutUint64(out[off+8:], uint64(r.EdgeID))
		out[off+16] = byte(r.Role)
		off += adjRecordSize
	}
	return out
}

func decodeAdjacency(blob []byte) ([]record, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < adjHeaderSize {
		return nil, status.Wrap(status.ErrCorruption, "adjacency value of %d bytes has no header", len(blob))
	}
	count := binary.LittleEndian.Uint32(blob)
	if len(blob) != adjHeaderSize+int(count)*adjRecordSize {
		return nil, status.Wrap(status.ErrCorruption, "adjacency value of %d bytes does not hold %d records", len(blob), count)
	}

	recs := make([]record, count)
	off := adjHeaderSize
	for i := range recs {
		recs[i] = record{
			Peer:   db.Key(binary.LittleEndian.Uint64(blob[off:])),
			EdgeID: db.Key(binary.LittleEndian.Uint64(blob[off+8:])),
			Role:   Role(blob[off+16]),
		}
		if recs[i].Role == 0 || recs[i].Role > RoleAny {
			return nil, status.Wrap(status.ErrCorruption, "adjacency record %d has role %d", i, blob[off+16])
		}
		off += adjRecordSize
	}
	return recs, nil
}

func recordLess(a, b record) bool {
	if a.Role != b.Role {
		return a.Role < b.Role
	}
	if a.Peer != b.Peer {
		return a.Peer < b.Peer
	}
	return a.EdgeID < b.EdgeID
}

// insertRecord merges one record. In non-multi mode a record with the same
// peer and role is updated to the new edge id; otherwise the record is
// placed at its sort position. Re-upserting an identical triple is a no-op.
func insertRecord(recs []record, rec record, multi bool) []record {
	if !multi {
		for i := range recs {
			if recs[i].Peer == rec.Peer && recs[i].Role == rec.Role {
				recs[i].EdgeID = rec.EdgeID
				return recs
			}
		}
	} else {
		for _, r := range recs {
			if r == rec {
				return recs
			}
		}
	}

	at := sort.Search(len(recs), func(i int) bool { return !recordLess(recs[i], rec) })
	recs = append(recs, record{})
	copy(recs[at+1:], recs[at:])
	recs[at] = rec
	return recs
}

// removeRecord drops records matching peer and role. With anyID set every
// edge id matches, otherwise only the given one.
func removeRecord(recs []record, peer db.Key, role Role, edgeID db.Key, anyID bool) []record {
	out := recs[:0]
	for _, r := range recs {
		if r.Peer == peer && r.Role == role && (anyID || r.EdgeID == edgeID) {
			continue
		}
		out = append(out, r)
	}
	return out
}
