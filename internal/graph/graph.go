package graph

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eigerco/ustore/internal/arena"
	"github.com/eigerco/ustore/internal/soa"
	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/internal/store"
	"github.com/eigerco/ustore/internal/txn"
	"github.com/eigerco/ustore/pkg/db"
	"github.com/eigerco/ustore/pkg/log"
)

// Config fixes the shape of a graph at construction time.
type Config struct {
	Directed       bool
	Multi          bool
	AllowSelfLoops bool
}

// Graph indexes adjacency over one collection of the store. Attribute side
// collections are optional; when attached, per-vertex and per-edge blobs
// live next to the index.
type Graph struct {
	store *store.Store
	col   db.Collection
	cfg   Config
	log   zerolog.Logger

	vertexAttrs    db.Collection
	edgeAttrs      db.Collection
	hasVertexAttrs bool
	hasEdgeAttrs   bool

	// mu serializes read-modify-write cycles when the engine cannot run
	// transactions.
	mu sync.Mutex
}

func New(s *store.Store, col db.Collection, cfg Config) *Graph {
	return &Graph{store: s, col: col, cfg: cfg, log: log.Graph}
}

// WithAttributes attaches the side collections for vertex and edge blobs.
func (g *Graph) WithAttributes(vertexAttrs, edgeAttrs db.Collection) *Graph {
	g.vertexAttrs = vertexAttrs
	g.edgeAttrs = edgeAttrs
	g.hasVertexAttrs = true
	g.hasEdgeAttrs = true
	return g
}

func (g *Graph) Config() Config { return g.cfg }

// adjRW abstracts where a read-modify-write cycle reads and writes.
type adjRW interface {
	get(v db.Key) ([]byte, bool, error)
	put(v db.Key, blob []byte) error
}

type txnRW struct {
	t   *txn.Txn
	col db.Collection
}

func (rw txnRW) get(v db.Key) ([]byte, bool, error) {
	return rw.t.Get(rw.col, v, true)
}

func (rw txnRW) put(v db.Key, blob []byte) error {
	return rw.t.Put(rw.col, v, blob)
}

type batchRW struct {
	backend db.Backend
	batch   db.Batch
	col     db.Collection
}

func (rw batchRW) get(v db.Key) ([]byte, bool, error) {
	value, err := rw.backend.Get(rw.col, v)
	if err == db.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (rw batchRW) put(v db.Key, blob []byte) error {
	return rw.batch.Put(rw.col, v, blob)
}

// mutate runs one atomic read-modify-write cycle. With an explicit
// transaction the cycle stages into it and the caller commits. Without one,
// an implicit transaction is opened and committed; engines without
// transactions fall back to a mutex-guarded engine batch.
func (g *Graph) mutate(t *txn.Txn, step func(rw adjRW) error) error {
	if t != nil {
		return step(txnRW{t: t, col: g.col})
	}

	if g.store.TxnSupported() {
		implicit, err := g.store.TxnBegin(0)
		if err != nil {
			return err
		}
		defer implicit.Free()
		if err := step(txnRW{t: implicit, col: g.col}); err != nil {
			return err
		}
		_, err = g.store.TxnCommit(implicit, 0)
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	batch := g.store.Backend().NewBatch()
	defer batch.Close()
	if err := step(batchRW{backend: g.store.Backend(), batch: batch, col: g.col}); err != nil {
		return err
	}
	return batch.Commit(false)
}

// endpointRecords expands one edge into its two adjacency records.
func (g *Graph) endpointRecords(e Edge) (srcRec, tgtRec record) {
	if g.cfg.Directed {
		return record{Peer: e.Target, EdgeID: e.ID, Role: RoleSource},
			record{Peer: e.Source, EdgeID: e.ID, Role: RoleTarget}
	}
	return record{Peer: e.Target, EdgeID: e.ID, Role: RoleAny},
		record{Peer: e.Source, EdgeID: e.ID, Role: RoleAny}
}

// Upsert inserts or updates a batch of edges atomically. In non-multi mode
// an existing edge between the pair adopts the new id.
func (g *Graph) Upsert(t *txn.Txn, edges Edges) error {
	pending := make(map[db.Key][]record)
	for i := 0; i < edges.Count; i++ {
		e := edges.At(i)
		if !g.cfg.AllowSelfLoops && e.Source == e.Target {
			return status.Wrap(status.ErrArgsWrong, "self loop on vertex %d", e.Source)
		}
		srcRec, tgtRec := g.endpointRecords(e)
		pending[e.Source] = append(pending[e.Source], srcRec)
		pending[e.Target] = append(pending[e.Target], tgtRec)
	}

	g.log.Debug().Int("edges", edges.Count).Int("vertices", len(pending)).Msg("upsert")
	return g.mutate(t, func(rw adjRW) error {
		for _, v := range sortedVertices(pending) {
			recs, err := g.load(rw, v)
			if err != nil {
				return err
			}
			for _, rec := range pending[v] {
				recs = insertRecord(recs, rec, g.cfg.Multi)
			}
			if err := rw.put(v, encodeAdjacency(recs)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Remove drops a batch of edges. A missing adjacency is not an error. An
// edge with DefaultEdgeID drops every edge between the pair.
func (g *Graph) Remove(t *txn.Txn, edges Edges) error {
	type removal struct {
		peer   db.Key
		role   Role
		edgeID db.Key
		anyID  bool
	}
	pending := make(map[db.Key][]removal)
	for i := 0; i < edges.Count; i++ {
		e := edges.At(i)
		anyID := e.ID == DefaultEdgeID
		srcRec, tgtRec := g.endpointRecords(e)
		pending[e.Source] = append(pending[e.Source],
			removal{peer: srcRec.Peer, role: srcRec.Role, edgeID: e.ID, anyID: anyID})
		pending[e.Target] = append(pending[e.Target],
			removal{peer: tgtRec.Peer, role: tgtRec.Role, edgeID: e.ID, anyID: anyID})
	}

	return g.mutate(t, func(rw adjRW) error {
		for _, v := range sortedVertices(pending) {
			blob, found, err := rw.get(v)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			recs, err := decodeAdjacency(blob)
			if err != nil {
				return err
			}
			for _, rm := range pending[v] {
				recs = removeRecord(recs, rm.peer, rm.role, rm.edgeID, rm.anyID)
			}
			if err := rw.put(v, encodeAdjacency(recs)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Graph) load(rw adjRW, v db.Key) ([]record, error) {
	blob, found, err := rw.get(v)
	if err != nil || !found {
		return nil, err
	}
	return decodeAdjacency(blob)
}

func (g *Graph) read(t *txn.Txn, v db.Key) ([]record, bool, error) {
	var blob []byte
	var found bool
	var err error
	if t != nil {
		blob, found, err = t.Get(g.col, v, true)
	} else {
		blob, err = g.store.Backend().Get(g.col, v)
		switch err {
		case nil:
			found = true
		case db.ErrNotFound:
			err = nil
		}
	}
	if err != nil || !found {
		return nil, false, err
	}
	recs, err := decodeAdjacency(blob)
	if err != nil {
		return nil, false, err
	}
	return recs, true, nil
}

// Edges returns the edges incident to v matching role, decoded once from
// its adjacency. The peer always lands in the targets column, with endpoint
// fields swapped in the returned copy where v was the edge's target;
// storage is never rewritten.
func (g *Graph) Edges(t *txn.Txn, v db.Key, role Role, a *arena.Arena) (sources, targets, ids []db.Key, err error) {
	recs, _, err := g.read(t, v)
	if err != nil {
		return nil, nil, nil, err
	}

	n := 0
	for _, r := range recs {
		if r.Role&role != 0 {
			n++
		}
	}
	sources = a.Keys(n)
	targets = a.Keys(n)
	ids = a.Keys(n)
	i := 0
	for _, r := range recs {
		if r.Role&role == 0 {
			continue
		}
		sources[i] = v
		targets[i] = r.Peer
		ids[i] = r.EdgeID
		i++
	}
	return sources, targets, ids, nil
}

// Neighbors returns the peers of v over both incident directions,
// duplicates included for multi-graphs.
func (g *Graph) Neighbors(t *txn.Txn, v db.Key, a *arena.Arena) ([]db.Key, error) {
	_, targets, _, err := g.Edges(t, v, RoleAny, a)
	return targets, err
}

// Degrees counts incident edges per vertex and role without materializing
// neighbor lists. Unknown vertices count zero.
func (g *Graph) Degrees(t *txn.Txn, finds FindEdges, a *arena.Arena) ([]uint32, error) {
	counts := a.Lens(finds.Count)
	for i := 0; i < finds.Count; i++ {
		v, role := finds.At(i)
		recs, _, err := g.read(t, v)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.Role&role != 0 {
				counts[i]++
			}
		}
	}
	return counts, nil
}

// Degree is the single-vertex convenience over Degrees.
func (g *Graph) Degree(t *txn.Txn, v db.Key, role Role) (uint32, error) {
	var a arena.Arena
	counts, err := g.Degrees(t, FindEdges{
		Vertices: soa.New([]db.Key{v}),
		Roles:    soa.Broadcast(role),
		Count:    1,
	}, &a)
	if err != nil {
		return 0, err
	}
	return counts[0], nil
}

// Contains reports vertex presence as a packed bitmap over the input, one
// bit per vertex.
func (g *Graph) Contains(t *txn.Txn, vertices []db.Key, a *arena.Arena) (soa.Bits, error) {
	bits := soa.BitsOf(a.Words((len(vertices) + 63) / 64))
	for i, v := range vertices {
		_, found, err := g.read(t, v)
		if err != nil {
			return soa.Bits{}, err
		}
		if found {
			bits.Set(i)
		}
	}
	return bits, nil
}

// ContainsOne is the single-vertex convenience over Contains.
func (g *Graph) ContainsOne(t *txn.Txn, v db.Key) (bool, error) {
	var a arena.Arena
	bits, err := g.Contains(t, []db.Key{v}, &a)
	if err != nil {
		return false, err
	}
	return bits.Get(0), nil
}

// SetVertexAttr stores the attribute blob of one vertex in the attached
// side collection.
func (g *Graph) SetVertexAttr(t *txn.Txn, v db.Key, blob []byte) error {
	if !g.hasVertexAttrs {
		return status.Wrap(status.ErrUnsupported, "graph has no vertex attribute collection")
	}
	return g.store.Write(t, soa.PlacesOf(g.vertexAttrs, []db.Key{v}),
		soa.ContentsOf([][]byte{blob}), 0)
}

// VertexAttr loads the attribute blob of one vertex.
func (g *Graph) VertexAttr(t *txn.Txn, v db.Key, a *arena.Arena) ([]byte, bool, error) {
	if !g.hasVertexAttrs {
		return nil, false, status.Wrap(status.ErrUnsupported, "graph has no vertex attribute collection")
	}
	lens, tape, err := g.store.Read(t, soa.PlacesOf(g.vertexAttrs, []db.Key{v}), 0, a)
	if err != nil {
		return nil, false, err
	}
	if lens[0] == db.ValLenMissing {
		return nil, false, nil
	}
	return tape[:lens[0]], true, nil
}

// SetEdgeAttr stores the attribute blob of one edge, keyed by edge id.
func (g *Graph) SetEdgeAttr(t *txn.Txn, edgeID db.Key, blob []byte) error {
	if !g.hasEdgeAttrs {
		return status.Wrap(status.ErrUnsupported, "graph has no edge attribute collection")
	}
	return g.store.Write(t, soa.PlacesOf(g.edgeAttrs, []db.Key{edgeID}),
		soa.ContentsOf([][]byte{blob}), 0)
}

// EdgeAttr loads the attribute blob of one edge.
func (g *Graph) EdgeAttr(t *txn.Txn, edgeID db.Key, a *arena.Arena) ([]byte, bool, error) {
	if !g.hasEdgeAttrs {
		return nil, false, status.Wrap(status.ErrUnsupported, "graph has no edge attribute collection")
	}
	lens, tape, err := g.store.Read(t, soa.PlacesOf(g.edgeAttrs, []db.Key{edgeID}), 0, a)
	if err != nil {
		return nil, false, err
	}
	if lens[0] == db.ValLenMissing {
		return nil, false, nil
	}
	return tape[:lens[0]], true, nil
}

func sortedVertices[V any](pending map[db.Key]V) []db.Key {
	vertices := make([]db.Key, 0, len(pending))
	for v := range pending {
		vertices = append(vertices, v)
	}
	sort.Slice(vertices, func(i, j int) bool { return vertices[i] < vertices[j] })
	return vertices
}
