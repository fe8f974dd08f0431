// Package graph maintains a property-graph index on top of the blob data
// plane. Every vertex owns one adjacency value in the index collection; all
// mutations are read-modify-write cycles under the current (possibly
// implicit) transaction, so the graph inherits the store's transactional
// guarantees. On engines without transactions a cycle runs under a
// graph-level mutex and lands as one atomic engine batch.
package graph

import (
	"github.com/eigerco/ustore/internal/soa"
	"github.com/eigerco/ustore/pkg/db"
)

// Role is a vertex's participation in an edge.
type Role uint8

const (
	RoleSource Role = 1 << iota
	RoleTarget
	RoleAny = RoleSource | RoleTarget
)

// DefaultEdgeID is the edge id of edges upserted without one. Passing it to
// Remove drops every edge between the pair regardless of id.
const DefaultEdgeID = db.KeyUnknown

// Edge is a directed or undirected connection between two vertices.
type Edge struct {
	Source db.Key
	Target db.Key
	ID     db.Key
}

// Edges is the SoA form of an edge batch: three parallel key columns. An
// absent id column broadcasts DefaultEdgeID.
type Edges struct {
	SourceIDs soa.Strided[db.Key]
	TargetIDs soa.Strided[db.Key]
	EdgeIDs   soa.Strided[db.Key]
	Count     int
}

// EdgesOf builds a dense batch from edge tuples.
func EdgesOf(list []Edge) Edges {
	sources := make([]db.Key, len(list))
	targets := make([]db.Key, len(list))
	ids := make([]db.Key, len(list))
	for i, e := range list {
		sources[i] = e.Source
		targets[i] = e.Target
		ids[i] = e.ID
	}
	return Edges{
		SourceIDs: soa.New(sources),
		TargetIDs: soa.New(targets),
		EdgeIDs:   soa.New(ids),
		Count:     len(list),
	}
}

func (e Edges) At(i int) Edge {
	return Edge{
		Source: e.SourceIDs.At(i),
		Target: e.TargetIDs.At(i),
		ID:     e.EdgeIDs.Or(i, DefaultEdgeID),
	}
}

// FindEdges is the SoA form of a batched vertex query. An absent roles
// column broadcasts RoleAny.
type FindEdges struct {
	Vertices soa.Strided[db.Key]
	Roles    soa.Strided[Role]
	Count    int
}

func (f FindEdges) At(i int) (db.Key, Role) {
	return f.Vertices.At(i), f.Roles.Or(i, RoleAny)
}
