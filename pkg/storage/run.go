package storage

// L0Run is the immutable, hash-indexed adjacency container produced by
// freezing one transaction's MemTable (S2). It is optimized for
// recently-written data: both edgesBySrc and edgesByDst are ordinary Go
// maps of slices, fast to build and fast enough to scan for one node's
// handful of edges. Compaction later folds many L0Runs into a packed
// L1Segment (see segment.go); NervusDB never mutates an L0Run in place
// once it is published by GraphEngine.
type L0Run struct {
	edgesBySrc      map[InternalNodeID][]EdgeKey
	edgesByDst      map[InternalNodeID][]EdgeKey
	tombstonedNodes map[InternalNodeID]struct{}
	tombstonedEdges map[EdgeKey]struct{}
}

// EdgesBySrc returns the (possibly empty) slice of edges in this run whose
// source is src. Callers must not mutate the returned slice. A node with
// no outgoing edges in this run yields an empty slice, never an error.
func (r *L0Run) EdgesBySrc(src InternalNodeID) []EdgeKey {
	return r.edgesBySrc[src]
}

// EdgesByDst mirrors EdgesBySrc for incoming adjacency.
func (r *L0Run) EdgesByDst(dst InternalNodeID) []EdgeKey {
	return r.edgesByDst[dst]
}

// IsNodeTombstoned reports whether node is tombstoned in this run.
func (r *L0Run) IsNodeTombstoned(node InternalNodeID) bool {
	_, ok := r.tombstonedNodes[node]
	return ok
}

// IsEdgeTombstoned reports whether k is tombstoned in this run.
func (r *L0Run) IsEdgeTombstoned(k EdgeKey) bool {
	_, ok := r.tombstonedEdges[k]
	return ok
}

// TombstonedNodes and TombstonedEdges expose this run's tombstone sets,
// used by the read path to merge them into the running blocked sets (see
// NeighborIterator in snapshot.go).
func (r *L0Run) TombstonedNodes() map[InternalNodeID]struct{} { return r.tombstonedNodes }
func (r *L0Run) TombstonedEdges() map[EdgeKey]struct{}        { return r.tombstonedEdges }

// IsEmpty reports whether this run carries no mutations at all.
func (r *L0Run) IsEmpty() bool {
	return len(r.edgesBySrc) == 0 && len(r.tombstonedNodes) == 0 && len(r.tombstonedEdges) == 0
}

// AllEdges returns every edge this run introduces.
func (r *L0Run) AllEdges() []EdgeKey {
	var out []EdgeKey
	for _, edges := range r.edgesBySrc {
		out = append(out, edges...)
	}
	return out
}
