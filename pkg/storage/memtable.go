package storage

// MemTable is the per-transaction mutable staging area (S2) for edge
// creations and tombstones. It accumulates a single transaction's graph
// mutations and is frozen into an immutable L0Run at commit time (or, on
// WAL replay, once per replayed transaction).
//
// Duplicate edge creates within a transaction are idempotent (inserting
// into a set keyed by EdgeKey). A tombstone recorded after a create in the
// same transaction wins: freezing keeps both sets, and readers of the run
// apply its tombstones before its edges, so the net visible effect of "create then tombstone" within one
// MemTable is "tombstoned" regardless of call order.
type MemTable struct {
	edges           map[EdgeKey]struct{}
	tombstonedNodes map[InternalNodeID]struct{}
	tombstonedEdges map[EdgeKey]struct{}
}

// NewMemTable returns an empty MemTable ready to accept mutations.
func NewMemTable() *MemTable {
	return &MemTable{
		edges:           make(map[EdgeKey]struct{}),
		tombstonedNodes: make(map[InternalNodeID]struct{}),
		tombstonedEdges: make(map[EdgeKey]struct{}),
	}
}

// CreateEdge stages an edge creation. Calling it twice with the same key
// is a no-op.
func (m *MemTable) CreateEdge(src InternalNodeID, rel RelTypeID, dst InternalNodeID) {
	m.edges[EdgeKey{Src: src, Rel: rel, Dst: dst}] = struct{}{}
}

// TombstoneNode stages a node tombstone.
func (m *MemTable) TombstoneNode(node InternalNodeID) {
	m.tombstonedNodes[node] = struct{}{}
}

// TombstoneEdge stages an edge tombstone.
func (m *MemTable) TombstoneEdge(src InternalNodeID, rel RelTypeID, dst InternalNodeID) {
	m.tombstonedEdges[EdgeKey{Src: src, Rel: rel, Dst: dst}] = struct{}{}
}

// IsEmpty reports whether this MemTable has no staged mutations at all;
// GraphEngine skips publishing a run for an empty MemTable.
func (m *MemTable) IsEmpty() bool {
	return len(m.edges) == 0 && len(m.tombstonedNodes) == 0 && len(m.tombstonedEdges) == 0
}

// FreezeIntoRun builds the immutable L0Run this MemTable's staged
// mutations represent, populating both the outgoing (edges-by-src) and
// incoming (edges-by-dst) adjacency indices.
func (m *MemTable) FreezeIntoRun() *L0Run {
	run := &L0Run{
		edgesBySrc:      make(map[InternalNodeID][]EdgeKey),
		edgesByDst:      make(map[InternalNodeID][]EdgeKey),
		tombstonedNodes: make(map[InternalNodeID]struct{}, len(m.tombstonedNodes)),
		tombstonedEdges: make(map[EdgeKey]struct{}, len(m.tombstonedEdges)),
	}

	for k := range m.edges {
		run.edgesBySrc[k.Src] = append(run.edgesBySrc[k.Src], k)
		run.edgesByDst[k.Dst] = append(run.edgesByDst[k.Dst], k)
	}
	for n := range m.tombstonedNodes {
		run.tombstonedNodes[n] = struct{}{}
	}
	for k := range m.tombstonedEdges {
		run.tombstonedEdges[k] = struct{}{}
	}

	return run
}

// IterEdges, IterTombstonedNodes, IterTombstonedEdges expose the staged
// mutations in an arbitrary but stable-for-this-call order, used by
// WriteTxn.Commit to append WAL records for everything this MemTable
// holds.
func (m *MemTable) IterEdges() []EdgeKey {
	out := make([]EdgeKey, 0, len(m.edges))
	for k := range m.edges {
		out = append(out, k)
	}
	return out
}

func (m *MemTable) IterTombstonedNodes() []InternalNodeID {
	out := make([]InternalNodeID, 0, len(m.tombstonedNodes))
	for n := range m.tombstonedNodes {
		out = append(out, n)
	}
	return out
}

func (m *MemTable) IterTombstonedEdges() []EdgeKey {
	out := make([]EdgeKey, 0, len(m.tombstonedEdges))
	for k := range m.tombstonedEdges {
		out = append(out, k)
	}
	return out
}
