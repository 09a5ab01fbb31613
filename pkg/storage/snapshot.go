package storage

// Snapshot is the read view the query executor consumes (S3): an ordered
// list of L0 runs (newest first) plus L1 segments, together with the
// shared IdMap (whose labels UpdateLabel can rewrite in place) and the property/interner/index
// collaborators. A Snapshot is a pure value: copying it shares the
// underlying runs/segments, and once created its view of runs/segments
// never changes even if the engine commits more transactions.
type Snapshot struct {
	runs     []*L0Run // newest first
	segments []*L1Segment

	idmap    *IdMap
	maxNode  InternalNodeID // node ids > maxNode are invisible to this snapshot
	props    PropertyStore
	interner Interner
	indexes  *IndexManager
}

func newSnapshot(runs []*L0Run, segments []*L1Segment, idmap *IdMap, maxNode InternalNodeID, props PropertyStore, interner Interner, indexes *IndexManager) *Snapshot {
	return &Snapshot{
		runs:     runs,
		segments: segments,
		idmap:    idmap,
		maxNode:  maxNode,
		props:    props,
		interner: interner,
		indexes:  indexes,
	}
}

// IsTombstonedNode reports whether id is tombstoned in any run visible to
// this snapshot. A node is never "un-tombstoned" by a later commit, so
// checking every run (rather than stopping at the first one mentioning
// it) is equivalent to checking only the newest — but a plain membership
// scan across runs is simplest and runs are few relative to edges.
func (s *Snapshot) IsTombstonedNode(id InternalNodeID) bool {
	for _, r := range s.runs {
		if r.IsNodeTombstoned(id) {
			return true
		}
	}
	return false
}

// Nodes enumerates every non-tombstoned InternalNodeID visible to this
// snapshot, in ascending order.
func (s *Snapshot) Nodes() []InternalNodeID {
	out := make([]InternalNodeID, 0, int(s.maxNode))
	for id := InternalNodeID(1); id <= s.maxNode; id++ {
		if !s.IsTombstonedNode(id) {
			out = append(out, id)
		}
	}
	return out
}

// NodeLabel returns the label id recorded for a node.
func (s *Snapshot) NodeLabel(id InternalNodeID) (LabelID, bool) {
	rec, ok := s.idmap.ResolveExternal(id)
	if !ok {
		return UnlabeledLabelID, false
	}
	return rec.Label, true
}

// ResolveNodeLabels returns the (zero-or-one) labels carried by a node.
// NervusDB's IdMap records a single label per node;
// ResolveNodeLabels exists as a plural-named accessor so the evaluator's
// `labels(n)` builtin has a natural list to hand back.
func (s *Snapshot) ResolveNodeLabels(id InternalNodeID) []LabelID {
	label, ok := s.NodeLabel(id)
	if !ok || label == UnlabeledLabelID {
		return nil
	}
	return []LabelID{label}
}

// ResolveExternal returns the external id for an internal node id.
func (s *Snapshot) ResolveExternal(id InternalNodeID) (ExternalID, bool) {
	rec, ok := s.idmap.ResolveExternal(id)
	if !ok {
		return 0, false
	}
	return rec.External, true
}

// LookupInternal returns the internal id mapped to an external id.
func (s *Snapshot) LookupInternal(external ExternalID) (InternalNodeID, bool) {
	id, ok := s.idmap.Lookup(external)
	if !ok || id > s.maxNode {
		return 0, false
	}
	return id, true
}

// --- label/rel-type resolution, delegated to the interner collaborator ---

func (s *Snapshot) ResolveLabelID(name string) (LabelID, bool)   { return s.interner.ResolveLabelID(name) }
func (s *Snapshot) ResolveLabelName(id LabelID) (string, bool)   { return s.interner.ResolveLabelName(id) }
func (s *Snapshot) ResolveRelTypeID(name string) (RelTypeID, bool) {
	return s.interner.ResolveRelTypeID(name)
}
func (s *Snapshot) ResolveRelTypeName(id RelTypeID) (string, bool) {
	return s.interner.ResolveRelTypeName(id)
}

// --- property accessors, delegated to the property collaborator ---

func (s *Snapshot) NodeProperty(id InternalNodeID, key string) (PropertyValue, bool, error) {
	return s.props.GetNodeProperty(id, key)
}
func (s *Snapshot) EdgeProperty(k EdgeKey, key string) (PropertyValue, bool, error) {
	return s.props.GetEdgeProperty(k, key)
}
func (s *Snapshot) NodeProperties(id InternalNodeID) (map[string]PropertyValue, error) {
	return s.props.NodeProperties(id)
}
func (s *Snapshot) EdgeProperties(k EdgeKey) (map[string]PropertyValue, error) {
	return s.props.EdgeProperties(k)
}

// LookupIndex resolves a label+property point lookup through the index
// manager.
func (s *Snapshot) LookupIndex(label LabelID, prop string, value PropertyValue) ([]InternalNodeID, bool) {
	return s.indexes.Lookup(label, prop, value)
}

// Indexes exposes the snapshot's index manager so the write path can
// create/maintain indices; it is not part of the read-only contract but
// is needed to wire CREATE INDEX-style statements end to end.
func (s *Snapshot) Indexes() *IndexManager { return s.indexes }

// --- neighbor iteration with lazy, per-run tombstone masking ---

// blockedOutgoing reports whether an outgoing edge e is masked: either its
// destination node, or the edge itself, has been tombstoned by a run at
// least as new as the one that introduced it.
func blockedOutgoing(e EdgeKey, blockedNodes map[InternalNodeID]struct{}, blockedEdges map[EdgeKey]struct{}) bool {
	if _, ok := blockedNodes[e.Dst]; ok {
		return true
	}
	_, ok := blockedEdges[e]
	return ok
}

// blockedIncoming mirrors blockedOutgoing for the incoming direction,
// where the pivot is dst and the "other" endpoint is src.
func blockedIncoming(e EdgeKey, blockedNodes map[InternalNodeID]struct{}, blockedEdges map[EdgeKey]struct{}) bool {
	if _, ok := blockedNodes[e.Src]; ok {
		return true
	}
	_, ok := blockedEdges[e]
	return ok
}

// NeighborIterator walks outgoing edges from a fixed src across a
// snapshot's runs (newest first) and then its L1 segments, masking
// tombstones lazily as each run is pulled. The state machine is pull-based
// rather than pre-scanning every run up front, so that a tombstoned pivot
// node stops iteration as early as possible.
type NeighborIterator struct {
	runs     []*L0Run
	segments []*L1Segment
	src      InternalNodeID
	rel      *RelTypeID

	runIdx       int
	currentEdges []EdgeKey
	edgeIdx      int

	segIdx          int
	currentSegEdges []EdgeKey
	segEdgeIdx      int

	blockedNodes map[InternalNodeID]struct{}
	blockedEdges map[EdgeKey]struct{}
	terminated   bool
}

// Neighbors returns an iterator over src's outgoing edges, optionally
// restricted to one relationship type.
func (s *Snapshot) Neighbors(src InternalNodeID, rel *RelTypeID) *NeighborIterator {
	return &NeighborIterator{
		runs:         s.runs,
		segments:     s.segments,
		src:          src,
		rel:          rel,
		blockedNodes: make(map[InternalNodeID]struct{}),
		blockedEdges: make(map[EdgeKey]struct{}),
	}
}

func (it *NeighborIterator) loadRun() {
	it.currentEdges = nil
	it.edgeIdx = 0

	if it.runIdx >= len(it.runs) {
		it.terminated = true
		return
	}
	run := it.runs[it.runIdx]

	for n := range run.TombstonedNodes() {
		it.blockedNodes[n] = struct{}{}
	}
	for e := range run.TombstonedEdges() {
		it.blockedEdges[e] = struct{}{}
	}

	if _, ok := it.blockedNodes[it.src]; ok {
		it.terminated = true
		return
	}

	it.currentEdges = run.EdgesBySrc(it.src)
}

func (it *NeighborIterator) loadSegment() {
	it.currentSegEdges = nil
	it.segEdgeIdx = 0
	if it.segIdx >= len(it.segments) {
		return
	}
	it.currentSegEdges = it.segments[it.segIdx].Neighbors(it.src, it.rel)
}

// Next returns the next visible outgoing edge, or ok=false when exhausted.
func (it *NeighborIterator) Next() (EdgeKey, bool) {
	if it.terminated {
		return EdgeKey{}, false
	}

	for {
		if it.edgeIdx >= len(it.currentEdges) {
			if it.runIdx < len(it.runs) {
				it.loadRun()
				it.runIdx++
				continue
			}
			if it.segEdgeIdx >= len(it.currentSegEdges) {
				if it.segIdx >= len(it.segments) {
					it.terminated = true
					return EdgeKey{}, false
				}
				it.loadSegment()
				it.segIdx++
				continue
			}
			e := it.currentSegEdges[it.segEdgeIdx]
			it.segEdgeIdx++
			if blockedOutgoing(e, it.blockedNodes, it.blockedEdges) {
				continue
			}
			return e, true
		}

		e := it.currentEdges[it.edgeIdx]
		it.edgeIdx++
		if it.rel != nil && e.Rel != *it.rel {
			continue
		}
		if blockedOutgoing(e, it.blockedNodes, it.blockedEdges) {
			continue
		}
		return e, true
	}
}

// IncomingNeighborIterator mirrors NeighborIterator for incoming adjacency.
type IncomingNeighborIterator struct {
	runs     []*L0Run
	segments []*L1Segment
	dst      InternalNodeID
	rel      *RelTypeID

	runIdx       int
	currentEdges []EdgeKey
	edgeIdx      int

	segIdx          int
	currentSegEdges []EdgeKey
	segEdgeIdx      int

	blockedNodes map[InternalNodeID]struct{}
	blockedEdges map[EdgeKey]struct{}
	terminated   bool
}

// IncomingNeighbors returns an iterator over dst's incoming edges,
// optionally restricted to one relationship type.
func (s *Snapshot) IncomingNeighbors(dst InternalNodeID, rel *RelTypeID) *IncomingNeighborIterator {
	return &IncomingNeighborIterator{
		runs:         s.runs,
		segments:     s.segments,
		dst:          dst,
		rel:          rel,
		blockedNodes: make(map[InternalNodeID]struct{}),
		blockedEdges: make(map[EdgeKey]struct{}),
	}
}

func (it *IncomingNeighborIterator) loadRun() {
	it.currentEdges = nil
	it.edgeIdx = 0

	if it.runIdx >= len(it.runs) {
		it.terminated = true
		return
	}
	run := it.runs[it.runIdx]

	for n := range run.TombstonedNodes() {
		it.blockedNodes[n] = struct{}{}
	}
	for e := range run.TombstonedEdges() {
		it.blockedEdges[e] = struct{}{}
	}

	if _, ok := it.blockedNodes[it.dst]; ok {
		it.terminated = true
		return
	}

	it.currentEdges = run.EdgesByDst(it.dst)
}

func (it *IncomingNeighborIterator) loadSegment() {
	it.currentSegEdges = nil
	it.segEdgeIdx = 0
	if it.segIdx >= len(it.segments) {
		return
	}
	it.currentSegEdges = it.segments[it.segIdx].IncomingNeighbors(it.dst, it.rel)
}

// Next returns the next visible incoming edge, or ok=false when exhausted.
func (it *IncomingNeighborIterator) Next() (EdgeKey, bool) {
	if it.terminated {
		return EdgeKey{}, false
	}

	for {
		if it.edgeIdx >= len(it.currentEdges) {
			if it.runIdx < len(it.runs) {
				it.loadRun()
				it.runIdx++
				continue
			}
			if it.segEdgeIdx >= len(it.currentSegEdges) {
				if it.segIdx >= len(it.segments) {
					it.terminated = true
					return EdgeKey{}, false
				}
				it.loadSegment()
				it.segIdx++
				continue
			}
			e := it.currentSegEdges[it.segEdgeIdx]
			it.segEdgeIdx++
			if blockedIncoming(e, it.blockedNodes, it.blockedEdges) {
				continue
			}
			return e, true
		}

		e := it.currentEdges[it.edgeIdx]
		it.edgeIdx++
		if it.rel != nil && e.Rel != *it.rel {
			continue
		}
		if blockedIncoming(e, it.blockedNodes, it.blockedEdges) {
			continue
		}
		return e, true
	}
}
