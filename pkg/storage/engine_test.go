package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	pagerPath string
	walPath   string
	props     *BadgerPropertyStore
	interner  *BadgerInterner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	props, err := OpenBadgerPropertyStore("")
	require.NoError(t, err)
	interner, err := OpenBadgerInterner("")
	require.NoError(t, err)
	t.Cleanup(func() {
		interner.Close()
		props.Close()
	})
	return &testEnv{
		pagerPath: filepath.Join(dir, "graph.ndb"),
		walPath:   filepath.Join(dir, "graph.wal"),
		props:     props,
		interner:  interner,
	}
}

func (e *testEnv) open(t *testing.T) *GraphEngine {
	t.Helper()
	engine, err := Open(EngineOptions{
		PagerPath: e.pagerPath,
		WALPath:   e.walPath,
		Props:     e.props,
		Interner:  e.interner,
	})
	require.NoError(t, err)
	return engine
}

func collectOutgoing(s *Snapshot, src InternalNodeID, rel *RelTypeID) []EdgeKey {
	var out []EdgeKey
	it := s.Neighbors(src, rel)
	for {
		e, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func collectIncoming(s *Snapshot, dst InternalNodeID, rel *RelTypeID) []EdgeKey {
	var out []EdgeKey
	it := s.IncomingNeighbors(dst, rel)
	for {
		e, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func TestCommitAndReadBack(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)
	defer engine.Close()

	txn := engine.BeginWrite()
	a, err := txn.CreateNode(100, 1)
	require.NoError(t, err)
	b, err := txn.CreateNode(200, 1)
	require.NoError(t, err)
	assert.Equal(t, InternalNodeID(1), a)
	assert.Equal(t, InternalNodeID(2), b)
	txn.CreateEdge(a, 5, b)
	require.NoError(t, txn.Commit())

	snap := engine.BeginRead()
	assert.Equal(t, []InternalNodeID{1, 2}, snap.Nodes())

	edges := collectOutgoing(snap, a, nil)
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeKey{Src: a, Rel: 5, Dst: b}, edges[0])

	incoming := collectIncoming(snap, b, nil)
	require.Len(t, incoming, 1)
	assert.Equal(t, edges[0], incoming[0])

	ext, ok := snap.ResolveExternal(a)
	require.True(t, ok)
	assert.Equal(t, ExternalID(100), ext)
	id, ok := snap.LookupInternal(200)
	require.True(t, ok)
	assert.Equal(t, b, id)
}

func TestReplayAfterReopen(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)

	txn := engine.BeginWrite()
	a, err := txn.CreateNode(100, 1)
	require.NoError(t, err)
	b, err := txn.CreateNode(200, 1)
	require.NoError(t, err)
	txn.CreateEdge(a, 5, b)
	require.NoError(t, txn.Commit())

	txn2 := engine.BeginWrite()
	txn2.TombstoneEdge(a, 5, b)
	require.NoError(t, txn2.Commit())

	require.NoError(t, engine.Close())

	// Reopen over the same files: WAL replay must reproduce the exact
	// same visible state — nodes present, edge created then tombstoned.
	engine2 := env.open(t)
	defer engine2.Close()

	snap := engine2.BeginRead()
	assert.Equal(t, []InternalNodeID{1, 2}, snap.Nodes())
	assert.Empty(t, collectOutgoing(snap, 1, nil))

	id, ok := engine2.LookupInternalID(100)
	require.True(t, ok)
	assert.Equal(t, InternalNodeID(1), id)
}

func TestSnapshotIsolation(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)
	defer engine.Close()

	txn := engine.BeginWrite()
	a, err := txn.CreateNode(1, 0)
	require.NoError(t, err)
	b, err := txn.CreateNode(2, 0)
	require.NoError(t, err)
	txn.CreateEdge(a, 7, b)
	require.NoError(t, txn.Commit())

	before := engine.BeginRead()

	txn2 := engine.BeginWrite()
	c, err := txn2.CreateNode(3, 0)
	require.NoError(t, err)
	txn2.CreateEdge(a, 7, c)
	txn2.TombstoneEdge(a, 7, b)
	require.NoError(t, txn2.Commit())

	after := engine.BeginRead()

	// The pre-commit snapshot neither sees the new edge nor loses the
	// tombstoned one.
	beforeEdges := collectOutgoing(before, a, nil)
	require.Len(t, beforeEdges, 1)
	assert.Equal(t, b, beforeEdges[0].Dst)
	assert.NotContains(t, before.Nodes(), c)

	afterEdges := collectOutgoing(after, a, nil)
	require.Len(t, afterEdges, 1)
	assert.Equal(t, c, afterEdges[0].Dst)
}

func TestTombstonedNodeMasksIncidentEdges(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)
	defer engine.Close()

	txn := engine.BeginWrite()
	a, err := txn.CreateNode(1, 0)
	require.NoError(t, err)
	b, err := txn.CreateNode(2, 0)
	require.NoError(t, err)
	txn.CreateEdge(a, 1, b)
	require.NoError(t, txn.Commit())

	between := engine.BeginRead()

	txn2 := engine.BeginWrite()
	txn2.TombstoneNode(b)
	require.NoError(t, txn2.Commit())

	after := engine.BeginRead()

	// The snapshot between commits still sees
	// one edge, the snapshot after the delete sees none.
	assert.Len(t, collectOutgoing(between, a, nil), 1)
	assert.Empty(t, collectOutgoing(after, a, nil))
	assert.True(t, after.IsTombstonedNode(b))
	assert.NotContains(t, after.Nodes(), b)
	assert.Contains(t, after.Nodes(), a)
}

func TestTombstonePivotTerminatesIteration(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)
	defer engine.Close()

	txn := engine.BeginWrite()
	a, err := txn.CreateNode(1, 0)
	require.NoError(t, err)
	b, err := txn.CreateNode(2, 0)
	require.NoError(t, err)
	txn.CreateEdge(a, 1, b)
	require.NoError(t, txn.Commit())

	txn2 := engine.BeginWrite()
	txn2.TombstoneNode(a)
	require.NoError(t, txn2.Commit())

	snap := engine.BeginRead()
	assert.Empty(t, collectOutgoing(snap, a, nil))
}

func TestDuplicateExternalIDRejected(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)
	defer engine.Close()

	txn := engine.BeginWrite()
	_, err := txn.CreateNode(42, 0)
	require.NoError(t, err)

	// Same external id twice within one transaction.
	_, err = txn.CreateNode(42, 0)
	assert.ErrorIs(t, err, ErrWALProtocol)
	require.NoError(t, txn.Commit())

	// Same external id against an already-committed node.
	txn2 := engine.BeginWrite()
	_, err = txn2.CreateNode(42, 0)
	assert.ErrorIs(t, err, ErrDuplicateExternalID)
	txn2.Rollback()
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)
	defer engine.Close()

	txn := engine.BeginWrite()
	a, err := txn.CreateNode(1, 0)
	require.NoError(t, err)
	txn.CreateEdge(a, 1, a)
	txn.Rollback()

	snap := engine.BeginRead()
	assert.Empty(t, snap.Nodes())
	_, ok := engine.LookupInternalID(1)
	assert.False(t, ok)

	// The reserved internal id is reissued to the next writer.
	txn2 := engine.BeginWrite()
	b, err := txn2.CreateNode(2, 0)
	require.NoError(t, err)
	assert.Equal(t, InternalNodeID(1), b)
	require.NoError(t, txn2.Commit())
}

func TestExternalIDsStayInjective(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)
	defer engine.Close()

	txn := engine.BeginWrite()
	for ext := ExternalID(1); ext <= 10; ext++ {
		_, err := txn.CreateNode(ext, 0)
		require.NoError(t, err)
	}
	require.NoError(t, txn.Commit())

	seen := make(map[InternalNodeID]ExternalID)
	for ext := ExternalID(1); ext <= 10; ext++ {
		id, ok := engine.LookupInternalID(ext)
		require.True(t, ok)
		prev, dup := seen[id]
		require.False(t, dup, "internal id %d mapped from both %d and %d", id, prev, ext)
		seen[id] = ext
	}
}

func TestCloseWhileWriteTxnLiveIsBusy(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)

	txn := engine.BeginWrite()
	assert.ErrorIs(t, engine.Close(), ErrBusy)

	txn.Rollback()
	assert.NoError(t, engine.Close())
}

func TestMemTableCreateThenTombstoneSettlesTombstoned(t *testing.T) {
	mem := NewMemTable()
	mem.CreateEdge(1, 2, 3)
	mem.TombstoneEdge(1, 2, 3)
	run := mem.FreezeIntoRun()

	assert.True(t, run.IsEdgeTombstoned(EdgeKey{Src: 1, Rel: 2, Dst: 3}))
	// The edge is still present in the adjacency index; readers consult
	// the tombstone set first, so the net effect is "tombstoned".
	assert.Len(t, run.EdgesBySrc(1), 1)
}

func TestMemTableDuplicateCreateIsIdempotent(t *testing.T) {
	mem := NewMemTable()
	mem.CreateEdge(1, 2, 3)
	mem.CreateEdge(1, 2, 3)
	run := mem.FreezeIntoRun()
	assert.Len(t, run.EdgesBySrc(1), 1)
}

func TestSnapshotConsultsInstalledSegments(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)
	defer engine.Close()

	txn := engine.BeginWrite()
	a, err := txn.CreateNode(1, 0)
	require.NoError(t, err)
	b, err := txn.CreateNode(2, 0)
	require.NoError(t, err)
	txn.CreateEdge(a, 1, b)
	require.NoError(t, txn.Commit())

	before := engine.BeginRead()

	// Simulate a compaction pass: fold the run's edges into a segment and
	// swap it in with no runs left.
	snap := engine.BeginRead()
	edges := collectOutgoing(snap, a, nil)
	seg := BuildL1Segment(edges)
	engine.InstallSegments(nil, []*L1Segment{seg})

	after := engine.BeginRead()
	got := collectOutgoing(after, a, nil)
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0].Dst)
	assert.Len(t, collectIncoming(after, b, nil), 1)

	// The pre-swap snapshot still reads its captured run list.
	assert.Len(t, collectOutgoing(before, a, nil), 1)

	// A later tombstone in a fresh run masks the segment edge.
	txn2 := engine.BeginWrite()
	txn2.TombstoneEdge(a, 1, b)
	require.NoError(t, txn2.Commit())
	assert.Empty(t, collectOutgoing(engine.BeginRead(), a, nil))
}

func TestL1SegmentServesSnapshotReads(t *testing.T) {
	seg := BuildL1Segment([]EdgeKey{
		{Src: 1, Rel: 1, Dst: 2},
		{Src: 1, Rel: 1, Dst: 3},
		{Src: 2, Rel: 1, Dst: 3},
		{Src: 1, Rel: 2, Dst: 4},
	})

	rel1 := RelTypeID(1)
	out := seg.Neighbors(1, &rel1)
	require.Len(t, out, 2)
	assert.Equal(t, InternalNodeID(2), out[0].Dst)
	assert.Equal(t, InternalNodeID(3), out[1].Dst)

	in := seg.IncomingNeighbors(3, nil)
	require.Len(t, in, 2)

	assert.Empty(t, seg.Neighbors(4, nil))
}
