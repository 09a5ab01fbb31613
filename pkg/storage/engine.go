package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// GraphEngine is the single point of entry for reading and writing a
// NervusDB graph. It owns the Pager, WAL, and IdMap,
// guards writers with a single mutex (S1: single-writer, multi-reader),
// and publishes each committed transaction's mutations as one more
// L0Run prepended to an immutable, shared run list so that readers never
// block on a writer and never observe a partial commit.
type GraphEngine struct {
	pager *Pager
	wal   *WAL
	idmap *IdMap

	props    PropertyStore
	interner Interner
	indexes  *IndexManager

	runsMu   sync.RWMutex
	runs     []*L0Run // newest first
	segments []*L1Segment

	writeMu sync.Mutex
	nextTx  uint64

	// mintCounter backs MintExternalID, the synthetic-external-id source
	// CREATE/MERGE use for nodes the query has no caller-supplied id for.
	// Open seeds it from the highest synthetic id already in the IdMap so
	// minted ids are not reissued after a reopen; the sentinel bit keeps
	// them apart from caller-chosen ids.
	mintCounter uint64
}

// syntheticExternalBit marks an ExternalID as engine-minted (CREATE/MERGE)
// rather than caller-supplied, so the two id spaces never collide.
const syntheticExternalBit ExternalID = 1 << 63

// MintExternalID returns a fresh ExternalID for a node the query compiler
// creates without an explicit caller-chosen id (CREATE, MERGE's
// not-found branch). Minted ids are drawn from the upper half of the u64
// space and never reused.
func (g *GraphEngine) MintExternalID() ExternalID {
	return syntheticExternalBit | ExternalID(atomic.AddUint64(&g.mintCounter, 1))
}

// Properties exposes the engine's property collaborator so the query
// write path can issue SET/REMOVE property mutations directly.
func (g *GraphEngine) Properties() PropertyStore { return g.props }

// Interner exposes the engine's label/rel-type interner for the write
// path (CREATE/MERGE minting labels and relationship types).
func (g *GraphEngine) Interner() Interner { return g.interner }

// Indexes exposes the engine's index manager for the write path
// (maintaining indexed properties as CREATE/SET/MERGE touch them).
func (g *GraphEngine) Indexes() *IndexManager { return g.indexes }

// EngineOptions bundles the paths and collaborators GraphEngine needs at
// open time. PropertyStore/Interner/IndexManager are accepted rather than
// constructed internally so callers (and tests) can substitute
// in-memory Badger instances or, in principle, any other implementation
// of the collaborator interfaces.
type EngineOptions struct {
	PagerPath string
	WALPath   string
	Props     PropertyStore
	Interner  Interner
	Indexes   *IndexManager
}

// Open opens (or creates) the page file and WAL at the given paths,
// replays any committed-but-not-yet-published transactions from the WAL,
// and returns a ready-to-use GraphEngine. Replay is all-or-nothing per
// transaction: a WAL tail that ends mid-transaction (crash before fsync)
// is silently discarded, never partially applied.
func Open(opts EngineOptions) (*GraphEngine, error) {
	pager, err := OpenPager(opts.PagerPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open pager: %w", err)
	}

	wal, err := OpenWAL(opts.WALPath)
	if err != nil {
		pager.Close()
		return nil, fmt.Errorf("storage: open wal: %w", err)
	}

	idmap, err := LoadIdMap(pager)
	if err != nil {
		wal.Close()
		pager.Close()
		return nil, fmt.Errorf("storage: load idmap: %w", err)
	}

	committed, err := wal.ReplayCommitted()
	if err != nil {
		wal.Close()
		pager.Close()
		return nil, fmt.Errorf("storage: replay wal: %w", err)
	}

	runs, err := replayGraphTransactions(pager, idmap, committed)
	if err != nil {
		wal.Close()
		pager.Close()
		return nil, err
	}

	// committed is oldest-first; runs was appended in that order, so
	// reverse once to present newest-first to the read path.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}

	indexes := opts.Indexes
	if indexes == nil {
		indexes = NewIndexManager()
	}

	var minted uint64
	for _, rec := range idmap.i2e[1:] {
		if rec.External&syntheticExternalBit != 0 {
			if n := uint64(rec.External &^ syntheticExternalBit); n > minted {
				minted = n
			}
		}
	}

	return &GraphEngine{
		pager:    pager,
		wal:      wal,
		idmap:    idmap,
		props:    opts.Props,
		interner: opts.Interner,
		indexes:  indexes,
		runs:        runs,
		nextTx:      1,
		mintCounter: minted,
	}, nil
}

// replayGraphTransactions rebuilds one L0Run per committed WAL
// transaction, applying CreateNode records to idmap as it goes (so later
// transactions in the same replay can already see earlier nodes) and
// folding CreateEdge/TombstoneNode/TombstoneEdge records into that
// transaction's MemTable. A CreateNode whose external id is already
// mapped is treated as an idempotent replay of an already-applied commit
// as long as the internal id matches; a mismatch indicates WAL corruption
// distinct from a truncated tail and is reported rather than silently
// dropped.
func replayGraphTransactions(pager *Pager, idmap *IdMap, committed []CommittedTx) ([]*L0Run, error) {
	var out []*L0Run

	for _, tx := range committed {
		mem := NewMemTable()

		for _, op := range tx.Ops {
			switch op.Tag {
			case TagCreateNode:
				if existing, ok := idmap.Lookup(op.External); ok {
					if existing != op.Internal {
						return nil, fmt.Errorf("%w: remapped during replay", ErrIDMapMismatch)
					}
					continue
				}
				if err := idmap.ApplyCreateNode(op.External, op.Label, op.Internal); err != nil {
					return nil, err
				}
			case TagCreateEdge:
				mem.CreateEdge(op.Src, op.Rel, op.Dst)
			case TagTombstoneNode:
				mem.TombstoneNode(op.Node)
			case TagTombstoneEdge:
				mem.TombstoneEdge(op.Src, op.Rel, op.Dst)
			case TagBeginTx, TagCommitTx:
				// framing only, no graph effect
			}
		}

		run := mem.FreezeIntoRun()
		if !run.IsEmpty() {
			out = append(out, run)
		}
	}

	return out, nil
}

// Close flushes and closes the WAL and page file. Closing while a write
// transaction is live is refused with ErrBusy rather than yanking the WAL
// out from under an in-flight commit. The property store and interner are
// owned by the caller that constructed EngineOptions and are not closed
// here.
func (g *GraphEngine) Close() error {
	if !g.writeMu.TryLock() {
		return ErrBusy
	}
	defer g.writeMu.Unlock()
	if err := g.wal.Close(); err != nil {
		return err
	}
	return g.pager.Close()
}

// BeginRead returns a point-in-time Snapshot over the engine's current
// published runs and segments. The snapshot's run list is captured under
// a read lock and is never mutated afterward, even as later writers
// publish further runs — the lock-free-read, consistent-snapshot
// guarantee.
func (g *GraphEngine) BeginRead() *Snapshot {
	g.runsMu.RLock()
	runs := g.runs
	segments := g.segments
	g.runsMu.RUnlock()

	maxNode := InternalNodeID(g.idmap.NextInternalID() - 1)
	return newSnapshot(runs, segments, g.idmap, maxNode, g.props, g.interner, g.indexes)
}

// LookupInternalID resolves an external id to its internal id, if it has
// been created. Unlike Snapshot.LookupInternal this consults the engine's
// live IdMap rather than a captured snapshot bound, which is what
// WriteTxn.CreateNode needs to detect collisions against nodes created by
// already-committed transactions.
func (g *GraphEngine) LookupInternalID(external ExternalID) (InternalNodeID, bool) {
	return g.idmap.Lookup(external)
}

// InstallSegments replaces the engine's published L0 runs and L1 segments
// in one swap. The compaction pass that folds runs into segments is an
// external collaborator; it hands its output here, and
// snapshots taken before the swap keep reading the run list they captured.
func (g *GraphEngine) InstallSegments(runs []*L0Run, segments []*L1Segment) {
	g.runsMu.Lock()
	defer g.runsMu.Unlock()
	g.runs = runs
	g.segments = segments
}

// UpdateNodeLabel rewrites a node's recorded label (SET n:Label / REMOVE
// n:Label). Label changes are persisted through the pager directly rather
// than the WAL, like IdMap creation applies.
func (g *GraphEngine) UpdateNodeLabel(id InternalNodeID, label LabelID) error {
	return g.idmap.UpdateLabel(id, label)
}

func (g *GraphEngine) publishRun(run *L0Run) {
	g.runsMu.Lock()
	defer g.runsMu.Unlock()
	next := make([]*L0Run, 0, len(g.runs)+1)
	next = append(next, run)
	next = append(next, g.runs...)
	g.runs = next
}

// pendingNode is one not-yet-committed node creation staged by a
// WriteTxn, carrying the reserved internal id it will receive at commit.
type pendingNode struct {
	external ExternalID
	label    LabelID
	internal InternalNodeID
}

// WriteTxn is the single in-flight writer. Only one
// WriteTxn can exist at a time per engine: BeginWrite blocks until any
// prior WriteTxn commits or is abandoned. A WriteTxn that is never
// committed leaves no trace: nothing is appended to the WAL and no run is
// published until Commit runs.
type WriteTxn struct {
	engine *GraphEngine
	txid   uint64

	created  []pendingNode
	memtable *MemTable

	committed bool
}

// BeginWrite acquires the engine's write lock and returns a WriteTxn
// ready to accept mutations. The lock is released by Commit; callers that
// abandon a WriteTxn without committing must call Rollback to release
// the lock.
func (g *GraphEngine) BeginWrite() *WriteTxn {
	g.writeMu.Lock()
	txid := g.nextTx
	g.nextTx++
	return &WriteTxn{
		engine:   g,
		txid:     txid,
		memtable: NewMemTable(),
	}
}

// CreateNode stages a node creation, reserving its internal id
// immediately so later staged operations in the same transaction (edges,
// tombstones) can reference it before Commit runs. Internal ids are
// reserved in strict ascending order starting from the IdMap's next free
// id, offset by how many nodes this transaction has already staged — so
// the Nth node created in a transaction gets base+N-1.
func (t *WriteTxn) CreateNode(external ExternalID, label LabelID) (InternalNodeID, error) {
	for _, n := range t.created {
		if n.external == external {
			return 0, fmt.Errorf("%w: duplicate external id in same transaction", ErrWALProtocol)
		}
	}
	if _, ok := t.engine.LookupInternalID(external); ok {
		return 0, fmt.Errorf("%w: external id already exists", ErrDuplicateExternalID)
	}

	base := t.engine.idmap.NextInternalID()
	internal := InternalNodeID(base + uint32(len(t.created)))
	t.created = append(t.created, pendingNode{external: external, label: label, internal: internal})
	return internal, nil
}

// CreateEdge stages an edge creation.
func (t *WriteTxn) CreateEdge(src InternalNodeID, rel RelTypeID, dst InternalNodeID) {
	t.memtable.CreateEdge(src, rel, dst)
}

// TombstoneNode stages a node tombstone.
func (t *WriteTxn) TombstoneNode(node InternalNodeID) {
	t.memtable.TombstoneNode(node)
}

// TombstoneEdge stages an edge tombstone.
func (t *WriteTxn) TombstoneEdge(src InternalNodeID, rel RelTypeID, dst InternalNodeID) {
	t.memtable.TombstoneEdge(src, rel, dst)
}

// Rollback abandons the transaction without appending anything to the
// WAL or publishing a run, and releases the writer lock. After Rollback
// the reserved internal ids are simply never applied to the IdMap, so
// they are reissued to the next transaction.
func (t *WriteTxn) Rollback() {
	if t.committed {
		return
	}
	t.committed = true
	t.engine.writeMu.Unlock()
}

// Commit durably records this transaction and publishes its effects to
// the read path: WAL
// append of every staged operation, fsync, THEN apply to the IdMap and
// publish the frozen run. Readers that began before Commit returns never
// observe any of this transaction's mutations; readers that begin after
// observe all of them — there is no partially-visible state.
func (t *WriteTxn) Commit() error {
	defer t.engine.writeMu.Unlock()
	if t.committed {
		return nil
	}
	t.committed = true

	run := t.memtable.FreezeIntoRun()

	if err := t.engine.wal.Append(WalRecord{Tag: TagBeginTx, TxID: int64(t.txid)}); err != nil {
		return err
	}
	for _, n := range t.created {
		err := t.engine.wal.Append(WalRecord{
			Tag:      TagCreateNode,
			External: n.external,
			Label:    n.label,
			Internal: n.internal,
		})
		if err != nil {
			return err
		}
	}
	for _, e := range t.memtable.IterEdges() {
		err := t.engine.wal.Append(WalRecord{Tag: TagCreateEdge, Src: e.Src, Rel: e.Rel, Dst: e.Dst})
		if err != nil {
			return err
		}
	}
	for _, n := range t.memtable.IterTombstonedNodes() {
		if err := t.engine.wal.Append(WalRecord{Tag: TagTombstoneNode, Node: n}); err != nil {
			return err
		}
	}
	for _, e := range t.memtable.IterTombstonedEdges() {
		err := t.engine.wal.Append(WalRecord{Tag: TagTombstoneEdge, Src: e.Src, Rel: e.Rel, Dst: e.Dst})
		if err != nil {
			return err
		}
	}
	if err := t.engine.wal.Append(WalRecord{Tag: TagCommitTx, TxID: int64(t.txid)}); err != nil {
		return err
	}
	if err := t.engine.wal.Fsync(); err != nil {
		return err
	}

	for _, n := range t.created {
		if err := t.engine.idmap.ApplyCreateNode(n.external, n.label, n.internal); err != nil {
			return err
		}
	}

	if !run.IsEmpty() {
		t.engine.publishRun(run)
	}

	return nil
}
