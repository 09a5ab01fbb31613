package query

import (
	"sort"
	"time"

	"github.com/nervusdb/nervusdb/pkg/ast"
	"github.com/nervusdb/nervusdb/pkg/planner"
	"github.com/nervusdb/nervusdb/pkg/storage"
)

// PlanIterator is the streaming execution interface (Q2): Next returns
// the next row, or (nil, nil) when the stream is exhausted. The first
// error short-circuits the stream; callers must not call Next again after
// either terminal state.
type PlanIterator interface {
	Next() (*Row, error)
}

// Executor builds PlanIterators over a snapshot. One Executor serves one
// execution of one prepared query: it owns the Guard whose timeout clock
// started when execution began, and the Evaluator shared by every stage.
type Executor struct {
	snap   Snapshot
	params *Params
	guard  *Guard
	ev     *Evaluator
}

// NewExecutor returns an executor whose resource-limit clock starts now.
func NewExecutor(snap Snapshot, params *Params) *Executor {
	guard := NewGuard(params.Limits, time.Now())
	return &Executor{
		snap:   snap,
		params: params,
		guard:  guard,
		ev:     NewEvaluator(snap, guard),
	}
}

// Build compiles a plan subtree into a runnable iterator, wrapping every
// stage in the runtime guard.
func (ex *Executor) Build(p *planner.Plan) (PlanIterator, error) {
	return ex.buildWith(p, nil)
}

// buildWith is Build with an optional input override: when override is
// non-nil it is used in place of p.Input's own iterator. Write
// orchestration uses this to splice post-mutation rows back under a
// read-shape node (the Values staging step of write orchestration).
func (ex *Executor) buildWith(p *planner.Plan, override PlanIterator) (PlanIterator, error) {
	if p == nil {
		return &returnOneIterator{}, nil
	}

	input := override
	if input == nil && p.Input != nil {
		child, err := ex.Build(p.Input)
		if err != nil {
			return nil, err
		}
		input = child
	}

	var it PlanIterator
	switch p.Kind {
	case planner.PlanReturnOne:
		it = &returnOneIterator{}

	case planner.PlanNodeScan:
		it = &nodeScanIterator{ex: ex, plan: p}

	case planner.PlanMatchOut, planner.PlanMatchIn, planner.PlanMatchUndirected, planner.PlanMatchBoundRel:
		it = &matchIterator{ex: ex, plan: p, input: orReturnOne(input)}

	case planner.PlanMatchOutVarLen:
		it = &varLenIterator{ex: ex, plan: p, input: orReturnOne(input)}

	case planner.PlanFilter:
		it = &filterIterator{ex: ex, pred: p.Predicate, input: orReturnOne(input)}

	case planner.PlanOptionalWhereFixup:
		outer, err := ex.Build(p.Outer)
		if err != nil {
			return nil, err
		}
		filtered, err := ex.Build(p.Filtered)
		if err != nil {
			return nil, err
		}
		it = &optionalFixupIterator{ex: ex, outer: outer, filtered: filtered, nullAliases: p.NullAliases}

	case planner.PlanProject:
		it = &projectIterator{ex: ex, items: p.Projections, input: orReturnOne(input)}

	case planner.PlanAggregate:
		it = &aggregateIterator{ex: ex, plan: p, input: orReturnOne(input)}

	case planner.PlanOrderBy:
		it = &orderByIterator{ex: ex, items: p.OrderItems, input: orReturnOne(input)}

	case planner.PlanSkip:
		it = &skipIterator{ex: ex, countExpr: p.CountExpr, input: orReturnOne(input)}

	case planner.PlanLimit:
		it = &limitIterator{ex: ex, countExpr: p.CountExpr, input: orReturnOne(input)}

	case planner.PlanDistinct:
		it = &distinctIterator{input: orReturnOne(input), seen: make(map[string]struct{})}

	case planner.PlanUnwind:
		it = &unwindIterator{ex: ex, expr: p.UnwindExpr, alias: p.DstAlias, input: orReturnOne(input)}

	case planner.PlanUnion:
		left, err := ex.Build(p.Left)
		if err != nil {
			return nil, err
		}
		right, err := ex.Build(p.Right)
		if err != nil {
			return nil, err
		}
		it = &unionIterator{left: left, right: right}

	case planner.PlanApply:
		it = &applyIterator{ex: ex, subquery: p.Subquery, input: orReturnOne(input)}

	case planner.PlanProcedureCall:
		it = &procedureIterator{ex: ex, plan: p, input: orReturnOne(input)}

	case planner.PlanIndexSeek:
		it = &indexSeekIterator{ex: ex, plan: p}

	case planner.PlanCartesianProduct:
		rightPlan := p.Right2
		it = &cartesianIterator{ex: ex, left: orReturnOne(input), rightPlan: rightPlan}

	case planner.PlanValues:
		it = &valuesIterator{ex: ex, rows: p.Rows}

	default:
		if p.IsWriteNode() {
			return nil, execErr("write clause %s cannot run in a read-only execution", p.Kind)
		}
		return nil, execErr("unsupported plan node %s", p.Kind)
	}

	return &guardedIterator{inner: it, guard: ex.guard, stage: p.Kind.String()}, nil
}

func orReturnOne(it PlanIterator) PlanIterator {
	if it == nil {
		return &returnOneIterator{}
	}
	return it
}

// guardedIterator is the executor's runtime guard: every Next
// checks the wall-clock budget, and every emitted row counts against the
// per-stage intermediate-row cap.
type guardedIterator struct {
	inner PlanIterator
	guard *Guard
	stage string
	done  bool
}

func (g *guardedIterator) Next() (*Row, error) {
	if g.done {
		return nil, nil
	}
	if err := g.guard.CheckTimeout(g.stage); err != nil {
		g.done = true
		return nil, err
	}
	row, err := g.inner.Next()
	if err != nil {
		g.done = true
		return nil, err
	}
	if row == nil {
		g.done = true
		return nil, nil
	}
	if err := g.guard.CountRow(g.stage); err != nil {
		g.done = true
		return nil, err
	}
	return row, nil
}

// returnOneIterator emits a single empty row, the identity input for
// queries with no MATCH (`RETURN 1`, a bare CREATE, ...).
type returnOneIterator struct{ emitted bool }

func (it *returnOneIterator) Next() (*Row, error) {
	if it.emitted {
		return nil, nil
	}
	it.emitted = true
	return NewRow(), nil
}

// sliceIterator replays a materialized row slice; write orchestration
// splices staged rows back into a pipeline through it, and EXPLAIN uses
// it as an empty stream.
type sliceIterator struct {
	rows []*Row
	pos  int
}

func newSliceIterator(rows []*Row) *sliceIterator { return &sliceIterator{rows: rows} }

func (it *sliceIterator) Next() (*Row, error) {
	if it.pos >= len(it.rows) {
		return nil, nil
	}
	r := it.rows[it.pos]
	it.pos++
	return r, nil
}

// drain materializes an iterator, bounded by the guard that already wraps
// every stage (the caller's stage counter fires before this can run away).
func drain(it PlanIterator) ([]*Row, error) {
	var out []*Row
	for {
		row, err := it.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return out, nil
		}
		out = append(out, row)
	}
}

// --- NodeScan ---

type nodeScanIterator struct {
	ex   *Executor
	plan *planner.Plan

	ids     []storage.InternalNodeID
	loaded  bool
	pos     int
	labelID storage.LabelID
	byLabel bool
}

func (it *nodeScanIterator) load() {
	it.loaded = true
	it.ids = it.ex.snap.Nodes()
	if it.plan.Label != "" {
		id, ok := it.ex.snap.ResolveLabelID(it.plan.Label)
		if !ok {
			it.ids = nil
			return
		}
		it.labelID = id
		it.byLabel = true
	}
}

func (it *nodeScanIterator) Next() (*Row, error) {
	if !it.loaded {
		it.load()
	}
	for it.pos < len(it.ids) {
		id := it.ids[it.pos]
		it.pos++
		if it.byLabel {
			label, ok := it.ex.snap.NodeLabel(id)
			if !ok || label != it.labelID {
				continue
			}
		}
		row := NewRow()
		if it.plan.Alias != "" {
			row.Set(it.plan.Alias, NodeIDValue(id))
		}
		return row, nil
	}
	return nil, nil
}

// --- IndexSeek ---

type indexSeekIterator struct {
	ex   *Executor
	plan *planner.Plan

	resolved bool
	ids      []storage.InternalNodeID
	pos      int
	fallback PlanIterator
}

func (it *indexSeekIterator) resolve() error {
	it.resolved = true
	labelID, ok := it.ex.snap.ResolveLabelID(it.plan.IndexLabel)
	if !ok {
		return it.useFallback()
	}
	v, err := it.ex.ev.Eval(it.plan.IndexValueExp, NewRow(), it.ex.params)
	if err != nil {
		return err
	}
	pv, err := ToPropertyValue(v)
	if err != nil {
		return err
	}
	ids, ok := it.ex.snap.LookupIndex(labelID, it.plan.IndexField, pv)
	if !ok {
		return it.useFallback()
	}
	it.ids = ids
	return nil
}

func (it *indexSeekIterator) useFallback() error {
	fb, err := it.ex.Build(it.plan.Fallback)
	if err != nil {
		return err
	}
	it.fallback = fb
	return nil
}

func (it *indexSeekIterator) Next() (*Row, error) {
	if !it.resolved {
		if err := it.resolve(); err != nil {
			return nil, err
		}
	}
	if it.fallback != nil {
		return it.fallback.Next()
	}
	for it.pos < len(it.ids) {
		id := it.ids[it.pos]
		it.pos++
		if it.ex.snap.IsTombstonedNode(id) {
			continue
		}
		row := NewRow()
		row.Set(it.plan.Alias, NodeIDValue(id))
		return row, nil
	}
	return nil, nil
}

// --- MatchOut / MatchIn / MatchUndirected ---

// matchIterator expands one relationship hop per outer row: pull an outer
// row, resolve the source binding, stream its (direction-appropriate)
// neighbors, and emit one extended row per matching edge. OPTIONAL
// variants track whether the current outer row produced any extension and
// emit a null-extended row when it did not (OPTIONAL MATCH NULL-fixup).
type matchIterator struct {
	ex    *Executor
	plan  *planner.Plan
	input PlanIterator

	pending   []*Row
	pendIdx   int
	exhausted bool
}

func (it *matchIterator) Next() (*Row, error) {
	for {
		if it.pendIdx < len(it.pending) {
			r := it.pending[it.pendIdx]
			it.pendIdx++
			return r, nil
		}
		if it.exhausted {
			return nil, nil
		}
		outer, err := it.input.Next()
		if err != nil {
			return nil, err
		}
		if outer == nil {
			it.exhausted = true
			return nil, nil
		}
		pending, err := it.expand(outer)
		if err != nil {
			return nil, err
		}
		it.pending = pending
		it.pendIdx = 0
	}
}

func (it *matchIterator) relFilter() (*storage.RelTypeID, bool) {
	if len(it.plan.RelTypes) != 1 {
		return nil, true
	}
	id, ok := it.ex.snap.ResolveRelTypeID(it.plan.RelTypes[0])
	if !ok {
		// Unknown relationship type: nothing can match.
		return nil, false
	}
	return &id, true
}

func (it *matchIterator) relTypeAllowed(rel storage.RelTypeID) bool {
	if len(it.plan.RelTypes) <= 1 {
		return true
	}
	for _, name := range it.plan.RelTypes {
		if id, ok := it.ex.snap.ResolveRelTypeID(name); ok && id == rel {
			return true
		}
	}
	return false
}

func (it *matchIterator) dstMatches(dst storage.InternalNodeID) bool {
	if len(it.plan.DstLabels) == 0 {
		return true
	}
	label, _ := it.ex.snap.NodeLabel(dst)
	for _, want := range it.plan.DstLabels {
		id, ok := it.ex.snap.ResolveLabelID(want)
		if !ok || id != label {
			return false
		}
	}
	return true
}

func (it *matchIterator) expand(outer *Row) ([]*Row, error) {
	var out []*Row
	src, srcBound := outer.GetNode(it.plan.SrcAlias)

	relFilter, possible := it.relFilter()
	if srcBound && possible {
		// Pre-bound destination or edge aliases act as filters rather
		// than re-binding (chained patterns sharing a variable).
		boundDst, dstPre := outer.GetNode(it.plan.DstAlias)
		var boundEdge *storage.EdgeKey
		if it.plan.RelHasAlias {
			if v, ok := outer.Get(it.plan.RelAlias); ok && v.Kind == VKEdgeKey {
				k := v.EdgeKey
				boundEdge = &k
			}
		}

		emit := func(e storage.EdgeKey, other storage.InternalNodeID) {
			if !it.relTypeAllowed(e.Rel) {
				return
			}
			if !it.dstMatches(other) {
				return
			}
			if dstPre && other != boundDst {
				return
			}
			if boundEdge != nil && e != *boundEdge {
				return
			}
			ext := outer.Clone()
			if it.plan.DstAlias != "" && !dstPre {
				ext.Set(it.plan.DstAlias, NodeIDValue(other))
			}
			if it.plan.RelHasAlias && boundEdge == nil {
				ext.Set(it.plan.RelAlias, EdgeKeyValue(e))
			}
			if it.plan.PathAlias != "" {
				ext.Set(it.plan.PathAlias, extendPath(outer, it.plan.PathAlias, src, e, other))
			}
			out = append(out, ext)
		}

		switch it.plan.Kind {
		case planner.PlanMatchOut, planner.PlanMatchBoundRel:
			iter := it.ex.snap.Neighbors(src, relFilter)
			for {
				e, ok := iter.Next()
				if !ok {
					break
				}
				emit(e, e.Dst)
			}
		case planner.PlanMatchIn:
			iter := it.ex.snap.IncomingNeighbors(src, relFilter)
			for {
				e, ok := iter.Next()
				if !ok {
					break
				}
				emit(e, e.Src)
			}
		case planner.PlanMatchUndirected:
			seen := make(map[storage.EdgeKey]struct{})
			iter := it.ex.snap.Neighbors(src, relFilter)
			for {
				e, ok := iter.Next()
				if !ok {
					break
				}
				seen[e] = struct{}{}
				emit(e, e.Dst)
			}
			inIter := it.ex.snap.IncomingNeighbors(src, relFilter)
			for {
				e, ok := inIter.Next()
				if !ok {
					break
				}
				if _, dup := seen[e]; dup {
					continue
				}
				emit(e, e.Src)
			}
		}
	}

	if len(out) == 0 && it.plan.Optional {
		ext := outer.Clone()
		for _, alias := range it.plan.OptionalUnbind {
			ext.Set(alias, Null)
		}
		out = append(out, ext)
	}
	return out, nil
}

// extendPath grows the row's bound path (if any) by one hop, or starts a
// fresh two-node path.
func extendPath(outer *Row, alias string, src storage.InternalNodeID, e storage.EdgeKey, dst storage.InternalNodeID) Value {
	if v, ok := outer.Get(alias); ok && v.Kind == VKPath {
		p := &Path{
			Nodes: append(append([]storage.InternalNodeID{}, v.ReifiedPath.Nodes...), dst),
			Edges: append(append([]storage.EdgeKey{}, v.ReifiedPath.Edges...), e),
		}
		return PathValue(p)
	}
	return PathValue(&Path{Nodes: []storage.InternalNodeID{src, dst}, Edges: []storage.EdgeKey{e}})
}

// --- MatchOutVarLen ---

// varLenIterator performs the bounded variable-length DFS: each EdgeKey
// is used at most once per path, and a row is emitted at every depth
// within [min, max] whose endpoint satisfies the destination pattern.
type varLenIterator struct {
	ex    *Executor
	plan  *planner.Plan
	input PlanIterator

	pending   []*Row
	pendIdx   int
	exhausted bool
}

const varLenDefaultCap = int(^uint32(0) >> 1)

func (it *varLenIterator) Next() (*Row, error) {
	for {
		if it.pendIdx < len(it.pending) {
			r := it.pending[it.pendIdx]
			it.pendIdx++
			return r, nil
		}
		if it.exhausted {
			return nil, nil
		}
		outer, err := it.input.Next()
		if err != nil {
			return nil, err
		}
		if outer == nil {
			it.exhausted = true
			return nil, nil
		}
		pending, err := it.expand(outer)
		if err != nil {
			return nil, err
		}
		it.pending = pending
		it.pendIdx = 0
	}
}

func (it *varLenIterator) expand(outer *Row) ([]*Row, error) {
	var out []*Row
	src, ok := outer.GetNode(it.plan.SrcAlias)
	if !ok {
		if it.plan.Optional {
			ext := outer.Clone()
			for _, alias := range it.plan.OptionalUnbind {
				ext.Set(alias, Null)
			}
			return []*Row{ext}, nil
		}
		return nil, nil
	}

	maxHops := varLenDefaultCap
	if it.plan.MaxHops != nil {
		maxHops = *it.plan.MaxHops
	}
	minHops := it.plan.MinHops

	var relFilter *storage.RelTypeID
	if len(it.plan.RelTypes) == 1 {
		id, ok := it.ex.snap.ResolveRelTypeID(it.plan.RelTypes[0])
		if !ok {
			return it.maybeOptional(outer, out), nil
		}
		relFilter = &id
	}

	usedEdges := make(map[storage.EdgeKey]struct{})
	pathNodes := []storage.InternalNodeID{src}
	var pathEdges []storage.EdgeKey

	var dfs func(current storage.InternalNodeID, depth int) error
	dfs = func(current storage.InternalNodeID, depth int) error {
		if depth >= minHops {
			if it.dstMatches(current) {
				ext := outer.Clone()
				if it.plan.DstAlias != "" {
					ext.Set(it.plan.DstAlias, NodeIDValue(current))
				}
				if it.plan.RelAlias != "" {
					edges := make([]Value, len(pathEdges))
					for i, e := range pathEdges {
						edges[i] = EdgeKeyValue(e)
					}
					ext.Set(it.plan.RelAlias, ListValue(edges))
				}
				if it.plan.PathAlias != "" {
					p := &Path{
						Nodes: append([]storage.InternalNodeID{}, pathNodes...),
						Edges: append([]storage.EdgeKey{}, pathEdges...),
					}
					ext.Set(it.plan.PathAlias, PathValue(p))
				}
				out = append(out, ext)
			}
		}
		if depth >= maxHops {
			return nil
		}
		if err := it.ex.guard.CheckTimeout("MatchOutVarLen"); err != nil {
			return err
		}

		step := func(e storage.EdgeKey, next storage.InternalNodeID) error {
			if _, used := usedEdges[e]; used {
				return nil
			}
			usedEdges[e] = struct{}{}
			pathNodes = append(pathNodes, next)
			pathEdges = append(pathEdges, e)
			err := dfs(next, depth+1)
			pathNodes = pathNodes[:len(pathNodes)-1]
			pathEdges = pathEdges[:len(pathEdges)-1]
			delete(usedEdges, e)
			return err
		}

		if it.plan.VarLenDir == ast.DirOutgoing || it.plan.VarLenDir == ast.DirEither {
			iter := it.ex.snap.Neighbors(current, relFilter)
			for {
				e, ok := iter.Next()
				if !ok {
					break
				}
				if err := step(e, e.Dst); err != nil {
					return err
				}
			}
		}
		if it.plan.VarLenDir == ast.DirIncoming || it.plan.VarLenDir == ast.DirEither {
			iter := it.ex.snap.IncomingNeighbors(current, relFilter)
			for {
				e, ok := iter.Next()
				if !ok {
					break
				}
				if err := step(e, e.Src); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := dfs(src, 0); err != nil {
		return nil, err
	}
	return it.maybeOptional(outer, out), nil
}

func (it *varLenIterator) maybeOptional(outer *Row, out []*Row) []*Row {
	if len(out) == 0 && it.plan.Optional {
		ext := outer.Clone()
		for _, alias := range it.plan.OptionalUnbind {
			ext.Set(alias, Null)
		}
		return []*Row{ext}
	}
	return out
}

func (it *varLenIterator) dstMatches(dst storage.InternalNodeID) bool {
	if len(it.plan.DstLabels) == 0 {
		return true
	}
	label, _ := it.ex.snap.NodeLabel(dst)
	for _, want := range it.plan.DstLabels {
		id, ok := it.ex.snap.ResolveLabelID(want)
		if !ok || id != label {
			return false
		}
	}
	return true
}

// --- Filter ---

type filterIterator struct {
	ex    *Executor
	pred  ast.Expression
	input PlanIterator
}

func (it *filterIterator) Next() (*Row, error) {
	for {
		row, err := it.input.Next()
		if err != nil || row == nil {
			return nil, err
		}
		v, err := it.ex.ev.Eval(it.pred, row, it.ex.params)
		if err != nil {
			return nil, err
		}
		b, isNull := v.IsTruthy()
		if !isNull && b {
			return row, nil
		}
	}
}

// --- OptionalWhereFixup ---

// optionalFixupIterator materializes outer and filtered and re-joins them:
// every outer row yields its bind-containing filtered rows, or itself with
// null_aliases nulled when no filtered row survives.
type optionalFixupIterator struct {
	ex          *Executor
	outer       PlanIterator
	filtered    PlanIterator
	nullAliases []string

	loaded  bool
	results []*Row
	pos     int
}

func (it *optionalFixupIterator) load() error {
	it.loaded = true
	outerRows, err := drain(it.outer)
	if err != nil {
		return err
	}
	filteredRows, err := drain(it.filtered)
	if err != nil {
		return err
	}
	for _, o := range outerRows {
		matched := false
		for _, f := range filteredRows {
			if bindContains(f, o) {
				it.results = append(it.results, f)
				matched = true
			}
		}
		if !matched {
			ext := o.Clone()
			for _, alias := range it.nullAliases {
				ext.Set(alias, Null)
			}
			it.results = append(it.results, ext)
		}
	}
	return nil
}

// bindContains reports whether every binding of inner appears, equal, in
// outer's superset row.
func bindContains(superset, inner *Row) bool {
	for _, name := range inner.Names() {
		iv, _ := inner.Get(name)
		sv, ok := superset.Get(name)
		if !ok {
			return false
		}
		if iv.IsNull() && sv.IsNull() {
			continue
		}
		if !sv.Equal(iv) {
			return false
		}
	}
	return true
}

func (it *optionalFixupIterator) Next() (*Row, error) {
	if !it.loaded {
		if err := it.load(); err != nil {
			return nil, err
		}
	}
	if it.pos >= len(it.results) {
		return nil, nil
	}
	r := it.results[it.pos]
	it.pos++
	return r, nil
}

// --- Project ---

type projectIterator struct {
	ex    *Executor
	items []planner.ProjectionItem
	input PlanIterator
}

func (it *projectIterator) Next() (*Row, error) {
	row, err := it.input.Next()
	if err != nil || row == nil {
		return nil, err
	}
	out := NewRow()
	for _, item := range it.items {
		if item.Alias == "*" && item.Expr == nil {
			for _, name := range row.Names() {
				v, _ := row.Get(name)
				out.Set(name, v)
			}
			continue
		}
		v, err := it.ex.ev.Eval(item.Expr, row, it.ex.params)
		if err != nil {
			return nil, err
		}
		out.Set(item.Alias, v)
	}
	return out, nil
}

// --- OrderBy ---

type orderByIterator struct {
	ex    *Executor
	items []planner.OrderItem
	input PlanIterator

	loaded bool
	rows   []*Row
	pos    int
}

func (it *orderByIterator) load() error {
	it.loaded = true
	rows, err := drain(it.input)
	if err != nil {
		return err
	}

	type keyed struct {
		row  *Row
		keys []Value
	}
	ks := make([]keyed, len(rows))
	for i, r := range rows {
		keys := make([]Value, len(it.items))
		for j, item := range it.items {
			v, err := it.ex.ev.Eval(item.Expr, r, it.ex.params)
			if err != nil {
				return err
			}
			keys[j] = v
		}
		ks[i] = keyed{row: r, keys: keys}
	}

	sort.SliceStable(ks, func(a, b int) bool {
		for j, item := range it.items {
			av, bv := ks[a].keys[j], ks[b].keys[j]
			if av.Equal(bv) || (av.IsNull() && bv.IsNull()) {
				continue
			}
			if item.Desc {
				return bv.Less(av)
			}
			return av.Less(bv)
		}
		return false
	})

	it.rows = make([]*Row, len(ks))
	for i, k := range ks {
		it.rows[i] = k.row
	}
	return nil
}

func (it *orderByIterator) Next() (*Row, error) {
	if !it.loaded {
		if err := it.load(); err != nil {
			return nil, err
		}
	}
	if it.pos >= len(it.rows) {
		return nil, nil
	}
	r := it.rows[it.pos]
	it.pos++
	return r, nil
}

// --- Skip / Limit ---

func (ex *Executor) evalCount(expr ast.Expression, what string) (int64, error) {
	v, err := ex.ev.Eval(expr, NewRow(), ex.params)
	if err != nil {
		return 0, err
	}
	if v.Kind != VKInt || v.Int < 0 {
		return 0, syntaxErr("%s requires a non-negative integer", what)
	}
	return v.Int, nil
}

type skipIterator struct {
	ex        *Executor
	countExpr ast.Expression
	input     PlanIterator

	resolved bool
	toSkip   int64
}

func (it *skipIterator) Next() (*Row, error) {
	if !it.resolved {
		n, err := it.ex.evalCount(it.countExpr, "SKIP")
		if err != nil {
			return nil, err
		}
		it.toSkip = n
		it.resolved = true
	}
	for it.toSkip > 0 {
		row, err := it.input.Next()
		if err != nil || row == nil {
			return nil, err
		}
		it.toSkip--
	}
	return it.input.Next()
}

type limitIterator struct {
	ex        *Executor
	countExpr ast.Expression
	input     PlanIterator

	resolved  bool
	remaining int64
}

func (it *limitIterator) Next() (*Row, error) {
	if !it.resolved {
		n, err := it.ex.evalCount(it.countExpr, "LIMIT")
		if err != nil {
			return nil, err
		}
		it.remaining = n
		it.resolved = true
	}
	if it.remaining <= 0 {
		return nil, nil
	}
	row, err := it.input.Next()
	if err != nil || row == nil {
		return nil, err
	}
	it.remaining--
	return row, nil
}

// --- Distinct ---

type distinctIterator struct {
	input PlanIterator
	seen  map[string]struct{}
}

func (it *distinctIterator) Next() (*Row, error) {
	for {
		row, err := it.input.Next()
		if err != nil || row == nil {
			return nil, err
		}
		key := row.hashKey()
		if _, dup := it.seen[key]; dup {
			continue
		}
		it.seen[key] = struct{}{}
		return row, nil
	}
}

// --- Unwind ---

type unwindIterator struct {
	ex    *Executor
	expr  ast.Expression
	alias string
	input PlanIterator

	current []*Row
	pos     int
}

func (it *unwindIterator) Next() (*Row, error) {
	for {
		if it.pos < len(it.current) {
			r := it.current[it.pos]
			it.pos++
			return r, nil
		}
		outer, err := it.input.Next()
		if err != nil || outer == nil {
			return nil, err
		}
		v, err := it.ex.ev.Eval(it.expr, outer, it.ex.params)
		if err != nil {
			return nil, err
		}
		switch v.Kind {
		case VKList:
			rows := make([]*Row, len(v.List))
			for i, item := range v.List {
				ext := outer.Clone()
				ext.Set(it.alias, item)
				rows[i] = ext
			}
			it.current = rows
			it.pos = 0
		case VKNull:
			ext := outer.Clone()
			ext.Set(it.alias, Null)
			it.current = []*Row{ext}
			it.pos = 0
		default:
			return nil, execErr("UNWIND requires a list or null, got %s", v.String())
		}
	}
}

// --- Union ---

type unionIterator struct {
	left, right PlanIterator
	leftDone    bool
}

func (it *unionIterator) Next() (*Row, error) {
	if !it.leftDone {
		row, err := it.left.Next()
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
		it.leftDone = true
	}
	return it.right.Next()
}

// --- Apply ---

// applyIterator executes the correlated subquery once per outer row,
// passing the outer row's bindings through as named parameters, and joins
// every inner row onto the outer.
type applyIterator struct {
	ex       *Executor
	subquery *planner.Plan
	input    PlanIterator

	current []*Row
	pos     int
}

func (it *applyIterator) Next() (*Row, error) {
	for {
		if it.pos < len(it.current) {
			r := it.current[it.pos]
			it.pos++
			return r, nil
		}
		outer, err := it.input.Next()
		if err != nil || outer == nil {
			return nil, err
		}

		subParams := &Params{Values: make(map[string]Value, len(it.ex.params.Values)), Limits: it.ex.params.Limits}
		for k, v := range it.ex.params.Values {
			subParams.Values[k] = v
		}
		for _, name := range outer.Names() {
			v, _ := outer.Get(name)
			subParams.Values[name] = v
		}

		subEx := &Executor{snap: it.ex.snap, params: subParams, guard: it.ex.guard, ev: it.ex.ev}
		subIt, err := subEx.Build(it.subquery)
		if err != nil {
			return nil, err
		}

		var joined []*Row
		var innerCount int64
		for {
			inner, err := subIt.Next()
			if err != nil {
				return nil, err
			}
			if inner == nil {
				break
			}
			innerCount++
			if max := it.ex.params.Limits.MaxApplyRowsPerOuter; max > 0 && innerCount > max {
				return nil, resourceLimitErr(LimitApplyRowsPerOuter, max, innerCount, "Apply")
			}
			j := outer.Clone()
			for _, name := range inner.Names() {
				v, _ := inner.Get(name)
				j.Set(name, v)
			}
			joined = append(joined, j)
		}
		it.current = joined
		it.pos = 0
	}
}

// --- ProcedureCall ---

type procedureIterator struct {
	ex    *Executor
	plan  *planner.Plan
	input PlanIterator

	current []*Row
	pos     int
}

func (it *procedureIterator) Next() (*Row, error) {
	for {
		if it.pos < len(it.current) {
			r := it.current[it.pos]
			it.pos++
			return r, nil
		}
		outer, err := it.input.Next()
		if err != nil || outer == nil {
			return nil, err
		}
		proc, ok := LookupProcedure(it.plan.ProcName)
		if !ok {
			return nil, execErr("ProcedureNotFound: %q", it.plan.ProcName)
		}
		args := make([]Value, len(it.plan.ProcArgs))
		for i, a := range it.plan.ProcArgs {
			v, err := it.ex.ev.Eval(a, outer, it.ex.params)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		procRows, err := proc(it.ex.snap, args)
		if err != nil {
			return nil, err
		}
		var joined []*Row
		for _, pr := range procRows {
			j := outer.Clone()
			if len(it.plan.ProcYields) == 0 {
				for _, name := range pr.Names() {
					v, _ := pr.Get(name)
					j.Set(name, v)
				}
			} else {
				for _, y := range it.plan.ProcYields {
					v, ok := pr.Get(y.Field)
					if !ok {
						return nil, execErr("procedure %q yields no field %q", it.plan.ProcName, y.Field)
					}
					j.Set(y.Alias, v)
				}
			}
			joined = append(joined, j)
		}
		it.current = joined
		it.pos = 0
	}
}

// --- CartesianProduct ---

type cartesianIterator struct {
	ex        *Executor
	left      PlanIterator
	rightPlan *planner.Plan

	leftRow  *Row
	rightIt  PlanIterator
}

func (it *cartesianIterator) Next() (*Row, error) {
	for {
		if it.leftRow == nil {
			row, err := it.left.Next()
			if err != nil || row == nil {
				return nil, err
			}
			it.leftRow = row
			rightIt, err := it.ex.Build(it.rightPlan)
			if err != nil {
				return nil, err
			}
			it.rightIt = rightIt
		}
		inner, err := it.rightIt.Next()
		if err != nil {
			return nil, err
		}
		if inner == nil {
			it.leftRow = nil
			continue
		}
		j := it.leftRow.Clone()
		for _, name := range inner.Names() {
			v, _ := inner.Get(name)
			j.Set(name, v)
		}
		return j, nil
	}
}

// --- Values ---

// valuesIterator materializes a Values staging node: each map of
// expressions is evaluated against an empty row into one output row.
type valuesIterator struct {
	ex   *Executor
	rows []map[string]ast.Expression
	pos  int
}

func (it *valuesIterator) Next() (*Row, error) {
	if it.pos >= len(it.rows) {
		return nil, nil
	}
	exprs := it.rows[it.pos]
	it.pos++
	row := NewRow()
	for name, expr := range exprs {
		v, err := it.ex.ev.Eval(expr, NewRow(), it.ex.params)
		if err != nil {
			return nil, err
		}
		row.Set(name, v)
	}
	return row, nil
}
