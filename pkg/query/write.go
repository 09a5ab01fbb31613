package query

import (
	"github.com/nervusdb/nervusdb/pkg/ast"
	"github.com/nervusdb/nervusdb/pkg/planner"
	"github.com/nervusdb/nervusdb/pkg/storage"
)

// Txn is the mutation surface write execution drives. It is
// satisfied by *storage.WriteTxn.
type Txn interface {
	CreateNode(external storage.ExternalID, label storage.LabelID) (storage.InternalNodeID, error)
	CreateEdge(src storage.InternalNodeID, rel storage.RelTypeID, dst storage.InternalNodeID)
	TombstoneNode(node storage.InternalNodeID)
	TombstoneEdge(src storage.InternalNodeID, rel storage.RelTypeID, dst storage.InternalNodeID)
}

// WriteContext bundles the transaction with the collaborators the write
// path mutates alongside it: the property store, the label/rel-type
// interner, the index manager, and the engine's external-id mint.
type WriteContext struct {
	Txn      Txn
	Props    storage.PropertyStore
	Interner storage.Interner
	Indexes  *storage.IndexManager
	Mint     func() storage.ExternalID
	SetLabel func(storage.InternalNodeID, storage.LabelID) error
}

// NewWriteContext wires a WriteContext from an engine and one of its
// write transactions.
func NewWriteContext(engine *storage.GraphEngine, txn *storage.WriteTxn) *WriteContext {
	return &WriteContext{
		Txn:      txn,
		Props:    engine.Properties(),
		Interner: engine.Interner(),
		Indexes:  engine.Indexes(),
		Mint:     engine.MintExternalID,
		SetLabel: engine.UpdateNodeLabel,
	}
}

// writeDriver is the recursive-descent write orchestrator: write nodes apply mutations row by row, read-shape nodes re-run
// over the child's materialized rows so clause semantics hold post-write.
type writeDriver struct {
	ex   *Executor
	wctx *WriteContext

	// base substitutes for the ReturnOne leaf: FOREACH sub-plans and MERGE
	// overlays execute against a caller-supplied starting row.
	base []*Row

	// merge carries MERGE's ON CREATE/ON MATCH items and overlay state
	// when the statement compiled with WriteSemantics Merge.
	merge *mergeState

	// createdLabels remembers labels of nodes created by this statement;
	// the snapshot's IdMap only learns them at commit apply.
	createdLabels map[storage.InternalNodeID]storage.LabelID

	affected int64
}

func (d *writeDriver) run(p *planner.Plan) ([]*Row, error) {
	if p == nil {
		return d.baseRows(), nil
	}

	switch p.Kind {
	case planner.PlanReturnOne:
		return d.baseRows(), nil

	case planner.PlanCreate:
		rows, err := d.run(p.Input)
		if err != nil {
			return nil, err
		}
		out := make([]*Row, 0, len(rows))
		for _, row := range rows {
			ext := row.Clone()
			if d.merge != nil && p.Merge {
				err = d.applyMerge(p.Pattern, ext)
			} else {
				err = d.applyCreate(p.Pattern, ext)
			}
			if err != nil {
				return nil, err
			}
			out = append(out, ext)
		}
		return out, nil

	case planner.PlanDelete:
		rows, err := d.run(p.Input)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if err := d.applyDelete(p, row); err != nil {
				return nil, err
			}
		}
		return rows, nil

	case planner.PlanSetProperty:
		rows, err := d.run(p.Input)
		if err != nil {
			return nil, err
		}
		if err := d.applySetProperties(p.SetItems, rows); err != nil {
			return nil, err
		}
		return rows, nil

	case planner.PlanSetPropertiesFromMap:
		rows, err := d.run(p.Input)
		if err != nil {
			return nil, err
		}
		if err := d.applySetFromMap(p.SetItems, rows); err != nil {
			return nil, err
		}
		return rows, nil

	case planner.PlanSetLabels:
		rows, err := d.run(p.Input)
		if err != nil {
			return nil, err
		}
		if err := d.applyLabels(p.SetItems, rows, true); err != nil {
			return nil, err
		}
		return rows, nil

	case planner.PlanRemoveProperty:
		rows, err := d.run(p.Input)
		if err != nil {
			return nil, err
		}
		if err := d.applyRemoveProperties(p.RemoveItems, rows); err != nil {
			return nil, err
		}
		return rows, nil

	case planner.PlanRemoveLabels:
		rows, err := d.run(p.Input)
		if err != nil {
			return nil, err
		}
		var asSet []planner.SetItemPlan
		for _, it := range p.RemoveItems {
			asSet = append(asSet, planner.SetItemPlan{Variable: it.Variable, Labels: it.Labels})
		}
		if err := d.applyLabels(asSet, rows, false); err != nil {
			return nil, err
		}
		return rows, nil

	case planner.PlanForeach:
		rows, err := d.run(p.Input)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			listVal, err := d.ex.ev.Eval(p.ForeachList, row, d.ex.params)
			if err != nil {
				return nil, err
			}
			if listVal.IsNull() {
				continue
			}
			if listVal.Kind != VKList {
				return nil, execErr("FOREACH requires a list")
			}
			for _, item := range listVal.List {
				sub := row.Clone()
				sub.Set(p.ForeachVar, item)
				inner := &writeDriver{ex: d.ex, wctx: d.wctx, base: []*Row{sub}, merge: d.merge, createdLabels: d.createdLabels}
				if _, err := inner.run(p.SubPlan); err != nil {
					return nil, err
				}
				d.affected += inner.affected
			}
		}
		return rows, nil

	default:
		// Read-shape node. If the subtree below holds a write step, run
		// the child with rows and splice them back under this node;
		// otherwise (and when no base rows are in play) the whole subtree
		// can stream directly.
		if p.Input == nil {
			if containsWriteNode(p) {
				return nil, execErr("write steps under a %s node are not supported", p.Kind)
			}
			it, err := d.ex.Build(p)
			if err != nil {
				return nil, err
			}
			return drain(it)
		}
		rows, err := d.run(p.Input)
		if err != nil {
			return nil, err
		}
		it, err := d.ex.buildWith(p, newSliceIterator(rows))
		if err != nil {
			return nil, err
		}
		return drain(it)
	}
}

func (d *writeDriver) baseRows() []*Row {
	if len(d.base) == 0 {
		return []*Row{NewRow()}
	}
	out := make([]*Row, len(d.base))
	for i, r := range d.base {
		out[i] = r.Clone()
	}
	return out
}

func containsWriteNode(p *planner.Plan) bool {
	if p == nil {
		return false
	}
	if p.IsWriteNode() {
		return true
	}
	for _, child := range []*planner.Plan{p.Input, p.Outer, p.Filtered, p.Left, p.Right, p.Fallback, p.Right2, p.Subquery, p.SubPlan} {
		if containsWriteNode(child) {
			return true
		}
	}
	return false
}

// --- CREATE ---

// applyCreate instantiates one pattern against one row: unbound node
// slots are created (with a freshly minted external id), bound slots are
// reused, and every relationship slot becomes a new edge. The row is
// extended in place with the new bindings.
func (d *writeDriver) applyCreate(pattern *ast.Pattern, row *Row) error {
	for _, elem := range pattern.Elements {
		ids := make([]storage.InternalNodeID, len(elem.Nodes))
		for i, np := range elem.Nodes {
			id, err := d.resolveOrCreateNode(np, row)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		for i, rp := range elem.Rels {
			if err := d.createEdge(rp, ids[i], ids[i+1], row); err != nil {
				return err
			}
		}
		if pattern.PathAlias != "" && len(ids) > 0 {
			// A created path binds id-only, same as a matched one.
			p := &Path{Nodes: ids}
			row.Set(pattern.PathAlias, PathValue(p))
		}
	}
	return nil
}

func (d *writeDriver) resolveOrCreateNode(np ast.NodePattern, row *Row) (storage.InternalNodeID, error) {
	if np.Alias != "" {
		if id, ok := row.GetNode(np.Alias); ok {
			return id, nil
		}
	}
	return d.createNode(np, row)
}

func (d *writeDriver) createNode(np ast.NodePattern, row *Row) (storage.InternalNodeID, error) {
	label := storage.UnlabeledLabelID
	if len(np.Labels) > 0 {
		id, err := d.wctx.Interner.InternLabel(np.Labels[0])
		if err != nil {
			return 0, storageErr(err)
		}
		label = id
	}

	external := d.wctx.Mint()
	internal, err := d.wctx.Txn.CreateNode(external, label)
	if err != nil {
		return 0, storageErr(err)
	}
	if d.createdLabels == nil {
		d.createdLabels = make(map[storage.InternalNodeID]storage.LabelID)
	}
	d.createdLabels[internal] = label
	d.affected++

	for key, expr := range np.Properties {
		v, err := d.ex.ev.Eval(expr, row, d.ex.params)
		if err != nil {
			return 0, err
		}
		if err := d.setNodeProperty(internal, label, key, v); err != nil {
			return 0, err
		}
	}

	if np.Alias != "" {
		row.Set(np.Alias, NodeIDValue(internal))
	}
	return internal, nil
}

func (d *writeDriver) createEdge(rp ast.RelPattern, src, dst storage.InternalNodeID, row *Row) error {
	if len(rp.Types) != 1 {
		return syntaxErr("CREATE requires exactly one relationship type")
	}
	relID, err := d.wctx.Interner.InternRelType(rp.Types[0])
	if err != nil {
		return storageErr(err)
	}
	// `<-[...]-` creates dst->src; undirected creation defaults to
	// left-to-right.
	if rp.Direction == ast.DirIncoming {
		src, dst = dst, src
	}

	d.wctx.Txn.CreateEdge(src, relID, dst)
	d.affected++
	edge := storage.EdgeKey{Src: src, Rel: relID, Dst: dst}
	if d.merge != nil {
		d.merge.createdEdges[edge] = struct{}{}
	}

	for key, expr := range rp.Properties {
		v, err := d.ex.ev.Eval(expr, row, d.ex.params)
		if err != nil {
			return err
		}
		pv, err := ToPropertyValue(v)
		if err != nil {
			return err
		}
		if err := d.wctx.Props.SetEdgeProperty(edge, key, pv); err != nil {
			return storageErr(err)
		}
	}

	if rp.Alias != "" {
		row.Set(rp.Alias, EdgeKeyValue(edge))
	}
	return nil
}

// setNodeProperty writes one property and keeps any covering index
// current.
func (d *writeDriver) setNodeProperty(id storage.InternalNodeID, label storage.LabelID, key string, v Value) error {
	var oldPtr *storage.PropertyValue
	if old, ok, err := d.wctx.Props.GetNodeProperty(id, key); err != nil {
		return storageErr(err)
	} else if ok {
		oldPtr = &old
	}

	if v.IsNull() {
		if err := d.wctx.Props.RemoveNodeProperty(id, key); err != nil {
			return storageErr(err)
		}
		if d.wctx.Indexes != nil && d.wctx.Indexes.HasIndex(label, key) {
			d.wctx.Indexes.Update(id, label, key, oldPtr, nil)
		}
		return nil
	}

	pv, err := ToPropertyValue(v)
	if err != nil {
		return err
	}
	if err := d.wctx.Props.SetNodeProperty(id, key, pv); err != nil {
		return storageErr(err)
	}
	if d.wctx.Indexes != nil && d.wctx.Indexes.HasIndex(label, key) {
		d.wctx.Indexes.Update(id, label, key, oldPtr, &pv)
	}
	return nil
}

func (d *writeDriver) nodeLabelFor(id storage.InternalNodeID) storage.LabelID {
	if label, ok := d.createdLabels[id]; ok {
		return label
	}
	label, _ := d.ex.snap.NodeLabel(id)
	return label
}

// --- DELETE ---

func (d *writeDriver) applyDelete(p *planner.Plan, row *Row) error {
	for _, expr := range p.DeleteExprs {
		v, err := d.ex.ev.Eval(expr, row, d.ex.params)
		if err != nil {
			return err
		}
		switch v.Kind {
		case VKNull:
			continue
		case VKNodeID, VKNode:
			id := v.NodeID
			if v.Kind == VKNode {
				id = v.ReifiedNode.ID
			}
			if err := d.deleteNode(id, p.Detach); err != nil {
				return err
			}
		case VKEdgeKey:
			d.deleteEdge(v.EdgeKey)
		case VKRelationship:
			d.deleteEdge(v.ReifiedRel.Key)
		default:
			return execErr("DELETE requires a node or relationship, got %s", v.String())
		}
	}
	return nil
}

func (d *writeDriver) deleteNode(id storage.InternalNodeID, detach bool) error {
	if !detach {
		out := d.ex.snap.Neighbors(id, nil)
		if _, hasEdge := out.Next(); hasEdge {
			return execErr("cannot delete node %d: it still has relationships (use DETACH DELETE)", id)
		}
		in := d.ex.snap.IncomingNeighbors(id, nil)
		if _, hasEdge := in.Next(); hasEdge {
			return execErr("cannot delete node %d: it still has relationships (use DETACH DELETE)", id)
		}
	}

	// Drop indexed entries before the tombstone hides the node.
	label := d.nodeLabelFor(id)
	if props, err := d.wctx.Props.NodeProperties(id); err == nil && d.wctx.Indexes != nil {
		for key, old := range props {
			if d.wctx.Indexes.HasIndex(label, key) {
				oldCopy := old
				d.wctx.Indexes.Update(id, label, key, &oldCopy, nil)
			}
		}
	}

	d.wctx.Txn.TombstoneNode(id)
	if err := d.wctx.Props.DeleteNodeProperties(id); err != nil {
		return storageErr(err)
	}
	d.affected++
	return nil
}

func (d *writeDriver) deleteEdge(k storage.EdgeKey) {
	d.wctx.Txn.TombstoneEdge(k.Src, k.Rel, k.Dst)
	_ = d.wctx.Props.DeleteEdgeProperties(k)
	d.affected++
}

// --- SET / REMOVE ---

func (d *writeDriver) applySetProperties(items []planner.SetItemPlan, rows []*Row) error {
	for _, row := range rows {
		for _, item := range items {
			target, ok := row.Get(item.Variable)
			if !ok || target.IsNull() {
				continue
			}
			v, err := d.ex.ev.Eval(item.Value, row, d.ex.params)
			if err != nil {
				return err
			}
			switch target.Kind {
			case VKNodeID, VKNode:
				id := target.NodeID
				if target.Kind == VKNode {
					id = target.ReifiedNode.ID
				}
				if err := d.setNodeProperty(id, d.nodeLabelFor(id), item.Property, v); err != nil {
					return err
				}
			case VKEdgeKey, VKRelationship:
				k := target.EdgeKey
				if target.Kind == VKRelationship {
					k = target.ReifiedRel.Key
				}
				if v.IsNull() {
					if err := d.wctx.Props.RemoveEdgeProperty(k, item.Property); err != nil {
						return storageErr(err)
					}
				} else {
					pv, err := ToPropertyValue(v)
					if err != nil {
						return err
					}
					if err := d.wctx.Props.SetEdgeProperty(k, item.Property, pv); err != nil {
						return storageErr(err)
					}
				}
			default:
				return execErr("SET target %q is not a node or relationship", item.Variable)
			}
			d.affected++
			applySetPropertyOverlayToRows(rows, item.Variable, item.Property, v)
		}
	}
	return nil
}

func (d *writeDriver) applySetFromMap(items []planner.SetItemPlan, rows []*Row) error {
	for _, row := range rows {
		for _, item := range items {
			target, ok := row.Get(item.Variable)
			if !ok || target.IsNull() {
				continue
			}
			v, err := d.ex.ev.Eval(item.Value, row, d.ex.params)
			if err != nil {
				return err
			}
			var m map[string]Value
			switch v.Kind {
			case VKMap:
				m = v.Map
			case VKNode:
				m = v.ReifiedNode.Properties
			default:
				return execErr("SET %s = ... requires a map", item.Variable)
			}

			switch target.Kind {
			case VKNodeID, VKNode:
				id := target.NodeID
				if target.Kind == VKNode {
					id = target.ReifiedNode.ID
				}
				label := d.nodeLabelFor(id)
				if !item.Append {
					// Replacement semantics: clear what the map does not carry.
					if existing, err := d.wctx.Props.NodeProperties(id); err == nil {
						for key := range existing {
							if _, kept := m[key]; !kept {
								if err := d.setNodeProperty(id, label, key, Null); err != nil {
									return err
								}
							}
						}
					}
				}
				for key, mv := range m {
					if err := d.setNodeProperty(id, label, key, mv); err != nil {
						return err
					}
				}
			case VKEdgeKey, VKRelationship:
				k := target.EdgeKey
				if target.Kind == VKRelationship {
					k = target.ReifiedRel.Key
				}
				if !item.Append {
					if err := d.wctx.Props.DeleteEdgeProperties(k); err != nil {
						return storageErr(err)
					}
				}
				for key, mv := range m {
					pv, err := ToPropertyValue(mv)
					if err != nil {
						return err
					}
					if err := d.wctx.Props.SetEdgeProperty(k, key, pv); err != nil {
						return storageErr(err)
					}
				}
			default:
				return execErr("SET target %q is not a node or relationship", item.Variable)
			}
			d.affected++
			applySetMapOverlayToRows(rows, item.Variable, m, item.Append)
		}
	}
	return nil
}

func (d *writeDriver) applyLabels(items []planner.SetItemPlan, rows []*Row, add bool) error {
	for _, row := range rows {
		for _, item := range items {
			id, ok := row.GetNode(item.Variable)
			if !ok {
				continue
			}
			for _, name := range item.Labels {
				if add {
					labelID, err := d.wctx.Interner.InternLabel(name)
					if err != nil {
						return storageErr(err)
					}
					if err := d.wctx.SetLabel(id, labelID); err != nil {
						return storageErr(err)
					}
				} else {
					current, _ := d.ex.snap.NodeLabel(id)
					if labelID, known := d.wctx.Interner.ResolveLabelID(name); known && labelID == current {
						if err := d.wctx.SetLabel(id, storage.UnlabeledLabelID); err != nil {
							return storageErr(err)
						}
					}
				}
				d.affected++
			}
			applyLabelOverlayToRows(rows, item.Variable, item.Labels, add)
		}
	}
	return nil
}

func (d *writeDriver) applyRemoveProperties(items []planner.RemoveItemPlan, rows []*Row) error {
	for _, row := range rows {
		for _, item := range items {
			target, ok := row.Get(item.Variable)
			if !ok || target.IsNull() {
				continue
			}
			switch target.Kind {
			case VKNodeID, VKNode:
				id := target.NodeID
				if target.Kind == VKNode {
					id = target.ReifiedNode.ID
				}
				if err := d.setNodeProperty(id, d.nodeLabelFor(id), item.Property, Null); err != nil {
					return err
				}
			case VKEdgeKey, VKRelationship:
				k := target.EdgeKey
				if target.Kind == VKRelationship {
					k = target.ReifiedRel.Key
				}
				if err := d.wctx.Props.RemoveEdgeProperty(k, item.Property); err != nil {
					return storageErr(err)
				}
			default:
				return execErr("REMOVE target %q is not a node or relationship", item.Variable)
			}
			d.affected++
			applyRemovedPropertyOverlayToRows(rows, item.Variable, item.Property)
		}
	}
	return nil
}

// --- row overlays ---
//
// Overlays patch reified Node/Relationship bindings in already-read rows
// so later clauses in the same statement observe the write without
// re-reading the snapshot. Id-only bindings (NodeId/EdgeKey) are left
// alone: downstream property reads on those go through the live property
// store and see the mutation anyway.

func applySetPropertyOverlayToRows(rows []*Row, variable, property string, v Value) {
	for _, row := range rows {
		b, ok := row.Get(variable)
		if !ok {
			continue
		}
		switch b.Kind {
		case VKNode:
			b.ReifiedNode.Properties[property] = v
		case VKRelationship:
			b.ReifiedRel.Properties[property] = v
		}
	}
}

func applySetMapOverlayToRows(rows []*Row, variable string, m map[string]Value, appendMode bool) {
	for _, row := range rows {
		b, ok := row.Get(variable)
		if !ok || b.Kind != VKNode {
			continue
		}
		if !appendMode {
			b.ReifiedNode.Properties = make(map[string]Value, len(m))
		}
		for k, v := range m {
			b.ReifiedNode.Properties[k] = v
		}
	}
}

func applyLabelOverlayToRows(rows []*Row, variable string, labels []string, add bool) {
	for _, row := range rows {
		b, ok := row.Get(variable)
		if !ok || b.Kind != VKNode {
			continue
		}
		if add {
			for _, l := range labels {
				found := false
				for _, have := range b.ReifiedNode.Labels {
					if have == l {
						found = true
						break
					}
				}
				if !found {
					b.ReifiedNode.Labels = append(b.ReifiedNode.Labels, l)
				}
			}
		} else {
			var kept []string
			for _, have := range b.ReifiedNode.Labels {
				drop := false
				for _, l := range labels {
					if have == l {
						drop = true
						break
					}
				}
				if !drop {
					kept = append(kept, have)
				}
			}
			b.ReifiedNode.Labels = kept
		}
	}
}

func applyRemovedPropertyOverlayToRows(rows []*Row, variable, property string) {
	for _, row := range rows {
		b, ok := row.Get(variable)
		if !ok {
			continue
		}
		switch b.Kind {
		case VKNode:
			delete(b.ReifiedNode.Properties, property)
		case VKRelationship:
			delete(b.ReifiedRel.Properties, property)
		}
	}
}
