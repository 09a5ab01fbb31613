package query

import (
	"github.com/nervusdb/nervusdb/pkg/ast"
	"github.com/nervusdb/nervusdb/pkg/planner"
	"github.com/nervusdb/nervusdb/pkg/storage"
)

// mergeState is the per-statement overlay MERGE carries across rows:
// nodes and edges created by earlier
// rows of the same statement must be found — not re-created — by later
// rows, even though they are invisible in the read snapshot until commit.
type mergeState struct {
	onCreate []planner.SetItemPlan
	onMatch  []planner.SetItemPlan

	createdNodes []overlayNode
	createdEdges map[storage.EdgeKey]struct{}
}

type overlayNode struct {
	id    storage.InternalNodeID
	label string
	props map[string]Value
}

func newMergeState(onCreate, onMatch []planner.SetItemPlan) *mergeState {
	return &mergeState{
		onCreate:     onCreate,
		onMatch:      onMatch,
		createdEdges: make(map[storage.EdgeKey]struct{}),
	}
}

// applyMerge implements MERGE's find-or-create contract for
// one row: single-node patterns resolve each node slot independently; a
// single-hop pattern resolves both endpoints and then the edge between
// them. ON CREATE runs iff anything was created for this row; ON MATCH
// runs iff everything already existed.
func (d *writeDriver) applyMerge(pattern *ast.Pattern, row *Row) error {
	elem := pattern.Elements[0]

	createdAny := false
	for _, np := range elem.Nodes {
		created, err := d.mergeNode(np, row)
		if err != nil {
			return err
		}
		createdAny = createdAny || created
	}

	if len(elem.Rels) == 1 {
		created, err := d.mergeEdge(elem, row)
		if err != nil {
			return err
		}
		createdAny = createdAny || created
	}

	items := d.merge.onMatch
	if createdAny {
		items = d.merge.onCreate
	}
	if len(items) > 0 {
		if err := d.applySetProperties(items, []*Row{row}); err != nil {
			return err
		}
	}
	return nil
}

// mergeNode binds np.Alias to an existing node matching the pattern's
// property map, creating one when no match exists. Returns whether a node
// was created.
func (d *writeDriver) mergeNode(np ast.NodePattern, row *Row) (bool, error) {
	if np.Alias != "" {
		if _, bound := row.GetNode(np.Alias); bound {
			return false, nil
		}
	}

	required := make(map[string]Value, len(np.Properties))
	for key, expr := range np.Properties {
		v, err := d.ex.ev.Eval(expr, row, d.ex.params)
		if err != nil {
			return false, err
		}
		required[key] = v
	}
	label := ""
	if len(np.Labels) > 0 {
		label = np.Labels[0]
	}

	if id, ok := d.findOverlayNode(label, required); ok {
		if np.Alias != "" {
			row.Set(np.Alias, NodeIDValue(id))
		}
		return false, nil
	}

	if id, ok, err := d.findSnapshotNode(label, required); err != nil {
		return false, err
	} else if ok {
		if np.Alias != "" {
			row.Set(np.Alias, NodeIDValue(id))
		}
		return false, nil
	}

	id, err := d.createNode(np, row)
	if err != nil {
		return false, err
	}
	d.merge.createdNodes = append(d.merge.createdNodes, overlayNode{id: id, label: label, props: required})
	return true, nil
}

func (d *writeDriver) findOverlayNode(label string, required map[string]Value) (storage.InternalNodeID, bool) {
	for _, n := range d.merge.createdNodes {
		if n.label != label {
			continue
		}
		if propsContain(n.props, required) {
			return n.id, true
		}
	}
	return 0, false
}

func propsContain(have, want map[string]Value) bool {
	for k, wv := range want {
		hv, ok := have[k]
		if !ok || !hv.Equal(wv) {
			return false
		}
	}
	return true
}

// findSnapshotNode searches committed nodes for one whose properties
// contain every required key/value pair, preferring an index point lookup
// on (label, key) for the first required key, in map iteration order,
// that has an index.
func (d *writeDriver) findSnapshotNode(label string, required map[string]Value) (storage.InternalNodeID, bool, error) {
	var labelID storage.LabelID
	hasLabel := false
	if label != "" {
		id, ok := d.ex.snap.ResolveLabelID(label)
		if !ok {
			// Label never interned: no committed node can carry it.
			return 0, false, nil
		}
		labelID = id
		hasLabel = true
	}

	var candidates []storage.InternalNodeID
	seeded := false
	if hasLabel && d.wctx.Indexes != nil {
		for key, v := range required {
			if !d.wctx.Indexes.HasIndex(labelID, key) {
				continue
			}
			pv, err := ToPropertyValue(v)
			if err != nil {
				return 0, false, err
			}
			if ids, ok := d.ex.snap.LookupIndex(labelID, key, pv); ok {
				candidates = ids
				seeded = true
			}
			break
		}
	}
	if !seeded {
		candidates = d.ex.snap.Nodes()
	}

	for _, id := range candidates {
		if d.ex.snap.IsTombstonedNode(id) {
			continue
		}
		if hasLabel {
			nodeLabel, ok := d.ex.snap.NodeLabel(id)
			if !ok || nodeLabel != labelID {
				continue
			}
		}
		match := true
		for key, want := range required {
			pv, ok, err := d.ex.snap.NodeProperty(id, key)
			if err != nil {
				return 0, false, storageErr(err)
			}
			if !ok || !FromPropertyValue(pv).Equal(want) {
				match = false
				break
			}
		}
		if match {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// mergeEdge resolves the single-hop pattern's relationship after both
// endpoints are bound: reuse an existing edge of the required type, else
// create one. Returns whether an edge was created.
func (d *writeDriver) mergeEdge(elem ast.PatternElement, row *Row) (bool, error) {
	rp := elem.Rels[0]
	if len(rp.Types) != 1 {
		return false, syntaxErr("MERGE requires exactly one relationship type")
	}

	left, ok := row.GetNode(elem.Nodes[0].Alias)
	if !ok {
		return false, execErr("MERGE: source node %q is unbound", elem.Nodes[0].Alias)
	}
	right, ok := row.GetNode(elem.Nodes[1].Alias)
	if !ok {
		return false, execErr("MERGE: destination node %q is unbound", elem.Nodes[1].Alias)
	}
	// Storage-order endpoints: `<-[...]-` stores right->left.
	src, dst := left, right
	if rp.Direction == ast.DirIncoming {
		src, dst = right, left
	}

	if relID, known := d.ex.snap.ResolveRelTypeID(rp.Types[0]); known {
		key := storage.EdgeKey{Src: src, Rel: relID, Dst: dst}
		if _, created := d.merge.createdEdges[key]; created {
			if rp.Alias != "" {
				row.Set(rp.Alias, EdgeKeyValue(key))
			}
			return false, nil
		}
		iter := d.ex.snap.Neighbors(src, &relID)
		for {
			e, ok := iter.Next()
			if !ok {
				break
			}
			if e.Dst == dst {
				if rp.Alias != "" {
					row.Set(rp.Alias, EdgeKeyValue(e))
				}
				return false, nil
			}
		}
	}

	if err := d.createEdge(rp, left, right, row); err != nil {
		return false, err
	}
	return true, nil
}
