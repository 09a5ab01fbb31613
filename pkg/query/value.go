package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nervusdb/nervusdb/pkg/storage"
)

// ValueKind tags the variant a Value currently holds. It is a strict
// superset of storage.ValueKind, adding the executor-only shapes:
// NodeId, ExternalId, EdgeKey, Node, Relationship, and Path.
type ValueKind int

const (
	VKNull ValueKind = iota
	VKBool
	VKInt
	VKFloat
	VKString
	VKDateTime
	VKBlob
	VKList
	VKMap
	VKNodeID
	VKExternalID
	VKEdgeKey
	VKNode
	VKRelationship
	VKPath
)

// Node is the reified node shape the evaluator hands back when a pattern
// variable is bound to a node and downstream code needs its labels and
// properties materialized (e.g. `properties(n)`).
type Node struct {
	ID         storage.InternalNodeID
	ExternalID storage.ExternalID
	Labels     []string
	Properties map[string]Value
}

// Relationship is the reified edge shape, analogous to Node.
type Relationship struct {
	Key        storage.EdgeKey
	Type       string
	Properties map[string]Value
}

// Path is the id-only path representation bound to a path alias: the
// node identities in order and the edges between them. `nodes(p)` and
// `relationships(p)` read these two slices; there is no separate reified
// path form.
type Path struct {
	Nodes []storage.InternalNodeID
	Edges []storage.EdgeKey
}

// Value is the executor's runtime value type (Q0). It is intentionally a
// plain tagged struct, not an interface, so equality/ordering/hashing can
// switch on Kind directly — mirroring how PropertyValue is represented in
// pkg/storage, keeping value handling on concrete structs rather than
// `any`-typed properties.
type Value struct {
	Kind ValueKind

	Bool     bool
	Int      int64
	Float    float64
	Str      string
	DateTime int64 // unix nanoseconds

	Blob []byte
	List []Value
	Map  map[string]Value

	NodeID       storage.InternalNodeID
	ExternalID   storage.ExternalID
	EdgeKey      storage.EdgeKey
	ReifiedNode  *Node
	ReifiedRel   *Relationship
	ReifiedPath  *Path
}

var Null = Value{Kind: VKNull}

func BoolValue(b bool) Value          { return Value{Kind: VKBool, Bool: b} }
func IntValue(i int64) Value          { return Value{Kind: VKInt, Int: i} }
func FloatValue(f float64) Value      { return Value{Kind: VKFloat, Float: f} }
func StringValue(s string) Value      { return Value{Kind: VKString, Str: s} }
func DateTimeValue(ns int64) Value    { return Value{Kind: VKDateTime, DateTime: ns} }
func ListValue(items []Value) Value   { return Value{Kind: VKList, List: items} }
func MapValue(m map[string]Value) Value { return Value{Kind: VKMap, Map: m} }
func NodeIDValue(id storage.InternalNodeID) Value { return Value{Kind: VKNodeID, NodeID: id} }
func ExternalIDValue(id storage.ExternalID) Value { return Value{Kind: VKExternalID, ExternalID: id} }
func EdgeKeyValue(k storage.EdgeKey) Value        { return Value{Kind: VKEdgeKey, EdgeKey: k} }
func ReifiedNodeValue(n *Node) Value              { return Value{Kind: VKNode, ReifiedNode: n} }
func ReifiedRelValue(r *Relationship) Value       { return Value{Kind: VKRelationship, ReifiedRel: r} }
func PathValue(p *Path) Value                     { return Value{Kind: VKPath, ReifiedPath: p} }

func (v Value) IsNull() bool { return v.Kind == VKNull }

func (v Value) IsTruthy() (b bool, isNull bool) {
	if v.Kind == VKNull {
		return false, true
	}
	if v.Kind != VKBool {
		return false, true // non-boolean is treated as null in boolean positions
	}
	return v.Bool, false
}

// FromPropertyValue lifts a storage.PropertyValue into the executor's
// Value superset.
func FromPropertyValue(pv storage.PropertyValue) Value {
	switch pv.Kind {
	case storage.KindNull:
		return Null
	case storage.KindBool:
		return BoolValue(pv.Bool)
	case storage.KindInt:
		return IntValue(pv.Int)
	case storage.KindFloat:
		return FloatValue(pv.Float)
	case storage.KindString:
		return StringValue(pv.Str)
	case storage.KindDateTime:
		return DateTimeValue(pv.DateTime)
	case storage.KindBlob:
		return Value{Kind: VKBlob, Blob: pv.Blob}
	case storage.KindList:
		items := make([]Value, len(pv.List))
		for i, e := range pv.List {
			items[i] = FromPropertyValue(e)
		}
		return ListValue(items)
	case storage.KindMap:
		m := make(map[string]Value, len(pv.Map))
		for k, e := range pv.Map {
			m[k] = FromPropertyValue(e)
		}
		return MapValue(m)
	default:
		return Null
	}
}

// ToPropertyValue lowers a Value back to a storage.PropertyValue, used
// when writing SET/MERGE property values through the property
// collaborator. Reified/id-only shapes have no property representation;
// for them this returns an Execution error.
func ToPropertyValue(v Value) (storage.PropertyValue, error) {
	switch v.Kind {
	case VKNull:
		return storage.Null, nil
	case VKBool:
		return storage.BoolValue(v.Bool), nil
	case VKInt:
		return storage.IntValue(v.Int), nil
	case VKFloat:
		return storage.FloatValue(v.Float), nil
	case VKString:
		return storage.StringValue(v.Str), nil
	case VKDateTime:
		return storage.DateTimeValue(v.DateTime), nil
	case VKBlob:
		return storage.BlobValue(v.Blob), nil
	case VKList:
		items := make([]storage.PropertyValue, len(v.List))
		for i, e := range v.List {
			pv, err := ToPropertyValue(e)
			if err != nil {
				return storage.PropertyValue{}, err
			}
			items[i] = pv
		}
		return storage.ListValue(items), nil
	case VKMap:
		m := make(map[string]storage.PropertyValue, len(v.Map))
		for k, e := range v.Map {
			pv, err := ToPropertyValue(e)
			if err != nil {
				return storage.PropertyValue{}, err
			}
			m[k] = pv
		}
		return storage.MapValue(m), nil
	default:
		return storage.PropertyValue{}, execErr("value of kind %d is not a storable property", v.Kind)
	}
}

// Equal implements Cypher `=` for the non-null, non-three-valued case:
// Kleene semantics come from the evaluator's `=` case in evalBinary,
// which wraps this with null propagation.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		// Cypher treats Int/Float as comparable across kind for equality.
		if (v.Kind == VKInt && other.Kind == VKFloat) || (v.Kind == VKFloat && other.Kind == VKInt) {
			return v.asFloat() == other.asFloat()
		}
		return false
	}
	switch v.Kind {
	case VKNull:
		return true
	case VKBool:
		return v.Bool == other.Bool
	case VKInt:
		return v.Int == other.Int
	case VKFloat:
		return v.Float == other.Float
	case VKString:
		return v.Str == other.Str
	case VKDateTime:
		return v.DateTime == other.DateTime
	case VKBlob:
		return string(v.Blob) == string(other.Blob)
	case VKList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case VKMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for k, e := range v.Map {
			oe, ok := other.Map[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	case VKNodeID:
		return v.NodeID == other.NodeID
	case VKExternalID:
		return v.ExternalID == other.ExternalID
	case VKEdgeKey:
		return v.EdgeKey == other.EdgeKey
	case VKNode:
		return v.ReifiedNode != nil && other.ReifiedNode != nil && v.ReifiedNode.ID == other.ReifiedNode.ID
	case VKRelationship:
		return v.ReifiedRel != nil && other.ReifiedRel != nil && v.ReifiedRel.Key == other.ReifiedRel.Key
	default:
		return false
	}
}

func (v Value) asFloat() float64 {
	if v.Kind == VKInt {
		return float64(v.Int)
	}
	return v.Float
}

// Less implements the evaluator's total ordering for ORDER BY and
// min/max, with Null sorting last (callers reverse for DESC at the call
// site, not here, so Null still always sorts last in ascending order).
func (v Value) Less(other Value) bool {
	if v.Kind == VKNull {
		return false
	}
	if other.Kind == VKNull {
		return true
	}
	if (v.Kind == VKInt || v.Kind == VKFloat) && (other.Kind == VKInt || other.Kind == VKFloat) {
		return v.asFloat() < other.asFloat()
	}
	if v.Kind == VKString && other.Kind == VKString {
		return v.Str < other.Str
	}
	if v.Kind == VKDateTime && other.Kind == VKDateTime {
		return v.DateTime < other.DateTime
	}
	if v.Kind == VKBool && other.Kind == VKBool {
		return !v.Bool && other.Bool
	}
	// Incomparable kinds: fall back to a stable, arbitrary but
	// deterministic order by kind tag so sorts remain total functions.
	return v.Kind < other.Kind
}

// String renders a Value for diagnostics (EXPLAIN output, error messages).
func (v Value) String() string {
	switch v.Kind {
	case VKNull:
		return "null"
	case VKBool:
		return fmt.Sprintf("%t", v.Bool)
	case VKInt:
		return fmt.Sprintf("%d", v.Int)
	case VKFloat:
		return fmt.Sprintf("%g", v.Float)
	case VKString:
		return v.Str
	case VKDateTime:
		t := time.Unix(0, v.DateTime).UTC()
		return t.Format(isoLayout(t))
	case VKList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case VKMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, v.Map[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case VKNodeID:
		return fmt.Sprintf("Node(%d)", v.NodeID)
	case VKEdgeKey:
		return fmt.Sprintf("Rel(%d-%d->%d)", v.EdgeKey.Src, v.EdgeKey.Rel, v.EdgeKey.Dst)
	default:
		return fmt.Sprintf("<value kind=%d>", v.Kind)
	}
}

// Row is an ordered set of (column name -> Value) bindings.
// Later writes to the same name overwrite; order of first insertion is
// preserved so RETURN column order is stable.
type Row struct {
	names  []string
	values map[string]Value
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{values: make(map[string]Value)}
}

// Clone returns an independent copy sharing no mutable state with r.
func (r *Row) Clone() *Row {
	nr := &Row{
		names:  append([]string(nil), r.names...),
		values: make(map[string]Value, len(r.values)),
	}
	for k, v := range r.values {
		nr.values[k] = v
	}
	return nr
}

// Set binds name to v, appending name to the column order if it is new.
func (r *Row) Set(name string, v Value) {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

// Get returns the bound value for name, or Null with ok=false if unbound.
func (r *Row) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names returns the row's columns in binding order.
func (r *Row) Names() []string { return r.names }

// GetNode returns the row's binding for name as an internal node id,
// accepting either a VKNodeID or VKNode binding.
func (r *Row) GetNode(name string) (storage.InternalNodeID, bool) {
	v, ok := r.Get(name)
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case VKNodeID:
		return v.NodeID, true
	case VKNode:
		return v.ReifiedNode.ID, true
	default:
		return 0, false
	}
}

// hashKey produces a value usable as a Go map key for Distinct, hashing
// by column order and value content.
func (r *Row) hashKey() string {
	var b strings.Builder
	for _, n := range r.names {
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(r.values[n].String())
		b.WriteByte(';')
	}
	return b.String()
}

// Params is the caller-supplied parameter map plus the execution limits.
type Params struct {
	Values map[string]Value
	Limits ResourceLimits
}

// ResourceLimits bounds what a single query execution may consume,
// enforced by the executor's runtime guard.
type ResourceLimits struct {
	MaxIntermediateRows  int64
	MaxCollectionItems   int64
	SoftTimeoutMS        int64
	MaxApplyRowsPerOuter int64
}

// DefaultResourceLimits is the limit set used when a Params value carries
// no explicit limits. These values are independent of pkg/config: the
// limits pkg/nervusdb builds from the config defaults have a higher
// collection-item cap (5000000) and apply cap (1000000).
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxIntermediateRows:  1_000_000,
		MaxCollectionItems:   1_000_000,
		SoftTimeoutMS:        30_000,
		MaxApplyRowsPerOuter: 100_000,
	}
}
