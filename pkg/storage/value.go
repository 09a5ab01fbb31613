package storage

import "fmt"

// ValueKind tags the variant held by a PropertyValue.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDateTime
	KindBlob
	KindList
	KindMap
)

// PropertyValue is the closed tagged-union value type stored on nodes and
// edges by the property collaborator (see PropertyStore). It is a strict
// subset of the executor's runtime Value type — PropertyValue never holds a
// reified Node/Relationship/Path, only the data that can be written to
// storage.
type PropertyValue struct {
	Kind ValueKind

	Bool     bool
	Int      int64
	Float    float64
	Str      string
	DateTime int64 // unix nanoseconds
	Blob     []byte
	List     []PropertyValue
	Map      map[string]PropertyValue
}

// Null is the canonical null PropertyValue.
var Null = PropertyValue{Kind: KindNull}

func BoolValue(b bool) PropertyValue        { return PropertyValue{Kind: KindBool, Bool: b} }
func IntValue(i int64) PropertyValue        { return PropertyValue{Kind: KindInt, Int: i} }
func FloatValue(f float64) PropertyValue    { return PropertyValue{Kind: KindFloat, Float: f} }
func StringValue(s string) PropertyValue    { return PropertyValue{Kind: KindString, Str: s} }
func DateTimeValue(ns int64) PropertyValue  { return PropertyValue{Kind: KindDateTime, DateTime: ns} }
func BlobValue(b []byte) PropertyValue      { return PropertyValue{Kind: KindBlob, Blob: b} }
func ListValue(l []PropertyValue) PropertyValue {
	return PropertyValue{Kind: KindList, List: l}
}
func MapValue(m map[string]PropertyValue) PropertyValue {
	return PropertyValue{Kind: KindMap, Map: m}
}

// IsNull reports whether v is the Null variant.
func (v PropertyValue) IsNull() bool { return v.Kind == KindNull }

// Equal is value equality by kind-and-content, used by tombstone/dedup
// bookkeeping and by MERGE's property-match search. It does not implement
// Cypher's three-valued `=` operator (see the query evaluator for that).
func (v PropertyValue) Equal(other PropertyValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindInt:
		return v.Int == other.Int
	case KindFloat:
		return v.Float == other.Float
	case KindString:
		return v.Str == other.Str
	case KindDateTime:
		return v.DateTime == other.DateTime
	case KindBlob:
		if len(v.Blob) != len(other.Blob) {
			return false
		}
		for i := range v.Blob {
			if v.Blob[i] != other.Blob[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for k, mv := range v.Map {
			ov, ok := other.Map[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a PropertyValue for diagnostics; it is not Cypher's
// textual rendering (that lives in the query package's evaluator).
func (v PropertyValue) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	case KindDateTime:
		return fmt.Sprintf("datetime(%d)", v.DateTime)
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.Blob))
	case KindList:
		return fmt.Sprintf("list(%d items)", len(v.List))
	case KindMap:
		return fmt.Sprintf("map(%d keys)", len(v.Map))
	}
	return "?"
}
