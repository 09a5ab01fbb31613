package query

import (
	"encoding/json"

	"github.com/nervusdb/nervusdb/pkg/storage"
)

// ParseParamsJSON decodes a caller-supplied JSON parameter object into a
// Params value. Scalars, lists, and maps follow the PropertyValue tag set;
// integral numbers decode as Int, everything else as Float. Reified
// node/relationship shapes (objects carrying "__node" / "__rel" markers)
// are accepted for reading.
func ParseParamsJSON(data []byte) (*Params, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, syntaxErr("invalid parameter JSON: %v", err)
	}
	values := make(map[string]Value, len(raw))
	for k, v := range raw {
		values[k] = jsonToValue(v)
	}
	return &Params{Values: values, Limits: DefaultResourceLimits()}, nil
}

func jsonToValue(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case bool:
		return BoolValue(t)
	case float64:
		if t == float64(int64(t)) {
			return IntValue(int64(t))
		}
		return FloatValue(t)
	case string:
		return StringValue(t)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = jsonToValue(e)
		}
		return ListValue(items)
	case map[string]any:
		if nv, ok := jsonReifiedNode(t); ok {
			return nv
		}
		if rv, ok := jsonReifiedRel(t); ok {
			return rv
		}
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = jsonToValue(e)
		}
		return MapValue(m)
	default:
		return Null
	}
}

func jsonReifiedNode(m map[string]any) (Value, bool) {
	id, ok := m["__node"].(float64)
	if !ok {
		return Null, false
	}
	node := &Node{ID: storage.InternalNodeID(uint32(id)), Properties: map[string]Value{}}
	if labels, ok := m["labels"].([]any); ok {
		for _, l := range labels {
			if s, ok := l.(string); ok {
				node.Labels = append(node.Labels, s)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for k, v := range props {
			node.Properties[k] = jsonToValue(v)
		}
	}
	return ReifiedNodeValue(node), true
}

func jsonReifiedRel(m map[string]any) (Value, bool) {
	relType, ok := m["__rel"].(string)
	if !ok {
		return Null, false
	}
	rel := &Relationship{Type: relType, Properties: map[string]Value{}}
	if src, ok := m["src"].(float64); ok {
		rel.Key.Src = storage.InternalNodeID(uint32(src))
	}
	if dst, ok := m["dst"].(float64); ok {
		rel.Key.Dst = storage.InternalNodeID(uint32(dst))
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for k, v := range props {
			rel.Properties[k] = jsonToValue(v)
		}
	}
	return ReifiedRelValue(rel), true
}
