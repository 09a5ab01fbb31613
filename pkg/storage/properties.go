package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// PropertyStore is the minimal interface the executor and Snapshot use to
// read and write node/edge property maps. The property B-tree itself is
// an external collaborator: NervusDB's core pager/WAL/idmap
// never look inside a property value, they only carry NodeCreate/EdgeKey
// identities. BadgerPropertyStore is the bundled, disk-backed
// implementation.
type PropertyStore interface {
	GetNodeProperty(id InternalNodeID, key string) (PropertyValue, bool, error)
	SetNodeProperty(id InternalNodeID, key string, v PropertyValue) error
	RemoveNodeProperty(id InternalNodeID, key string) error
	NodeProperties(id InternalNodeID) (map[string]PropertyValue, error)
	SetNodeProperties(id InternalNodeID, props map[string]PropertyValue, appendOnly bool) error
	DeleteNodeProperties(id InternalNodeID) error

	GetEdgeProperty(k EdgeKey, key string) (PropertyValue, bool, error)
	SetEdgeProperty(k EdgeKey, key string, v PropertyValue) error
	RemoveEdgeProperty(k EdgeKey, key string) error
	EdgeProperties(k EdgeKey) (map[string]PropertyValue, error)
	DeleteEdgeProperties(k EdgeKey) error

	Close() error
}

// Key prefixes for BadgerPropertyStore's two logical tables.
const (
	propPrefixNode = byte(0x10) // node: prefix + big-endian InternalNodeID -> JSON(map[string]PropertyValue)
	propPrefixEdge = byte(0x11) // edge: prefix + src + rel + dst (big-endian) -> JSON(map[string]PropertyValue)
)

func nodePropKey(id InternalNodeID) []byte {
	key := make([]byte, 5)
	key[0] = propPrefixNode
	binary.BigEndian.PutUint32(key[1:], uint32(id))
	return key
}

func edgePropKey(k EdgeKey) []byte {
	key := make([]byte, 13)
	key[0] = propPrefixEdge
	binary.BigEndian.PutUint32(key[1:5], uint32(k.Src))
	binary.BigEndian.PutUint32(key[5:9], uint32(k.Rel))
	binary.BigEndian.PutUint32(key[9:13], uint32(k.Dst))
	return key
}

// jsonValue is the JSON wire shape for a PropertyValue, avoiding the need
// to teach encoding/json about the PropertyValue variant tag directly.
type jsonValue struct {
	Kind     ValueKind            `json:"kind"`
	Bool     bool                 `json:"bool,omitempty"`
	Int      int64                `json:"int,omitempty"`
	Float    float64              `json:"float,omitempty"`
	Str      string               `json:"str,omitempty"`
	DateTime int64                `json:"datetime,omitempty"`
	Blob     []byte               `json:"blob,omitempty"`
	List     []jsonValue          `json:"list,omitempty"`
	Map      map[string]jsonValue `json:"map,omitempty"`
}

func toJSONValue(v PropertyValue) jsonValue {
	jv := jsonValue{Kind: v.Kind, Bool: v.Bool, Int: v.Int, Float: v.Float, Str: v.Str, DateTime: v.DateTime, Blob: v.Blob}
	if v.List != nil {
		jv.List = make([]jsonValue, len(v.List))
		for i, e := range v.List {
			jv.List[i] = toJSONValue(e)
		}
	}
	if v.Map != nil {
		jv.Map = make(map[string]jsonValue, len(v.Map))
		for k, e := range v.Map {
			jv.Map[k] = toJSONValue(e)
		}
	}
	return jv
}

func fromJSONValue(jv jsonValue) PropertyValue {
	v := PropertyValue{Kind: jv.Kind, Bool: jv.Bool, Int: jv.Int, Float: jv.Float, Str: jv.Str, DateTime: jv.DateTime, Blob: jv.Blob}
	if jv.List != nil {
		v.List = make([]PropertyValue, len(jv.List))
		for i, e := range jv.List {
			v.List[i] = fromJSONValue(e)
		}
	}
	if jv.Map != nil {
		v.Map = make(map[string]PropertyValue, len(jv.Map))
		for k, e := range jv.Map {
			v.Map[k] = fromJSONValue(e)
		}
	}
	return v
}

func encodePropMap(props map[string]PropertyValue) ([]byte, error) {
	wire := make(map[string]jsonValue, len(props))
	for k, v := range props {
		wire[k] = toJSONValue(v)
	}
	return json.Marshal(wire)
}

func decodePropMap(data []byte) (map[string]PropertyValue, error) {
	var wire map[string]jsonValue
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	out := make(map[string]PropertyValue, len(wire))
	for k, v := range wire {
		out[k] = fromJSONValue(v)
	}
	return out, nil
}

// BadgerPropertyStore implements PropertyStore on top of a BadgerDB
// instance. It is scoped to just the property side-table:
// one JSON-encoded property map per node and per edge, keyed by a binary
// prefix plus the identity (InternalNodeID, or the three-field EdgeKey).
type BadgerPropertyStore struct {
	db *badger.DB
}

// OpenBadgerPropertyStore opens (creating if necessary) a Badger database
// at dir to back node/edge properties. Pass "" for an in-memory store,
// suitable for tests and ephemeral graphs.
func OpenBadgerPropertyStore(dir string) (*BadgerPropertyStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open property store: %w", err)
	}
	return &BadgerPropertyStore{db: db}, nil
}

func (b *BadgerPropertyStore) readMap(key []byte) (map[string]PropertyValue, error) {
	var out map[string]PropertyValue
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			out = map[string]PropertyValue{}
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, derr := decodePropMap(val)
			if derr != nil {
				return derr
			}
			out = decoded
			return nil
		})
	})
	return out, err
}

func (b *BadgerPropertyStore) writeMap(key []byte, props map[string]PropertyValue) error {
	data, err := encodePropMap(props)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (b *BadgerPropertyStore) GetNodeProperty(id InternalNodeID, key string) (PropertyValue, bool, error) {
	props, err := b.readMap(nodePropKey(id))
	if err != nil {
		return PropertyValue{}, false, err
	}
	v, ok := props[key]
	return v, ok, nil
}

func (b *BadgerPropertyStore) SetNodeProperty(id InternalNodeID, key string, v PropertyValue) error {
	k := nodePropKey(id)
	props, err := b.readMap(k)
	if err != nil {
		return err
	}
	props[key] = v
	return b.writeMap(k, props)
}

func (b *BadgerPropertyStore) RemoveNodeProperty(id InternalNodeID, key string) error {
	k := nodePropKey(id)
	props, err := b.readMap(k)
	if err != nil {
		return err
	}
	delete(props, key)
	return b.writeMap(k, props)
}

func (b *BadgerPropertyStore) NodeProperties(id InternalNodeID) (map[string]PropertyValue, error) {
	return b.readMap(nodePropKey(id))
}

func (b *BadgerPropertyStore) SetNodeProperties(id InternalNodeID, props map[string]PropertyValue, appendOnly bool) error {
	k := nodePropKey(id)
	if !appendOnly {
		return b.writeMap(k, props)
	}
	existing, err := b.readMap(k)
	if err != nil {
		return err
	}
	for key, v := range props {
		existing[key] = v
	}
	return b.writeMap(k, existing)
}

func (b *BadgerPropertyStore) DeleteNodeProperties(id InternalNodeID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(nodePropKey(id))
	})
}

func (b *BadgerPropertyStore) GetEdgeProperty(ek EdgeKey, key string) (PropertyValue, bool, error) {
	props, err := b.readMap(edgePropKey(ek))
	if err != nil {
		return PropertyValue{}, false, err
	}
	v, ok := props[key]
	return v, ok, nil
}

func (b *BadgerPropertyStore) SetEdgeProperty(ek EdgeKey, key string, v PropertyValue) error {
	k := edgePropKey(ek)
	props, err := b.readMap(k)
	if err != nil {
		return err
	}
	props[key] = v
	return b.writeMap(k, props)
}

func (b *BadgerPropertyStore) RemoveEdgeProperty(ek EdgeKey, key string) error {
	k := edgePropKey(ek)
	props, err := b.readMap(k)
	if err != nil {
		return err
	}
	delete(props, key)
	return b.writeMap(k, props)
}

func (b *BadgerPropertyStore) EdgeProperties(ek EdgeKey) (map[string]PropertyValue, error) {
	return b.readMap(edgePropKey(ek))
}

func (b *BadgerPropertyStore) DeleteEdgeProperties(ek EdgeKey) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(edgePropKey(ek))
	})
}

// Close releases the underlying Badger database.
func (b *BadgerPropertyStore) Close() error {
	return b.db.Close()
}
