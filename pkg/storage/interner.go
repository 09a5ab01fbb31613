package storage

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Interner maps label and relationship-type names to compact integer ids
// and back, so the hot storage path (IdMap, WAL, L0Run, L1Segment) only
// ever carries a LabelID/RelTypeID rather than a string.
type Interner interface {
	InternLabel(name string) (LabelID, error)
	ResolveLabelName(id LabelID) (string, bool)
	ResolveLabelID(name string) (LabelID, bool)
	InternRelType(name string) (RelTypeID, error)
	ResolveRelTypeName(id RelTypeID) (string, bool)
	ResolveRelTypeID(name string) (RelTypeID, bool)
}

const (
	internPrefixLabelByName   = byte(0x20) // prefix + name -> big-endian LabelID
	internPrefixLabelByID     = byte(0x21) // prefix + big-endian LabelID -> name
	internPrefixRelByName     = byte(0x22) // prefix + name -> big-endian RelTypeID
	internPrefixRelByID       = byte(0x23) // prefix + big-endian RelTypeID -> name
	internPrefixLabelCounter  = byte(0x24)
	internPrefixRelCounter    = byte(0x25)
)

// BadgerInterner implements Interner on its own BadgerDB store, separate
// from BadgerPropertyStore's, with the same key-prefix layout. An in-process cache avoids a Badger
// round trip for already-seen names: BadgerDB access sits behind a
// mutex-guarded Go map cache.
type BadgerInterner struct {
	db *badger.DB

	mu           sync.RWMutex
	labelByName  map[string]LabelID
	labelByID    map[LabelID]string
	relByName    map[string]RelTypeID
	relByID      map[RelTypeID]string
	nextLabelID  uint32
	nextRelTypeID uint32
}

// OpenBadgerInterner opens (creating if necessary) a Badger database at
// dir for label/rel-type interning. Pass "" for an in-memory store.
func OpenBadgerInterner(dir string) (*BadgerInterner, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open interner: %w", err)
	}
	in := &BadgerInterner{
		db:          db,
		labelByName: make(map[string]LabelID),
		labelByID:   make(map[LabelID]string),
		relByName:   make(map[string]RelTypeID),
		relByID:     make(map[RelTypeID]string),
	}
	if err := in.warm(); err != nil {
		db.Close()
		return nil, err
	}
	return in, nil
}

// warm loads every existing mapping into the in-memory cache and restores
// the allocation counters, so InternLabel/InternRelType never reuse an id
// across a process restart.
func (in *BadgerInterner) warm() error {
	return in.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek([]byte{internPrefixLabelByID}); it.ValidForPrefix([]byte{internPrefixLabelByID}); it.Next() {
			key := it.Item().KeyCopy(nil)
			id := LabelID(binary.BigEndian.Uint32(key[1:]))
			err := it.Item().Value(func(val []byte) error {
				name := string(val)
				in.labelByID[id] = name
				in.labelByName[name] = id
				if uint32(id) >= in.nextLabelID {
					in.nextLabelID = uint32(id) + 1
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		for it.Seek([]byte{internPrefixRelByID}); it.ValidForPrefix([]byte{internPrefixRelByID}); it.Next() {
			key := it.Item().KeyCopy(nil)
			id := RelTypeID(binary.BigEndian.Uint32(key[1:]))
			err := it.Item().Value(func(val []byte) error {
				name := string(val)
				in.relByID[id] = name
				in.relByName[name] = id
				if uint32(id) >= in.nextRelTypeID {
					in.nextRelTypeID = uint32(id) + 1
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// InternLabel returns the id for name, allocating and persisting a new one
// if name has not been seen before.
func (in *BadgerInterner) InternLabel(name string) (LabelID, error) {
	in.mu.RLock()
	if id, ok := in.labelByName[name]; ok {
		in.mu.RUnlock()
		return id, nil
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.labelByName[name]; ok {
		return id, nil
	}
	id := LabelID(atomic.AddUint32(&in.nextLabelID, 1) - 1)
	if err := in.persistLabel(name, id); err != nil {
		return 0, err
	}
	in.labelByName[name] = id
	in.labelByID[id] = name
	return id, nil
}

func (in *BadgerInterner) persistLabel(name string, id LabelID) error {
	idKey := make([]byte, 5)
	idKey[0] = internPrefixLabelByID
	binary.BigEndian.PutUint32(idKey[1:], uint32(id))
	nameKey := append([]byte{internPrefixLabelByName}, []byte(name)...)
	return in.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(idKey, []byte(name)); err != nil {
			return err
		}
		idVal := make([]byte, 4)
		binary.BigEndian.PutUint32(idVal, uint32(id))
		return txn.Set(nameKey, idVal)
	})
}

// ResolveLabelName returns the name for a previously-interned LabelID.
func (in *BadgerInterner) ResolveLabelName(id LabelID) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	name, ok := in.labelByID[id]
	return name, ok
}

// ResolveLabelID returns the id for a previously-interned label name,
// without allocating a new one.
func (in *BadgerInterner) ResolveLabelID(name string) (LabelID, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	id, ok := in.labelByName[name]
	return id, ok
}

// InternRelType mirrors InternLabel for relationship types.
func (in *BadgerInterner) InternRelType(name string) (RelTypeID, error) {
	in.mu.RLock()
	if id, ok := in.relByName[name]; ok {
		in.mu.RUnlock()
		return id, nil
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.relByName[name]; ok {
		return id, nil
	}
	id := RelTypeID(atomic.AddUint32(&in.nextRelTypeID, 1) - 1)
	if err := in.persistRelType(name, id); err != nil {
		return 0, err
	}
	in.relByName[name] = id
	in.relByID[id] = name
	return id, nil
}

func (in *BadgerInterner) persistRelType(name string, id RelTypeID) error {
	idKey := make([]byte, 5)
	idKey[0] = internPrefixRelByID
	binary.BigEndian.PutUint32(idKey[1:], uint32(id))
	nameKey := append([]byte{internPrefixRelByName}, []byte(name)...)
	return in.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(idKey, []byte(name)); err != nil {
			return err
		}
		idVal := make([]byte, 4)
		binary.BigEndian.PutUint32(idVal, uint32(id))
		return txn.Set(nameKey, idVal)
	})
}

// ResolveRelTypeName returns the name for a previously-interned RelTypeID.
func (in *BadgerInterner) ResolveRelTypeName(id RelTypeID) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	name, ok := in.relByID[id]
	return name, ok
}

// ResolveRelTypeID returns the id for a previously-interned rel-type name,
// without allocating a new one.
func (in *BadgerInterner) ResolveRelTypeID(name string) (RelTypeID, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	id, ok := in.relByName[name]
	return id, ok
}

// Close releases the underlying Badger database.
func (in *BadgerInterner) Close() error {
	return in.db.Close()
}
