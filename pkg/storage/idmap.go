package storage

import (
	"encoding/binary"
	"sync"
)

// idmapRecordSize is the on-disk encoding of one I2eRecord: external id
// (u64) + label id (u32), padded to 16 bytes for simple page arithmetic.
const idmapRecordSize = 16
const idmapRecordsPerPage = PageSize / idmapRecordSize

// IdMap is the external<->internal node id map (S1). It persists the i2e
// array (InternalNodeID -> (ExternalID, LabelID)) through the Pager and
// reconstructs the e2i reverse index in memory on load, since e2i is fully
// derivable from i2e.
//
// Position 0 of i2e is never used: InternalNodeID assignment starts at 1,
// and 0 means "no node".
type IdMap struct {
	mu sync.Mutex

	pager      *Pager
	metaPage   PageID // holds the record count
	dataStart  PageID // first page holding packed I2eRecords
	dataPages  uint32 // number of data pages currently allocated

	i2e []I2eRecord // index 0 unused
	e2i map[ExternalID]InternalNodeID
}

// LoadIdMap reads (or initializes) the IdMap rooted at header.idmapRoot.
// If the header has no idmap root yet (value 0, since page 0 is always the
// header page and can never also be the idmap root), a fresh empty IdMap
// is created and its root pages are allocated.
func LoadIdMap(pager *Pager) (*IdMap, error) {
	header := pager.Header()

	m := &IdMap{
		pager: pager,
		i2e:   make([]I2eRecord, 1), // index 0 unused
		e2i:   make(map[ExternalID]InternalNodeID),
	}

	if header.idmapRoot == 0 {
		metaPage, err := pager.Allocate()
		if err != nil {
			return nil, err
		}
		dataPage, err := pager.Allocate()
		if err != nil {
			return nil, err
		}
		m.metaPage = metaPage
		m.dataStart = dataPage
		m.dataPages = 1
		if err := m.writeRecordCount(0); err != nil {
			return nil, err
		}
		if err := pager.SetRoots(uint32(metaPage), header.propsRoot, header.statsRoot, header.segDirRoot); err != nil {
			return nil, err
		}
		return m, nil
	}

	m.metaPage = PageID(header.idmapRoot)
	m.dataStart = m.metaPage + 1

	count, err := m.readRecordCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		m.dataPages = 1
	} else {
		m.dataPages = (count-1)/idmapRecordsPerPage + 1
	}

	m.i2e = make([]I2eRecord, count+1)
	for idx := uint32(0); idx < count; idx++ {
		rec, err := m.readRecord(idx)
		if err != nil {
			return nil, err
		}
		m.i2e[idx+1] = rec
		m.e2i[rec.External] = InternalNodeID(idx + 1)
	}

	return m, nil
}

func (m *IdMap) readRecordCount() (uint32, error) {
	buf, err := m.pager.Load(m.metaPage)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[0:4]), nil
}

func (m *IdMap) writeRecordCount(count uint32) error {
	buf := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(buf[0:4], count)
	return m.pager.Write(m.metaPage, buf)
}

func (m *IdMap) readRecord(idx uint32) (I2eRecord, error) {
	page := m.dataStart + PageID(idx/idmapRecordsPerPage)
	buf, err := m.pager.Load(page)
	if err != nil {
		return I2eRecord{}, err
	}
	off := (idx % idmapRecordsPerPage) * idmapRecordSize
	return I2eRecord{
		External: ExternalID(binary.LittleEndian.Uint64(buf[off : off+8])),
		Label:    LabelID(binary.LittleEndian.Uint32(buf[off+8 : off+12])),
	}, nil
}

func (m *IdMap) writeRecord(idx uint32, rec I2eRecord) error {
	pageOffset := idx / idmapRecordsPerPage
	for m.dataPages <= pageOffset {
		if _, err := m.pager.Allocate(); err != nil {
			return err
		}
		m.dataPages++
	}
	page := m.dataStart + PageID(pageOffset)
	buf, err := m.pager.Load(page)
	if err != nil {
		return err
	}
	off := (idx % idmapRecordsPerPage) * idmapRecordSize
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(rec.External))
	binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(rec.Label))
	return m.pager.Write(page, buf)
}

// Lookup returns the internal id mapped to external, if any.
func (m *IdMap) Lookup(external ExternalID) (InternalNodeID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.e2i[external]
	return id, ok
}

// NextInternalID returns the internal id that would be assigned to the
// next created node, without consuming it.
func (m *IdMap) NextInternalID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.i2e))
}

// ResolveExternal returns the (external id, label id) recorded for an
// internal node id.
func (m *IdMap) ResolveExternal(id InternalNodeID) (I2eRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint32(id) == 0 || uint32(id) >= uint32(len(m.i2e)) {
		return I2eRecord{}, false
	}
	return m.i2e[id], true
}

// UpdateLabel rewrites the label recorded for an existing node, used by
// SET/REMOVE label clauses. The external id mapping is untouched; only
// label mutations after creation flow through here, so the e2i index
// never needs rebuilding.
func (m *IdMap) UpdateLabel(id InternalNodeID, label LabelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint32(id) == 0 || uint32(id) >= uint32(len(m.i2e)) {
		return ErrNodeNotFound
	}
	rec := m.i2e[id]
	rec.Label = label
	if err := m.writeRecord(uint32(id)-1, rec); err != nil {
		return err
	}
	m.i2e[id] = rec
	return nil
}

// ApplyCreateNode durably records a new (external, label) -> internal
// mapping. It fails if external already maps to a (different) internal id,
// or if internal is not the map's current NextInternalID — node ids must
// be applied in strict creation order, matching the commit protocol.
//
// Applying the same (external, internal) pair twice is treated as a no-op,
// matching WAL-replay idempotence.
func (m *IdMap) ApplyCreateNode(external ExternalID, label LabelID, internal InternalNodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.e2i[external]; ok {
		if existing == internal {
			return nil
		}
		return ErrIDMapMismatch
	}

	if uint32(internal) != uint32(len(m.i2e)) {
		return ErrInternalIDOutOfOrder
	}

	rec := I2eRecord{External: external, Label: label}
	// Records are written 0-indexed on disk: slot 0 corresponds to
	// InternalNodeID 1 (position 0 of i2e is never used).
	if err := m.writeRecord(uint32(internal)-1, rec); err != nil {
		return err
	}
	m.i2e = append(m.i2e, rec)
	m.e2i[external] = internal
	return m.writeRecordCount(uint32(len(m.i2e)) - 1)
}
