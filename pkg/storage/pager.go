package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// PageSize is the fixed page size of the .ndb file. NervusDB never mixes
// page sizes within one file.
const PageSize = 4096

// formatEpoch is bumped whenever the on-disk page layout changes
// incompatibly. OpenPager refuses to read a file stamped with a different
// epoch rather than attempt a migration.
const formatEpoch uint32 = 1

const ndbMagic uint32 = 0x4e565242 // "NVRB"

// headerPage is the fixed layout of page 0:
//
//	offset 0:  magic        (u32)
//	offset 4:  epoch        (u32)
//	offset 8:  pageCount    (u32)
//	offset 12: idmapRoot    (u32)
//	offset 16: propsRoot    (u32)
//	offset 20: statsRoot    (u32)
//	offset 24: segDirRoot   (u32)
type headerPage struct {
	magic      uint32
	epoch      uint32
	pageCount  uint32
	idmapRoot  uint32
	propsRoot  uint32
	statsRoot  uint32
	segDirRoot uint32
}

const headerLayoutSize = 28

func (h headerPage) encode() []byte {
	buf := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.epoch)
	binary.LittleEndian.PutUint32(buf[8:12], h.pageCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.idmapRoot)
	binary.LittleEndian.PutUint32(buf[16:20], h.propsRoot)
	binary.LittleEndian.PutUint32(buf[20:24], h.statsRoot)
	binary.LittleEndian.PutUint32(buf[24:28], h.segDirRoot)
	return buf
}

func decodeHeader(buf []byte) headerPage {
	return headerPage{
		magic:      binary.LittleEndian.Uint32(buf[0:4]),
		epoch:      binary.LittleEndian.Uint32(buf[4:8]),
		pageCount:  binary.LittleEndian.Uint32(buf[8:12]),
		idmapRoot:  binary.LittleEndian.Uint32(buf[12:16]),
		propsRoot:  binary.LittleEndian.Uint32(buf[16:20]),
		statsRoot:  binary.LittleEndian.Uint32(buf[20:24]),
		segDirRoot: binary.LittleEndian.Uint32(buf[24:28]),
	}
}

// PageID identifies a fixed-size page within a Pager's file. Page 0 is
// always the header page.
type PageID uint32

// Pager partitions a single file into PageSize-byte pages and hands out
// page ids on demand. It is the bottom layer (S0) of the storage engine;
// IdMap is its only direct client (the property
// B-tree that would also sit on the Pager is an out-of-scope collaborator
// backed by Badger instead — see pkg/storage/properties.go).
type Pager struct {
	mu     sync.Mutex
	file   *os.File
	header headerPage
}

// OpenPager opens (or creates) path as a paged file. A freshly created file
// gets an initialized header page written and synced before OpenPager
// returns. An existing file whose header epoch does not match the current
// build's formatEpoch is rejected with ErrCompatibility.
func OpenPager(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open pager file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: stat pager file: %w", err)
	}

	p := &Pager{file: f}

	if info.Size() == 0 {
		p.header = headerPage{magic: ndbMagic, epoch: formatEpoch, pageCount: 1}
		if _, err := f.WriteAt(p.header.encode(), 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: write header page: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: sync header page: %w", err)
		}
		return p, nil
	}

	buf := make([]byte, PageSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: read header page: %w", err)
	}
	p.header = decodeHeader(buf)
	if p.header.magic != ndbMagic {
		f.Close()
		return nil, fmt.Errorf("%w: bad magic", ErrCompatibility)
	}
	if p.header.epoch != formatEpoch {
		f.Close()
		return nil, fmt.Errorf("%w: file epoch %d, expected %d", ErrCompatibility, p.header.epoch, formatEpoch)
	}
	return p, nil
}

// Close flushes and closes the underlying file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Close()
}

// Header returns a copy of the current header page contents.
func (p *Pager) Header() headerPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header
}

// SetRoots updates the header page's root pointers and persists it
// immediately; callers hold this call to a short critical section.
func (p *Pager) SetRoots(idmapRoot, propsRoot, statsRoot, segDirRoot uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.idmapRoot = idmapRoot
	p.header.propsRoot = propsRoot
	p.header.statsRoot = statsRoot
	p.header.segDirRoot = segDirRoot
	if _, err := p.file.WriteAt(p.header.encode(), 0); err != nil {
		return fmt.Errorf("storage: write header page: %w", err)
	}
	return p.file.Sync()
}

// Allocate reserves and zero-initializes a new page, returning its id.
func (p *Pager) Allocate() (PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := PageID(p.header.pageCount)
	p.header.pageCount++
	zero := make([]byte, PageSize)
	if _, err := p.file.WriteAt(zero, int64(id)*PageSize); err != nil {
		return 0, fmt.Errorf("storage: allocate page: %w", err)
	}
	if _, err := p.file.WriteAt(p.header.encode(), 0); err != nil {
		return 0, fmt.Errorf("storage: persist page count: %w", err)
	}
	return id, nil
}

// Load reads the raw bytes of page id. The returned slice is exactly
// PageSize bytes.
func (p *Pager) Load(id PageID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if uint32(id) >= p.header.pageCount {
		return nil, ErrPageOutOfRange
	}
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(id)*PageSize); err != nil {
		return nil, fmt.Errorf("storage: load page %d: %w", id, err)
	}
	return buf, nil
}

// Write overwrites page id with data, which must be exactly PageSize
// bytes.
func (p *Pager) Write(id PageID, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("storage: page write must be %d bytes, got %d", PageSize, len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if uint32(id) >= p.header.pageCount {
		return ErrPageOutOfRange
	}
	if _, err := p.file.WriteAt(data, int64(id)*PageSize); err != nil {
		return fmt.Errorf("storage: write page %d: %w", id, err)
	}
	return nil
}

// Sync flushes pending writes to disk.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Sync()
}

// Free is a placeholder: nothing reclaims pages yet (there is no
// vacuum/compact pass). It validates the id and otherwise no-ops, leaving
// room for a future free-list without changing the Pager's public
// contract.
func (p *Pager) Free(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if uint32(id) >= p.header.pageCount {
		return ErrPageOutOfRange
	}
	return nil
}
