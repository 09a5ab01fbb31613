package storage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagerAllocateWriteLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ndb")
	p, err := OpenPager(path)
	require.NoError(t, err)
	defer p.Close()

	id, err := p.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, PageID(0), id, "page 0 is the header and must never be allocated")

	buf := make([]byte, PageSize)
	copy(buf, []byte("hello pages"))
	require.NoError(t, p.Write(id, buf))

	got, err := p.Load(id)
	require.NoError(t, err)
	assert.Equal(t, buf, got)
}

func TestPagerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ndb")
	p, err := OpenPager(path)
	require.NoError(t, err)

	id, err := p.Allocate()
	require.NoError(t, err)
	buf := make([]byte, PageSize)
	buf[0] = 0xAB
	require.NoError(t, p.Write(id, buf))
	require.NoError(t, p.SetRoots(uint32(id), 0, 0, 0))
	require.NoError(t, p.Close())

	p2, err := OpenPager(path)
	require.NoError(t, err)
	defer p2.Close()

	got, err := p2.Load(id)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), got[0])
	assert.Equal(t, uint32(id), p2.Header().idmapRoot)
}

func TestPagerRejectsEpochMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ndb")
	p, err := OpenPager(path)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	// Bump the stored epoch: a future-format file must be refused, never
	// silently migrated.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[4:8], binary.LittleEndian.Uint32(data[4:8])+1)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = OpenPager(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompatibility)
}

func TestPagerLoadOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ndb")
	p, err := OpenPager(path)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Load(PageID(999))
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestIdMapApplyAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ndb")
	p, err := OpenPager(path)
	require.NoError(t, err)

	m, err := LoadIdMap(p)
	require.NoError(t, err)

	require.NoError(t, m.ApplyCreateNode(100, 7, 1))
	require.NoError(t, m.ApplyCreateNode(200, 8, 2))

	// Out-of-order internal id and remapped external id both fail.
	assert.ErrorIs(t, m.ApplyCreateNode(300, 0, 5), ErrInternalIDOutOfOrder)
	assert.ErrorIs(t, m.ApplyCreateNode(100, 0, 3), ErrIDMapMismatch)

	// Idempotent re-apply of the same mapping is a no-op.
	require.NoError(t, m.ApplyCreateNode(100, 7, 1))

	require.NoError(t, p.Close())

	p2, err := OpenPager(path)
	require.NoError(t, err)
	defer p2.Close()

	m2, err := LoadIdMap(p2)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), m2.NextInternalID())

	id, ok := m2.Lookup(200)
	require.True(t, ok)
	assert.Equal(t, InternalNodeID(2), id)

	rec, ok := m2.ResolveExternal(1)
	require.True(t, ok)
	assert.Equal(t, ExternalID(100), rec.External)
	assert.Equal(t, LabelID(7), rec.Label)
}

func TestIdMapUpdateLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ndb")
	p, err := OpenPager(path)
	require.NoError(t, err)
	defer p.Close()

	m, err := LoadIdMap(p)
	require.NoError(t, err)
	require.NoError(t, m.ApplyCreateNode(100, 7, 1))

	require.NoError(t, m.UpdateLabel(1, 9))
	rec, ok := m.ResolveExternal(1)
	require.True(t, ok)
	assert.Equal(t, LabelID(9), rec.Label)

	assert.ErrorIs(t, m.UpdateLabel(99, 1), ErrNodeNotFound)
}
