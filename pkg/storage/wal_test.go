package storage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := OpenWAL(path)
	require.NoError(t, err)
	return w, path
}

func appendTx(t *testing.T, w *WAL, txid int64, ops ...WalRecord) {
	t.Helper()
	require.NoError(t, w.Append(WalRecord{Tag: TagBeginTx, TxID: txid}))
	for _, op := range ops {
		require.NoError(t, w.Append(op))
	}
	require.NoError(t, w.Append(WalRecord{Tag: TagCommitTx, TxID: txid}))
	require.NoError(t, w.Fsync())
}

func TestWALReplayRoundTrip(t *testing.T) {
	w, path := openTestWAL(t)

	appendTx(t, w, 1,
		WalRecord{Tag: TagCreateNode, External: 100, Label: 1, Internal: 1},
		WalRecord{Tag: TagCreateEdge, Src: 1, Rel: 2, Dst: 1},
	)
	appendTx(t, w, 2,
		WalRecord{Tag: TagTombstoneNode, Node: 1},
		WalRecord{Tag: TagTombstoneEdge, Src: 1, Rel: 2, Dst: 1},
	)
	require.NoError(t, w.Close())

	w2, err := OpenWAL(path)
	require.NoError(t, err)
	defer w2.Close()

	committed, err := w2.ReplayCommitted()
	require.NoError(t, err)
	require.Len(t, committed, 2)

	assert.Equal(t, int64(1), committed[0].TxID)
	require.Len(t, committed[0].Ops, 2)
	assert.Equal(t, TagCreateNode, committed[0].Ops[0].Tag)
	assert.Equal(t, ExternalID(100), committed[0].Ops[0].External)
	assert.Equal(t, InternalNodeID(1), committed[0].Ops[0].Internal)
	assert.Equal(t, TagCreateEdge, committed[0].Ops[1].Tag)

	assert.Equal(t, int64(2), committed[1].TxID)
	assert.Equal(t, TagTombstoneNode, committed[1].Ops[0].Tag)
	assert.Equal(t, TagTombstoneEdge, committed[1].Ops[1].Tag)
}

func TestWALDiscardsUncommittedTail(t *testing.T) {
	w, path := openTestWAL(t)

	appendTx(t, w, 1, WalRecord{Tag: TagCreateNode, External: 7, Label: 0, Internal: 1})

	// Begin a second transaction but never commit it.
	require.NoError(t, w.Append(WalRecord{Tag: TagBeginTx, TxID: 2}))
	require.NoError(t, w.Append(WalRecord{Tag: TagCreateNode, External: 8, Label: 0, Internal: 2}))
	require.NoError(t, w.Close())

	w2, err := OpenWAL(path)
	require.NoError(t, err)
	defer w2.Close()

	committed, err := w2.ReplayCommitted()
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.Equal(t, int64(1), committed[0].TxID)
}

func TestWALDiscardsTruncatedFrame(t *testing.T) {
	w, path := openTestWAL(t)
	appendTx(t, w, 1, WalRecord{Tag: TagCreateNode, External: 7, Label: 0, Internal: 1})
	appendTx(t, w, 2, WalRecord{Tag: TagCreateNode, External: 8, Label: 0, Internal: 2})
	require.NoError(t, w.Close())

	// Chop the last few bytes so the final frame is short.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	w2, err := OpenWAL(path)
	require.NoError(t, err)
	defer w2.Close()

	committed, err := w2.ReplayCommitted()
	require.NoError(t, err)
	// Tx 2's CommitTx frame was truncated, so only tx 1 survives.
	require.Len(t, committed, 1)
	assert.Equal(t, int64(1), committed[0].TxID)
}

func TestWALCRCMismatchStopsReplay(t *testing.T) {
	w, path := openTestWAL(t)
	appendTx(t, w, 1, WalRecord{Tag: TagCreateNode, External: 7, Label: 0, Internal: 1})
	appendTx(t, w, 2, WalRecord{Tag: TagCreateNode, External: 8, Label: 0, Internal: 2})
	require.NoError(t, w.Close())

	// Flip a payload byte inside the BeginTx frame of tx 2, past the first
	// transaction's three frames. The stored CRC no longer matches, so
	// replay must stop there: tx 1 survives intact, tx 2 is discarded
	// whole, and no partial effect of tx 2 leaks through.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	off := 0
	for i := 0; i < 3; i++ {
		frameLen := binary.LittleEndian.Uint32(data[off : off+4])
		off += 8 + int(frameLen)
	}
	data[off+8] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w2, err := OpenWAL(path)
	require.NoError(t, err)
	defer w2.Close()

	committed, err := w2.ReplayCommitted()
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.Equal(t, int64(1), committed[0].TxID)
}
