package dtm0log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSegment(t *testing.T) *BadgerSegment {
	t.Helper()
	seg, err := OpenBadgerSegment("", true, false, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })
	return seg
}

func TestBadgerSegmentCaptureThenGet(t *testing.T) {
	seg := openTestSegment(t)

	tx, err := seg.BeginTx(Credit{Ops: 10, Bytes: 1024})
	require.NoError(t, err)
	require.NoError(t, tx.Capture(headerKey(), []byte("hello")))
	require.NoError(t, tx.Commit())

	got, err := seg.Get(headerKey())
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestBadgerSegmentGetMissingReturnsNotFound(t *testing.T) {
	seg := openTestSegment(t)
	_, err := seg.Get(headerKey())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerTxAbortDiscardsWrites(t *testing.T) {
	seg := openTestSegment(t)

	tx, err := seg.BeginTx(Credit{Ops: 10, Bytes: 1024})
	require.NoError(t, err)
	require.NoError(t, tx.Capture(headerKey(), []byte("hello")))
	require.NoError(t, tx.Abort())

	_, err = seg.Get(headerKey())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerTxDebitsCreditBudget(t *testing.T) {
	seg := openTestSegment(t)

	tx, err := seg.BeginTx(Credit{Ops: 1, Bytes: 4})
	require.NoError(t, err)
	require.NoError(t, tx.Capture(headerKey(), []byte("ok")))

	err = tx.Capture(listHeadKey(), []byte("over"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestBadgerTxGetSeesOwnUncommittedWrites(t *testing.T) {
	seg := openTestSegment(t)

	tx, err := seg.BeginTx(Credit{Ops: 10, Bytes: 1024})
	require.NoError(t, err)
	require.NoError(t, tx.Capture(headerKey(), []byte("staged")))

	got, err := tx.Get(headerKey())
	require.NoError(t, err)
	assert.Equal(t, []byte("staged"), got)

	// Not yet visible outside the transaction.
	_, err = seg.Get(headerKey())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tx.Commit())
}

func TestOpenBadgerSegmentReconcilesAuxSeqAfterReopen(t *testing.T) {
	dir := t.TempDir()

	seg, err := OpenBadgerSegment(dir, false, false, 0, 0)
	require.NoError(t, err)

	tx, err := seg.BeginTx(Credit{Ops: 10, Bytes: 1024})
	require.NoError(t, err)
	addr, err := tx.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, tx.Capture(addr, []byte("first-payload")))
	require.NoError(t, tx.Commit())
	require.NoError(t, seg.Close())

	reopened, err := OpenBadgerSegment(dir, false, false, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	tx2, err := reopened.BeginTx(Credit{Ops: 10, Bytes: 1024})
	require.NoError(t, err)
	addr2, err := tx2.Alloc(16)
	require.NoError(t, err)
	require.NotEqual(t, addr, addr2, "a fresh Alloc after reopen must not reuse an address already committed before the restart")
	require.NoError(t, tx2.Capture(addr2, []byte("second-payload")))
	require.NoError(t, tx2.Commit())

	got, err := reopened.Get(addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("first-payload"), got)

	got2, err := reopened.Get(addr2)
	require.NoError(t, err)
	assert.Equal(t, []byte("second-payload"), got2)
}

func TestPackUnpackChecksummedRoundTrip(t *testing.T) {
	data := packChecksummed(magicHeader, []byte("payload"))
	got, err := unpackChecksummed(magicHeader, data)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestUnpackChecksummedRejectsWrongMagic(t *testing.T) {
	data := packChecksummed(magicHeader, []byte("payload"))
	_, err := unpackChecksummed(magicListHead, data)
	assert.ErrorIs(t, err, ErrCorruption)
}
