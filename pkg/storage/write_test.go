package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// TestWrite_StableRoundtrip walks the literal scenario: mkdir, create,
// stable write, read back.
func TestWrite_StableRoundtrip(t *testing.T) {
	s, _ := newTestStore(t)

	dirFid, _, err := s.Create(ctx(), RootFID, "a", nil, false)
	require.NoError(t, err)
	fileFid, _, err := s.Create(ctx(), dirFid, "f", nil, true)
	require.NoError(t, err)

	count, committed, verf, err := s.Write(ctx(), fileFid, 0, []byte("hello"), zip.FileSync, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
	assert.Equal(t, zip.FileSync, committed)
	assert.Equal(t, s.Epoch(), verf)

	data, attrs, err := s.Read(ctx(), fileFid, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.EqualValues(t, 5, attrs.Size)
}

// TestWrite_StableAtOffset tests a write past the current end and a short
// read at EOF.
func TestWrite_StableAtOffset(t *testing.T) {
	s, _ := newTestStore(t)

	fid, _, err := s.Create(ctx(), RootFID, "sparse", nil, true)
	require.NoError(t, err)

	_, _, _, err = s.Write(ctx(), fid, 3, []byte("xyz"), zip.DataSync, 1)
	require.NoError(t, err)

	data, attrs, err := s.Read(ctx(), fid, 0, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 6, attrs.Size)
	assert.Equal(t, []byte{0, 0, 0, 'x', 'y', 'z'}, data)
}

// TestWrite_StableOnDirectory tests ISDIR.
func TestWrite_StableOnDirectory(t *testing.T) {
	s, _ := newTestStore(t)

	dirFid, _, err := s.Create(ctx(), RootFID, "d", nil, false)
	require.NoError(t, err)

	_, _, _, err = s.Write(ctx(), dirFid, 0, []byte("no"), zip.FileSync, 0)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIsDir))
}

// TestWrite_UnstableThenCommit walks the literal scenario: two unstable
// writes are invisible until COMMIT drains them, in order.
func TestWrite_UnstableThenCommit(t *testing.T) {
	s, _ := newTestStore(t)

	dirFid, _, err := s.Create(ctx(), RootFID, "a", nil, false)
	require.NoError(t, err)
	fid, _, err := s.Create(ctx(), dirFid, "f", nil, true)
	require.NoError(t, err)

	_, committed, verf, err := s.Write(ctx(), fid, 0, []byte("aaaa"), zip.Unstable, 0)
	require.NoError(t, err)
	assert.Equal(t, zip.Unstable, committed)
	assert.Equal(t, s.Epoch(), verf)

	_, _, _, err = s.Write(ctx(), fid, 4, []byte("bbb"), zip.Unstable, 1)
	require.NoError(t, err)

	// Still nothing on disk.
	data, _, err := s.Read(ctx(), fid, 0, 7)
	require.NoError(t, err)
	assert.Empty(t, data)

	commitVerf, err := s.Commit(ctx(), fid, 2)
	require.NoError(t, err)
	assert.Equal(t, s.Epoch(), commitVerf)

	data, _, err = s.Read(ctx(), fid, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "aaaabbb", string(data))
}

// TestWrite_OverlappingUnstable tests that later writes override earlier
// overlapping bytes when the commit drains in order.
func TestWrite_OverlappingUnstable(t *testing.T) {
	s, _ := newTestStore(t)

	fid, _, err := s.Create(ctx(), RootFID, "overlap", nil, true)
	require.NoError(t, err)

	_, _, _, err = s.Write(ctx(), fid, 0, []byte("11111"), zip.Unstable, 0)
	require.NoError(t, err)
	_, _, _, err = s.Write(ctx(), fid, 2, []byte("22"), zip.Unstable, 0)
	require.NoError(t, err)

	_, err = s.Commit(ctx(), fid, 0)
	require.NoError(t, err)

	data, _, err := s.Read(ctx(), fid, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "11221", string(data))
}

// TestCommit_NoBufferedWrites tests that a commit with nothing buffered is
// a no-op that still reports the epoch, and that a second commit after a
// drain finds nothing.
func TestCommit_NoBufferedWrites(t *testing.T) {
	s, _ := newTestStore(t)

	fid, _, err := s.Create(ctx(), RootFID, "idle", nil, true)
	require.NoError(t, err)

	verf, err := s.Commit(ctx(), fid, 0)
	require.NoError(t, err)
	assert.Equal(t, s.Epoch(), verf)

	_, _, _, err = s.Write(ctx(), fid, 0, []byte("zz"), zip.Unstable, 0)
	require.NoError(t, err)
	_, err = s.Commit(ctx(), fid, 0)
	require.NoError(t, err)

	verf, err = s.Commit(ctx(), fid, 0)
	require.NoError(t, err)
	assert.Equal(t, s.Epoch(), verf)
}

// TestCommit_StaleFid tests STALE for a commit against a FID that does not
// exist.
func TestCommit_StaleFid(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Commit(ctx(), 31337, 0)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindStale))
}

// TestEpoch_ChangesAcrossRestart tests that a reopen loses buffered
// unstable writes and moves the epoch forward, which is exactly what the
// verifier tells clients.
func TestEpoch_ChangesAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Format(dir))

	first, err := Open(dir)
	require.NoError(t, err)

	fid, _, err := first.Create(ctx(), RootFID, "f", nil, true)
	require.NoError(t, err)
	_, _, firstVerf, err := first.Write(ctx(), fid, 0, []byte("aaaa"), zip.Unstable, 0)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(dir)
	require.NoError(t, err)
	defer second.Close()

	assert.Greater(t, second.Epoch(), firstVerf, "epoch must advance across restarts")

	// The buffered write died with the first process.
	_, err = second.Commit(ctx(), fid, 0)
	require.NoError(t, err)
	data, _, err := second.Read(ctx(), fid, 0, 4)
	require.NoError(t, err)
	assert.Empty(t, data, "unstable writes are volatile")

	// The client-side replay sequence under the new epoch converges.
	_, _, verf, err := second.Write(ctx(), fid, 0, []byte("aaaa"), zip.Unstable, 0)
	require.NoError(t, err)
	assert.Equal(t, second.Epoch(), verf)
	_, _, _, err = second.Write(ctx(), fid, 4, []byte("bbb"), zip.Unstable, 0)
	require.NoError(t, err)
	_, err = second.Commit(ctx(), fid, 0)
	require.NoError(t, err)

	data, _, err = second.Read(ctx(), fid, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "aaaabbb", string(data))
}

// TestWrite_TruncatesReadToBudget tests the MaxBufLen clamp on reads.
func TestWrite_TruncatesReadToBudget(t *testing.T) {
	s, _ := newTestStore(t)

	fid, _, err := s.Create(ctx(), RootFID, "big", nil, true)
	require.NoError(t, err)

	payload := make([]byte, zip.MaxBufLen+500)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, _, _, err = s.Write(ctx(), fid, 0, payload, zip.FileSync, 0)
	require.NoError(t, err)

	data, _, err := s.Read(ctx(), fid, 0, uint32(len(payload)))
	require.NoError(t, err)
	assert.Len(t, data, zip.MaxBufLen)
}
