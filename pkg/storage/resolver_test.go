package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResolver_ColdCacheBFS simulates a restart: a second store over the
// same directory starts with an empty cache and must find deep objects via
// the disk scan.
func TestResolver_ColdCacheBFS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Format(dir))

	first, err := Open(dir)
	require.NoError(t, err)

	aFid, _, err := first.Create(ctx(), RootFID, "a", nil, false)
	require.NoError(t, err)
	bFid, _, err := first.Create(ctx(), aFid, "b", nil, false)
	require.NoError(t, err)
	leafFid, _, err := first.Create(ctx(), bFid, "leaf.txt", nil, true)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(dir)
	require.NoError(t, err)
	defer second.Close()

	// Nothing cached yet.
	second.mu.RLock()
	assert.Empty(t, second.res.parent)
	second.mu.RUnlock()

	attrs, err := second.GetAttr(ctx(), leafFid)
	require.NoError(t, err)
	assert.Equal(t, leafFid, attrs.FID)

	// The scan repopulated the chain up to the root.
	second.mu.RLock()
	assert.Equal(t, bFid, second.res.parent[leafFid])
	assert.Equal(t, aFid, second.res.parent[bFid])
	assert.Equal(t, RootFID, second.res.parent[aFid])
	second.mu.RUnlock()
}

// TestResolver_OrphanInvisible tests that the scan skips a numbered file
// with no named sibling: its subtree does not exist.
func TestResolver_OrphanInvisible(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Format(dir))

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	// A numbered directory with content but no named sibling.
	orphan := filepath.Join(dir, "1", "555")
	require.NoError(t, os.Mkdir(orphan, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(orphan, "556"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(orphan, "556.hidden"), nil, 0644))

	_, err = s.GetAttr(ctx(), 555)
	assert.True(t, IsKind(err, KindStale))

	// Even the consistent-looking pair below the orphan is unreachable.
	_, err = s.GetAttr(ctx(), 556)
	assert.True(t, IsKind(err, KindStale))
}

// TestResolver_CacheRemovedOnDelete tests the self-healing path: resolving
// a FID again after its entry was deleted reports stale instead of a
// phantom path.
func TestResolver_CacheRemovedOnDelete(t *testing.T) {
	s, _ := newTestStore(t)

	fid, _, err := s.Create(ctx(), RootFID, "ephemeral", nil, true)
	require.NoError(t, err)

	_, err = s.GetAttr(ctx(), fid)
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx(), RootFID, "ephemeral"))

	s.mu.RLock()
	_, cached := s.res.parent[fid]
	s.mu.RUnlock()
	assert.False(t, cached, "delete must evict the cache entry")

	_, err = s.GetAttr(ctx(), fid)
	assert.True(t, IsKind(err, KindStale))
}

// TestResolver_RenameRepoints tests that rename updates the cached parent
// so resolution keeps working without a disk scan.
func TestResolver_RenameRepoints(t *testing.T) {
	s, _ := newTestStore(t)

	srcDir, _, err := s.Create(ctx(), RootFID, "src", nil, false)
	require.NoError(t, err)
	dstDir, _, err := s.Create(ctx(), RootFID, "dst", nil, false)
	require.NoError(t, err)
	fid, _, err := s.Create(ctx(), srcDir, "mover", nil, true)
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx(), srcDir, "mover", dstDir, "moved"))

	s.mu.RLock()
	assert.Equal(t, dstDir, s.res.parent[fid])
	s.mu.RUnlock()

	attrs, err := s.GetAttr(ctx(), fid)
	require.NoError(t, err)
	assert.Equal(t, fid, attrs.FID)
}
