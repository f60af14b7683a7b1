package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, Format(dir))

	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func ctx() context.Context {
	return context.Background()
}

// TestFormat_Layout tests the fresh data directory layout: counter, tmp
// scratch dir, root numbered dir, and root named file.
func TestFormat_Layout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Format(dir))

	fi, err := os.Stat(filepath.Join(dir, "counter"))
	require.NoError(t, err)
	assert.EqualValues(t, 8, fi.Size())

	fi, err = os.Stat(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	fi, err = os.Stat(filepath.Join(dir, "1"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	fi, err = os.Stat(filepath.Join(dir, "1.root"))
	require.NoError(t, err)
	assert.False(t, fi.IsDir())

	assert.True(t, IsFormatted(dir))
}

// TestCreate_ThenLookup tests the create/lookup roundtrip and the on-disk
// pair it leaves behind.
func TestCreate_ThenLookup(t *testing.T) {
	s, dir := newTestStore(t)

	fid, attrs, err := s.Create(ctx(), RootFID, "hello.txt", nil, true)
	require.NoError(t, err)
	assert.Equal(t, zip.FileTypeReg, attrs.Type)
	assert.EqualValues(t, 0, attrs.Size)

	// Both halves of the pair must exist.
	_, err = os.Stat(filepath.Join(dir, "1", fmt.Sprint(fid)))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "1", fmt.Sprintf("%d.hello.txt", fid)))
	require.NoError(t, err)

	gotFid, gotAttrs, err := s.Lookup(ctx(), RootFID, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, fid, gotFid)
	assert.Equal(t, attrs.FID, gotAttrs.FID)
	assert.Equal(t, zip.FileTypeReg, gotAttrs.Type)
}

// TestCreate_DirectoryObject tests that MKDIR produces a host directory as
// the numbered file but a regular file as the named file.
func TestCreate_DirectoryObject(t *testing.T) {
	s, dir := newTestStore(t)

	fid, attrs, err := s.Create(ctx(), RootFID, "subdir", nil, false)
	require.NoError(t, err)
	assert.Equal(t, zip.FileTypeDir, attrs.Type)

	fi, err := os.Stat(filepath.Join(dir, "1", fmt.Sprint(fid)))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	fi, err = os.Stat(filepath.Join(dir, "1", fmt.Sprintf("%d.subdir", fid)))
	require.NoError(t, err)
	assert.False(t, fi.IsDir(), "named files are always regular files")
}

// TestCreate_ExistingName tests that creating an already existing name
// fails with EXIST.
func TestCreate_ExistingName(t *testing.T) {
	s, _ := newTestStore(t)

	_, _, err := s.Create(ctx(), RootFID, "x", nil, true)
	require.NoError(t, err)

	_, _, err = s.Create(ctx(), RootFID, "x", nil, true)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindExist))
}

// TestCreate_IllegalNames tests that empty, slash-bearing, and purely
// numeric names are rejected without a wire status (opaque errors).
func TestCreate_IllegalNames(t *testing.T) {
	s, _ := newTestStore(t)

	for _, name := range []string{"", "a/b", "123", "7"} {
		_, _, err := s.Create(ctx(), RootFID, name, nil, true)
		require.Error(t, err, "name %q must be rejected", name)
		_, classified := KindOf(err)
		assert.False(t, classified, "name %q should fail with an opaque error", name)
	}
}

// TestCreate_NameTooLong tests the host name limit mapping.
func TestCreate_NameTooLong(t *testing.T) {
	s, _ := newTestStore(t)

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	_, _, err := s.Create(ctx(), RootFID, string(long), nil, true)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNameTooLong))
}

// TestCreate_Contention spawns concurrent creators of the same name.
// Exactly one wins; the rest see EXIST; the directory holds exactly one
// pair.
func TestCreate_Contention(t *testing.T) {
	s, dir := newTestStore(t)

	const racers = 50
	var wg sync.WaitGroup
	var winners, exists int
	var mu sync.Mutex

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Create(ctx(), RootFID, "contended", nil, true)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if IsKind(err, KindExist) {
				exists++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, racers-1, exists)

	pairs, err := listPairs(filepath.Join(dir, "1"))
	require.NoError(t, err)
	count := 0
	for _, p := range pairs {
		if p.Name == "contended" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// TestLookup_Missing tests NOENT for absent names and NOTDIR for file
// parents.
func TestLookup_Missing(t *testing.T) {
	s, _ := newTestStore(t)

	_, _, err := s.Lookup(ctx(), RootFID, "ghost")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNoEnt))

	fileFid, _, err := s.Create(ctx(), RootFID, "plain", nil, true)
	require.NoError(t, err)

	_, _, err = s.Lookup(ctx(), fileFid, "child")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotDir))
}

// TestGetAttr_Stale tests STALE for a FID that never existed.
func TestGetAttr_Stale(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetAttr(ctx(), 9999)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindStale))
}

// TestRemove_RmDirFlow walks the literal scenario: rmdir of a non-empty
// directory fails with NOTEMPTY, emptying it lets rmdir succeed, and the
// name then resolves to NOENT.
func TestRemove_RmDirFlow(t *testing.T) {
	s, _ := newTestStore(t)

	dirFid, _, err := s.Create(ctx(), RootFID, "d", nil, false)
	require.NoError(t, err)
	_, _, err = s.Create(ctx(), dirFid, "f", nil, true)
	require.NoError(t, err)

	err = s.RmDir(ctx(), RootFID, "d")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotEmpty))

	require.NoError(t, s.Remove(ctx(), dirFid, "f"))
	require.NoError(t, s.RmDir(ctx(), RootFID, "d"))

	_, _, err = s.Lookup(ctx(), RootFID, "d")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNoEnt))
}

// TestRemove_TypeChecks tests ISDIR for REMOVE on a directory and NOTDIR
// for RMDIR on a file.
func TestRemove_TypeChecks(t *testing.T) {
	s, _ := newTestStore(t)

	_, _, err := s.Create(ctx(), RootFID, "d", nil, false)
	require.NoError(t, err)
	_, _, err = s.Create(ctx(), RootFID, "f", nil, true)
	require.NoError(t, err)

	err = s.Remove(ctx(), RootFID, "d")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIsDir))

	err = s.RmDir(ctx(), RootFID, "f")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotDir))
}

// TestRemove_LeavesNoTrace tests that both halves of the pair are gone and
// the FID no longer resolves.
func TestRemove_LeavesNoTrace(t *testing.T) {
	s, dir := newTestStore(t)

	fid, _, err := s.Create(ctx(), RootFID, "gone", nil, true)
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx(), RootFID, "gone"))

	_, err = os.Stat(filepath.Join(dir, "1", fmt.Sprint(fid)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "1", fmt.Sprintf("%d.gone", fid)))
	assert.True(t, os.IsNotExist(err))

	_, err = s.GetAttr(ctx(), fid)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindStale))
}

// TestRename_NoOverwrite tests the literal scenario: renaming onto an
// existing name returns EXIST and both objects stay reachable.
func TestRename_NoOverwrite(t *testing.T) {
	s, _ := newTestStore(t)

	aFid, _, err := s.Create(ctx(), RootFID, "a", nil, true)
	require.NoError(t, err)
	bFid, _, err := s.Create(ctx(), RootFID, "b", nil, true)
	require.NoError(t, err)

	err = s.Rename(ctx(), RootFID, "a", RootFID, "b")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindExist))

	gotA, _, err := s.Lookup(ctx(), RootFID, "a")
	require.NoError(t, err)
	assert.Equal(t, aFid, gotA)
	gotB, _, err := s.Lookup(ctx(), RootFID, "b")
	require.NoError(t, err)
	assert.Equal(t, bFid, gotB)
}

// TestRename_AcrossDirectories tests a cross-directory rename: the FID is
// preserved, the old name vanishes, and the object's children stay
// reachable through the resolver.
func TestRename_AcrossDirectories(t *testing.T) {
	s, _ := newTestStore(t)

	srcDir, _, err := s.Create(ctx(), RootFID, "src", nil, false)
	require.NoError(t, err)
	dstDir, _, err := s.Create(ctx(), RootFID, "dst", nil, false)
	require.NoError(t, err)

	movedDir, _, err := s.Create(ctx(), srcDir, "payload", nil, false)
	require.NoError(t, err)
	childFid, _, err := s.Create(ctx(), movedDir, "inner.txt", nil, true)
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx(), srcDir, "payload", dstDir, "renamed"))

	_, _, err = s.Lookup(ctx(), srcDir, "payload")
	assert.True(t, IsKind(err, KindNoEnt))

	gotFid, _, err := s.Lookup(ctx(), dstDir, "renamed")
	require.NoError(t, err)
	assert.Equal(t, movedDir, gotFid)

	// The child moved with its parent and still resolves by FID.
	attrs, err := s.GetAttr(ctx(), childFid)
	require.NoError(t, err)
	assert.Equal(t, childFid, attrs.FID)
}

// TestRename_IntoOwnSubtree tests that moving a directory under itself is
// rejected.
func TestRename_IntoOwnSubtree(t *testing.T) {
	s, _ := newTestStore(t)

	outer, _, err := s.Create(ctx(), RootFID, "outer", nil, false)
	require.NoError(t, err)
	inner, _, err := s.Create(ctx(), outer, "inner", nil, false)
	require.NoError(t, err)

	err = s.Rename(ctx(), RootFID, "outer", inner, "trapped")
	require.Error(t, err)
	_, classified := KindOf(err)
	assert.False(t, classified, "subtree rename has no wire status")

	// Everything still where it was.
	gotFid, _, err := s.Lookup(ctx(), RootFID, "outer")
	require.NoError(t, err)
	assert.Equal(t, outer, gotFid)
}

// TestRename_MissingSource tests NOENT when the source name is absent.
func TestRename_MissingSource(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.Rename(ctx(), RootFID, "ghost", RootFID, "other")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNoEnt))
}

// TestReadDir_SortedAndOffset tests fid-ascending order and the logical
// offset semantics, including an offset past the end.
func TestReadDir_SortedAndOffset(t *testing.T) {
	s, _ := newTestStore(t)

	names := []string{"charlie", "alpha", "bravo", "delta"}
	fids := make(map[string]uint64, len(names))
	for _, name := range names {
		fid, _, err := s.Create(ctx(), RootFID, name, nil, true)
		require.NoError(t, err)
		fids[name] = fid
	}

	entries, err := s.ReadDir(ctx(), RootFID, 0)
	require.NoError(t, err)
	require.Len(t, entries, len(names))
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].FID, entries[i].FID, "entries must be fid-sorted")
	}
	// FIDs are allocated in creation order, so the sort mirrors it.
	assert.Equal(t, "charlie", entries[0].Name)

	tail, err := s.ReadDir(ctx(), RootFID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, entries[2], tail[0])

	empty, err := s.ReadDir(ctx(), RootFID, int64(len(names)+5))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// TestReadDir_FiltersOrphans tests that a numbered file without a named
// sibling (the crash window of an interrupted create) is invisible, and so
// is a named file without its numbered sibling (interrupted rename).
func TestReadDir_FiltersOrphans(t *testing.T) {
	s, dir := newTestStore(t)

	_, _, err := s.Create(ctx(), RootFID, "real", nil, true)
	require.NoError(t, err)

	// Simulate a crash between create steps: numbered without named.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1", "777"), nil, 0644))
	// And the rename window: named without numbered.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1", "888.phantom"), nil, 0644))

	entries, err := s.ReadDir(ctx(), RootFID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "real", entries[0].Name)

	_, _, err = s.Lookup(ctx(), RootFID, "phantom")
	assert.True(t, IsKind(err, KindNoEnt))

	// The orphaned numbered file's FID does not resolve.
	_, err = s.GetAttr(ctx(), 777)
	assert.True(t, IsKind(err, KindStale))
}

// TestSetAttr_SizeAndTimes tests truncation, the atime/mtime mirror quirk,
// and the mtime-only no-op.
func TestSetAttr_SizeAndTimes(t *testing.T) {
	s, _ := newTestStore(t)

	fid, _, err := s.Create(ctx(), RootFID, "f", nil, true)
	require.NoError(t, err)

	size := int64(1024)
	attrs, err := s.SetAttr(ctx(), fid, &zip.Sattr{Size: &size})
	require.NoError(t, err)
	assert.EqualValues(t, 1024, attrs.Size)
	assert.EqualValues(t, 1, attrs.Blocks)

	// atime alone mirrors into mtime.
	at := zip.TimeVal{Seconds: 1000000, Useconds: 0}
	attrs, err = s.SetAttr(ctx(), fid, &zip.Sattr{Atime: &at})
	require.NoError(t, err)
	assert.EqualValues(t, 1000000, attrs.Atime.Seconds)
	assert.EqualValues(t, 1000000, attrs.Mtime.Seconds)

	// mtime alone applies nothing.
	mt := zip.TimeVal{Seconds: 2000000, Useconds: 0}
	attrs, err = s.SetAttr(ctx(), fid, &zip.Sattr{Mtime: &mt})
	require.NoError(t, err)
	assert.EqualValues(t, 1000000, attrs.Mtime.Seconds, "mtime without atime is not applied")
}

// TestSetAttr_SizeOnDirectory tests ISDIR.
func TestSetAttr_SizeOnDirectory(t *testing.T) {
	s, _ := newTestStore(t)

	dirFid, _, err := s.Create(ctx(), RootFID, "d", nil, false)
	require.NoError(t, err)

	size := int64(10)
	_, err = s.SetAttr(ctx(), dirFid, &zip.Sattr{Size: &size})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIsDir))
}

// TestStatFS tests the synthetic summary and the stale-handle check.
func TestStatFS(t *testing.T) {
	s, _ := newTestStore(t)

	res, err := s.StatFS(ctx(), RootFID)
	require.NoError(t, err)
	assert.EqualValues(t, zip.BlockSize, res.Bsize)
	assert.NotZero(t, res.Blocks)

	_, err = s.StatFS(ctx(), 4242)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindStale))
}
