// Package storage implements the server-side storage engine: the on-disk
// layout of numbered/named file pairs, the durable FID counter, the
// FID→path resolver cache with its disk fallback, the name-reservation
// protocol, and the two-mode write pipeline with its commit barrier.
//
// Every durable operation orders its host mutations so that a crash at any
// point leaves either a fully existing object (both files present) or a
// recoverable orphan that listing and resolution filter out.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// Store is the storage engine for one data directory. The process owns the
// directory exclusively; running two servers over the same directory is
// undefined.
type Store struct {
	dataDir string
	counter *Counter

	// mu is the resolver cache lock: readers resolve concurrently,
	// mutations (insert, remove, rename update) are exclusive. Rename
	// performs its host rename inside the critical section; delete unlinks
	// the numbered file before taking it.
	mu  sync.RWMutex
	res *resolver

	names    *reservationSet
	unstable *unstableTable

	// epoch is the first counter value fetched by this process. It is
	// fixed for the server's lifetime and returned as the write verifier.
	epoch int64
}

// Open opens a formatted data directory and allocates the server epoch.
func Open(dataDir string) (*Store, error) {
	if !IsFormatted(dataDir) {
		return nil, fmt.Errorf("data directory %s is not formatted", dataDir)
	}

	counter, err := OpenCounter(filepath.Join(dataDir, counterFileName))
	if err != nil {
		return nil, err
	}

	epoch, err := counter.FetchInc()
	if err != nil {
		counter.Close()
		return nil, fmt.Errorf("allocate epoch: %w", err)
	}

	s := &Store{
		dataDir:  dataDir,
		counter:  counter,
		res:      newResolver(),
		names:    newReservationSet(),
		unstable: newUnstableTable(),
		epoch:    int64(epoch),
	}

	logger.Info("Storage opened", logger.KeyPath, dataDir, logger.KeyEpoch, s.epoch)
	return s, nil
}

// Close releases the store's resources. Buffered unstable writes are
// dropped, which is exactly what the epoch protocol tells clients to
// expect.
func (s *Store) Close() error {
	return s.counter.Close()
}

// Epoch returns the server epoch, the verifier carried on every WRITE and
// COMMIT response.
func (s *Store) Epoch() int64 {
	return s.epoch
}

// DataDir returns the data directory path.
func (s *Store) DataDir() string {
	return s.dataDir
}

func (s *Store) rootPath() string {
	return filepath.Join(s.dataDir, numberedName(RootFID))
}

// ============================================================================
// Attributes
// ============================================================================

// GetAttr returns the attributes of the object with the given FID.
func (s *Store) GetAttr(ctx context.Context, fid uint64) (*zip.Fattr, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindIO, "getattr", "", err)
	}

	path, found, err := s.resolve(fid)
	if err != nil {
		return nil, newError(KindIO, "getattr", "", err)
	}
	if !found {
		return nil, newError(KindStale, "getattr", "", fmt.Errorf("fid %d", fid))
	}
	return getAttr(path, fid)
}

// SetAttr applies the settable attributes to the object and returns its
// fresh attribute record. Size is only legal on files.
func (s *Store) SetAttr(ctx context.Context, fid uint64, sattr *zip.Sattr) (*zip.Fattr, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindIO, "setattr", "", err)
	}

	path, found, err := s.resolve(fid)
	if err != nil {
		return nil, newError(KindIO, "setattr", "", err)
	}
	if !found {
		return nil, newError(KindStale, "setattr", "", fmt.Errorf("fid %d", fid))
	}

	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(KindStale, "setattr", path, err)
		}
		return nil, newError(KindIO, "setattr", path, err)
	}

	if err := applySattr("setattr", path, fi.IsDir(), sattr); err != nil {
		return nil, err
	}

	return getAttr(path, fid)
}

// ============================================================================
// Lookup / ReadDir / Read / StatFS
// ============================================================================

// Lookup finds the child called name in the given directory.
func (s *Store) Lookup(ctx context.Context, dirFid uint64, name string) (uint64, *zip.Fattr, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, newError(KindIO, "lookup", "", err)
	}

	dpath, err := s.resolveDir("lookup", dirFid)
	if err != nil {
		return 0, nil, err
	}

	fid, found, err := findByName(dpath, name)
	if err != nil {
		return 0, nil, newError(KindIO, "lookup", dpath, err)
	}
	if !found {
		return 0, nil, newError(KindNoEnt, "lookup", dpath, fmt.Errorf("name %q", name))
	}

	attrs, err := getAttr(filepath.Join(dpath, numberedName(fid)), fid)
	if err != nil {
		return 0, nil, err
	}
	return fid, attrs, nil
}

// ReadDir lists the directory's consistent entries sorted by FID
// ascending, starting at the given index into that ordering. The caller
// applies the response byte budget.
func (s *Store) ReadDir(ctx context.Context, dirFid uint64, offset int64) ([]zip.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindIO, "readdir", "", err)
	}

	dpath, err := s.resolveDir("readdir", dirFid)
	if err != nil {
		return nil, err
	}

	pairs, err := listPairs(dpath)
	if err != nil {
		return nil, newError(KindIO, "readdir", dpath, err)
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].FID < pairs[j].FID })

	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(pairs)) {
		return nil, nil
	}

	entries := make([]zip.DirEntry, 0, int64(len(pairs))-offset)
	for _, p := range pairs[offset:] {
		ftype := zip.FileTypeReg
		if p.IsDir {
			ftype = zip.FileTypeDir
		}
		entries = append(entries, zip.DirEntry{FID: p.FID, Name: p.Name, Type: ftype})
	}
	return entries, nil
}

// Read returns up to min(count, MaxBufLen) bytes at offset, along with the
// file's attributes. The positional read tolerates a concurrent rename of
// the numbered file: the open handle keeps serving the old content.
func (s *Store) Read(ctx context.Context, fid uint64, offset int64, count uint32) ([]byte, *zip.Fattr, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, newError(KindIO, "read", "", err)
	}

	path, found, err := s.resolve(fid)
	if err != nil {
		return nil, nil, newError(KindIO, "read", "", err)
	}
	if !found {
		return nil, nil, newError(KindStale, "read", "", fmt.Errorf("fid %d", fid))
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, newError(KindStale, "read", path, err)
		}
		return nil, nil, newError(KindIO, "read", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, newError(KindIO, "read", path, err)
	}
	if fi.IsDir() {
		return nil, nil, newError(KindIsDir, "read", path, nil)
	}

	if count > zip.MaxBufLen {
		count = zip.MaxBufLen
	}
	buf := make([]byte, count)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, nil, newError(KindIO, "read", path, err)
	}

	attrs, err := getAttr(path, fid)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], attrs, nil
}

// StatFS returns a fixed synthetic filesystem summary. The FID is still
// resolved so stale handles are reported.
func (s *Store) StatFS(ctx context.Context, fid uint64) (*zip.StatFsRes, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindIO, "statfs", "", err)
	}

	_, found, err := s.resolve(fid)
	if err != nil {
		return nil, newError(KindIO, "statfs", "", err)
	}
	if !found {
		return nil, newError(KindStale, "statfs", "", fmt.Errorf("fid %d", fid))
	}

	return &zip.StatFsRes{
		Tsize:  zip.BlockSize,
		Bsize:  zip.BlockSize,
		Blocks: 1 << 20,
		Bfree:  1 << 19,
		Bavail: 1 << 19,
	}, nil
}

// ============================================================================
// Create / MkDir
// ============================================================================

// Create creates a regular file or directory called name inside the given
// directory and returns the new FID with fresh attributes.
//
// The host sequence is ordered for crash safety: numbered file first, the
// parent fsynced, then the named file, the parent fsynced again. A crash
// in between leaves a numbered orphan that resolution and listing filter
// out; the FID is never reused.
func (s *Store) Create(ctx context.Context, dirFid uint64, name string, sattr *zip.Sattr, isFile bool) (uint64, *zip.Fattr, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, newError(KindIO, "create", "", err)
	}

	dpath, err := s.resolveDir("create", dirFid)
	if err != nil {
		return 0, nil, err
	}

	if err := checkName("create", name); err != nil {
		return 0, nil, err
	}

	if !s.names.reserve(dpath, name) {
		return 0, nil, newError(KindExist, "create", dpath, fmt.Errorf("name %q reserved", name))
	}
	defer s.names.release(dpath, name)

	if _, found, err := findByName(dpath, name); err != nil {
		return 0, nil, newError(KindIO, "create", dpath, err)
	} else if found {
		return 0, nil, newError(KindExist, "create", dpath, fmt.Errorf("name %q", name))
	}

	newFid, err := s.counter.FetchInc()
	if err != nil {
		return 0, nil, newError(KindIO, "create", dpath, err)
	}

	numbered := filepath.Join(dpath, numberedName(newFid))
	if isFile {
		f, err := os.OpenFile(numbered, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return 0, nil, newError(KindIO, "create", numbered, err)
		}
		f.Close()
	} else {
		if err := os.Mkdir(numbered, 0777); err != nil {
			return 0, nil, newError(KindIO, "create", numbered, err)
		}
	}

	if err := fsyncDir(dpath); err != nil {
		return 0, nil, newError(KindIO, "create", dpath, err)
	}

	named := filepath.Join(dpath, namedFileName(newFid, name))
	nf, err := os.OpenFile(named, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, nil, newError(KindIO, "create", named, err)
	}
	nf.Close()

	if err := fsyncDir(dpath); err != nil {
		return 0, nil, newError(KindIO, "create", dpath, err)
	}

	if err := applySattr("create", numbered, !isFile, sattr); err != nil {
		return 0, nil, err
	}

	s.cacheInsert(newFid, dirFid)

	attrs, err := getAttr(numbered, newFid)
	if err != nil {
		return 0, nil, err
	}

	logger.Debug("Created object",
		logger.KeyFID, newFid,
		logger.KeyFilename, name,
		logger.KeyParentPath, dpath,
	)
	return newFid, attrs, nil
}

// ============================================================================
// Remove / RmDir
// ============================================================================

// Remove deletes the regular file called name from the directory.
func (s *Store) Remove(ctx context.Context, dirFid uint64, name string) error {
	return s.remove(ctx, dirFid, name, false)
}

// RmDir deletes the empty directory called name from the directory.
func (s *Store) RmDir(ctx context.Context, dirFid uint64, name string) error {
	return s.remove(ctx, dirFid, name, true)
}

// remove deletes a child. The numbered file goes first and the named file
// last: a crash in between leaves a named orphan, which is the recoverable
// window — the inverse order could leave an object that lists but cannot
// be opened. The cache entry is dropped between the two unlinks so a
// concurrent resolve cannot re-insert the FID after deletion.
func (s *Store) remove(ctx context.Context, dirFid uint64, name string, wantDir bool) error {
	op := "remove"
	if wantDir {
		op = "rmdir"
	}

	if err := ctx.Err(); err != nil {
		return newError(KindIO, op, "", err)
	}

	dpath, err := s.resolveDir(op, dirFid)
	if err != nil {
		return err
	}

	fid, found, err := findByName(dpath, name)
	if err != nil {
		return newError(KindIO, op, dpath, err)
	}
	if !found {
		return newError(KindNoEnt, op, dpath, fmt.Errorf("name %q", name))
	}

	numbered := filepath.Join(dpath, numberedName(fid))
	fi, err := os.Lstat(numbered)
	if err != nil {
		if os.IsNotExist(err) {
			return newError(KindNoEnt, op, numbered, err)
		}
		return newError(KindIO, op, numbered, err)
	}

	if fi.IsDir() && !wantDir {
		return newError(KindIsDir, op, numbered, nil)
	}
	if !fi.IsDir() && wantDir {
		return newError(KindNotDir, op, numbered, nil)
	}

	if wantDir {
		children, err := os.ReadDir(numbered)
		if err != nil {
			return newError(KindIO, op, numbered, err)
		}
		if len(children) > 0 {
			return newError(KindNotEmpty, op, numbered, fmt.Errorf("%d entries", len(children)))
		}
	}

	if err := os.Remove(numbered); err != nil {
		return newError(KindIO, op, numbered, err)
	}

	s.mu.Lock()
	delete(s.res.parent, fid)
	s.mu.Unlock()

	if err := fsyncDir(dpath); err != nil {
		return newError(KindIO, op, dpath, err)
	}

	named := filepath.Join(dpath, namedFileName(fid, name))
	if err := os.Remove(named); err != nil {
		return newError(KindIO, op, named, err)
	}

	if err := fsyncDir(dpath); err != nil {
		return newError(KindIO, op, dpath, err)
	}

	logger.Debug("Removed object", logger.KeyFID, fid, logger.KeyFilename, name, logger.KeyParentPath, dpath)
	return nil
}

// ============================================================================
// Rename
// ============================================================================

// Rename moves the object called oldName in oldDir to newName in newDir.
// Renaming onto an existing name is rejected with EXIST — there is no
// overwrite. Renaming a directory into its own subtree is rejected.
//
// The two-phase sequence commits at the numbered-file rename: before it,
// the object is intact under the old name and the new named file is an
// orphan; after it, the object is intact under the new name and the old
// named file is the orphan. Either crash window is filtered by listing.
func (s *Store) Rename(ctx context.Context, oldDirFid uint64, oldName string, newDirFid uint64, newName string) error {
	if err := ctx.Err(); err != nil {
		return newError(KindIO, "rename", "", err)
	}

	oldDir, err := s.resolveDir("rename", oldDirFid)
	if err != nil {
		return err
	}
	newDir, err := s.resolveDir("rename", newDirFid)
	if err != nil {
		return err
	}

	fid, found, err := findByName(oldDir, oldName)
	if err != nil {
		return newError(KindIO, "rename", oldDir, err)
	}
	if !found {
		return newError(KindNoEnt, "rename", oldDir, fmt.Errorf("name %q", oldName))
	}

	if err := checkName("rename", newName); err != nil {
		return err
	}

	srcNumbered := filepath.Join(oldDir, numberedName(fid))

	// A directory must not move into its own subtree. Paths mirror the
	// FID chains, so a prefix test is exact.
	if fi, err := os.Lstat(srcNumbered); err == nil && fi.IsDir() {
		if newDir == srcNumbered || strings.HasPrefix(newDir, srcNumbered+string(filepath.Separator)) {
			return fmt.Errorf("rename: directory %d into its own subtree", fid)
		}
	}

	if !s.names.reserve(newDir, newName) {
		return newError(KindExist, "rename", newDir, fmt.Errorf("name %q reserved", newName))
	}
	released := false
	defer func() {
		if !released {
			s.names.release(newDir, newName)
		}
	}()

	if _, taken, err := findByName(newDir, newName); err != nil {
		return newError(KindIO, "rename", newDir, err)
	} else if taken {
		return newError(KindExist, "rename", newDir, fmt.Errorf("name %q", newName))
	}

	// Phase 1: the new named file appears. Until phase 2 it is an orphan.
	newNamed := filepath.Join(newDir, namedFileName(fid, newName))
	nf, err := os.OpenFile(newNamed, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return newError(KindIO, "rename", newNamed, err)
	}
	nf.Close()
	if err := fsyncDir(newDir); err != nil {
		return newError(KindIO, "rename", newDir, err)
	}

	// Phase 2: move the numbered file and repoint the cache, atomically
	// with respect to concurrent resolution.
	dstNumbered := filepath.Join(newDir, numberedName(fid))
	s.mu.Lock()
	if err := os.Rename(srcNumbered, dstNumbered); err != nil {
		s.mu.Unlock()
		return newError(KindIO, "rename", srcNumbered, err)
	}
	if err := fsyncDir(newDir); err != nil {
		s.mu.Unlock()
		return newError(KindIO, "rename", newDir, err)
	}
	if prev, ok := s.res.parent[fid]; ok && prev != oldDirFid {
		s.mu.Unlock()
		panic(fmt.Sprintf("resolver cache corrupt: fid %d parent %d, expected %d", fid, prev, oldDirFid))
	}
	s.res.parent[fid] = newDirFid
	s.mu.Unlock()

	s.names.release(newDir, newName)
	released = true

	// The transition is already committed; the old named file is now an
	// orphan and its unlink needs no fsync for correctness.
	oldNamed := filepath.Join(oldDir, namedFileName(fid, oldName))
	if err := os.Remove(oldNamed); err != nil {
		return newError(KindIO, "rename", oldNamed, err)
	}

	logger.Debug("Renamed object",
		logger.KeyFID, fid,
		logger.KeyOldPath, filepath.Join(oldDir, oldName),
		logger.KeyNewPath, filepath.Join(newDir, newName),
	)
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// resolveDir resolves a FID that must name a directory.
func (s *Store) resolveDir(op string, dirFid uint64) (string, error) {
	dpath, found, err := s.resolve(dirFid)
	if err != nil {
		return "", newError(KindIO, op, "", err)
	}
	if !found {
		return "", newError(KindStale, op, "", fmt.Errorf("fid %d", dirFid))
	}

	fi, err := os.Lstat(dpath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", newError(KindStale, op, dpath, err)
		}
		return "", newError(KindIO, op, dpath, err)
	}
	if !fi.IsDir() {
		return "", newError(KindNotDir, op, dpath, nil)
	}
	return dpath, nil
}
