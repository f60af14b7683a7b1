package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// The write pipeline has two modes. Stable writes (FILE_SYNC/DATA_SYNC)
// go through a copy-rename sequence: the numbered file is copied to a tmp
// file keyed by FID and worker slot, mutated, fsynced, and renamed back
// over the original, so a crash at any point leaves a complete valid file.
// Unstable writes are appended to a per-FID in-memory buffer and
// acknowledged immediately; COMMIT drains the buffer through the same
// copy-rename path. Buffers die with the process — the epoch verifier
// returned on every WRITE and COMMIT is how clients find out.

// writeRecord is one deferred unstable write.
type writeRecord struct {
	offset int64
	data   []byte
}

// writeBuffer is the ordered list of deferred writes for one FID. The
// buffer handle is shared between the table and any in-flight COMMIT;
// mutation is always under mu.
type writeBuffer struct {
	mu   sync.Mutex
	recs []writeRecord
}

// unstableTable maps FID → unstable write buffer. The outer RWMutex only
// guards the map; each buffer has its own mutex and the outer lock is
// always dropped before the inner one is taken.
type unstableTable struct {
	mu   sync.RWMutex
	bufs map[uint64]*writeBuffer
}

func newUnstableTable() *unstableTable {
	return &unstableTable{bufs: make(map[uint64]*writeBuffer)}
}

// get returns the buffer for fid, creating it if needed. The read lock
// covers the common lookup; creation upgrades to the write lock and
// re-checks.
func (t *unstableTable) get(fid uint64) *writeBuffer {
	t.mu.RLock()
	buf := t.bufs[fid]
	t.mu.RUnlock()
	if buf != nil {
		return buf
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if buf = t.bufs[fid]; buf == nil {
		buf = &writeBuffer{}
		t.bufs[fid] = buf
	}
	return buf
}

// take removes and returns the buffer for fid, or nil if none exists.
func (t *unstableTable) take(fid uint64) *writeBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := t.bufs[fid]
	delete(t.bufs, fid)
	return buf
}

// Write performs a WRITE. FILE_SYNC and DATA_SYNC are both durable before
// the call returns; UNSTABLE is buffered in memory. len(data) must equal
// the request count — the handlers enforce that before calling here.
// The returned verifier is the server epoch.
func (s *Store) Write(ctx context.Context, fid uint64, offset int64, data []byte, stable zip.StableHow, workerID int) (uint32, zip.StableHow, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, 0, newError(KindIO, "write", "", err)
	}

	if stable == zip.Unstable {
		buf := s.unstable.get(fid)
		buf.mu.Lock()
		buf.recs = append(buf.recs, writeRecord{offset: offset, data: data})
		buf.mu.Unlock()
		return uint32(len(data)), zip.Unstable, s.epoch, nil
	}

	if err := s.writeStable(fid, offset, data, workerID); err != nil {
		return 0, 0, 0, err
	}
	return uint32(len(data)), zip.FileSync, s.epoch, nil
}

// writeStable runs the copy-rename sequence for one stable write.
func (s *Store) writeStable(fid uint64, offset int64, data []byte, workerID int) error {
	path, found, err := s.resolve(fid)
	if err != nil {
		return newError(KindIO, "write", "", err)
	}
	if !found {
		return newError(KindStale, "write", "", fmt.Errorf("fid %d", fid))
	}

	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newError(KindStale, "write", path, err)
		}
		return newError(KindIO, "write", path, err)
	}
	if fi.IsDir() {
		return newError(KindIsDir, "write", path, nil)
	}

	tmp := s.tmpPath(fid, workerID)
	if err := applyToTmpAndRename(path, tmp, []writeRecord{{offset: offset, data: data}}); err != nil {
		return newError(KindIO, "write", path, err)
	}
	return nil
}

// Commit drains the unstable buffer for fid through the copy-rename path
// and returns the server epoch. A COMMIT with no buffered writes is a
// no-op that still reports the epoch.
//
// The entry is removed from the table before its mutex is taken: a racing
// unstable WRITE may still hold the old handle, in which case it appends
// to the detached buffer, which no later COMMIT drains: those bytes reach
// the file only if the client sends the write again.
func (s *Store) Commit(ctx context.Context, fid uint64, workerID int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, newError(KindIO, "commit", "", err)
	}

	path, found, err := s.resolve(fid)
	if err != nil {
		return 0, newError(KindIO, "commit", "", err)
	}
	if !found {
		return 0, newError(KindStale, "commit", "", fmt.Errorf("fid %d", fid))
	}

	buf := s.unstable.take(fid)
	if buf == nil {
		return s.epoch, nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if len(buf.recs) == 0 {
		return s.epoch, nil
	}

	tmp := s.tmpPath(fid, workerID)
	if err := applyToTmpAndRename(path, tmp, buf.recs); err != nil {
		return 0, newError(KindIO, "commit", path, err)
	}

	logger.Debug("Drained unstable buffer", logger.KeyFID, fid, logger.KeyEntries, len(buf.recs))
	buf.recs = nil

	return s.epoch, nil
}

// tmpPath derives the scratch file for one (fid, worker) pair. Keying on
// the worker slot keeps concurrent writers to the same FID from
// interleaving inside one tmp file; the final rename is atomic either way.
func (s *Store) tmpPath(fid uint64, workerID int) string {
	return filepath.Join(s.dataDir, tmpDirName, fmt.Sprintf("%d_%d", fid, workerID))
}

// applyToTmpAndRename copies src to tmp, fsyncs the copy, applies the
// records in order, fsyncs again, and renames tmp over src.
func applyToTmpAndRename(src, tmp string, recs []writeRecord) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy to tmp: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync tmp copy: %w", err)
	}

	for _, rec := range recs {
		n, err := out.WriteAt(rec.data, rec.offset)
		if err != nil {
			return fmt.Errorf("write at %d: %w", rec.offset, err)
		}
		if n != len(rec.data) {
			return fmt.Errorf("short write at %d: %d of %d bytes", rec.offset, n, len(rec.data))
		}
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync tmp: %w", err)
	}

	if err := os.Rename(tmp, src); err != nil {
		return fmt.Errorf("rename tmp over source: %w", err)
	}
	return nil
}
