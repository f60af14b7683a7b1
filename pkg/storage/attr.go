package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// getAttr derives the wire attribute record from host metadata. Mode, uid,
// gid and nlink are fixed conventional values: the server neither stores
// the mode, uid or gid a client sets nor enforces them.
func getAttr(path string, fid uint64) (*zip.Fattr, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(KindStale, "getattr", path, err)
		}
		return nil, newError(KindIO, "getattr", path, err)
	}

	ftype := zip.FileTypeReg
	if fi.IsDir() {
		ftype = zip.FileTypeDir
	}

	size := fi.Size()
	blocks := (size + zip.BlockSize - 1) / zip.BlockSize
	atime, mtime, ctime := statTimes(fi)

	return &zip.Fattr{
		Type:      ftype,
		Mode:      0777,
		Nlink:     1,
		UID:       0,
		GID:       0,
		Size:      size,
		BlockSize: zip.BlockSize,
		Rdev:      0,
		Blocks:    blocks,
		FSID:      0,
		FID:       fid,
		Atime:     atime,
		Mtime:     mtime,
		Ctime:     ctime,
	}, nil
}

// applySattr applies the settable attribute fields to the object at path
// and flushes the mutation. Size is only legal on regular files.
//
// Timestamps keep the historical quirk: when only atime is given, mtime is
// mirrored from it; when only mtime is given, neither is applied.
func applySattr(op, path string, isDir bool, sattr *zip.Sattr) error {
	if sattr == nil {
		return nil
	}

	changed := false

	if sattr.Size != nil {
		if isDir {
			return newError(KindIsDir, op, path, fmt.Errorf("size on directory"))
		}
		if err := os.Truncate(path, *sattr.Size); err != nil {
			if os.IsNotExist(err) {
				return newError(KindStale, op, path, err)
			}
			return newError(KindIO, op, path, err)
		}
		changed = true
	}

	if sattr.Atime != nil {
		at := *sattr.Atime
		mt := at
		if sattr.Mtime != nil {
			mt = *sattr.Mtime
		}
		ts := []unix.Timespec{
			{Sec: at.Seconds, Nsec: at.Useconds * 1000},
			{Sec: mt.Seconds, Nsec: mt.Useconds * 1000},
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, 0); err != nil {
			// A concurrent unlink or rename surfaces here as ENOENT.
			if err == unix.ENOENT {
				return newError(KindStale, op, path, err)
			}
			return newError(KindIO, op, path, err)
		}
		changed = true
	}

	if changed {
		if err := fsyncFile(path); err != nil {
			if os.IsNotExist(err) {
				return newError(KindStale, op, path, err)
			}
			return newError(KindIO, op, path, err)
		}
	}

	return nil
}
