//go:build linux

package storage

import (
	"os"
	"syscall"

	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// statTimes extracts atime, mtime and ctime from host metadata. The wire
// record reports microsecond precision; crtime is reported equal to ctime.
func statTimes(fi os.FileInfo) (atime, mtime, ctime zip.TimeVal) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	return timeVal(st.Atim.Sec, st.Atim.Nsec),
		timeVal(st.Mtim.Sec, st.Mtim.Nsec),
		timeVal(st.Ctim.Sec, st.Ctim.Nsec)
}

func timeVal(sec, nsec int64) zip.TimeVal {
	return zip.TimeVal{Seconds: sec, Useconds: nsec / 1000}
}
