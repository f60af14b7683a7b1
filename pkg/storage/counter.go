package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// Counter is a durable, monotonically increasing 64-bit integer persisted
// at a fixed file path. It supplies both FIDs and the server epoch.
//
// The contract: after FetchInc returns v, a crash-restart reads a value of
// at least v+1. The increment and the flush happen together inside the
// mutex, so the on-disk value can never lag a value that has been handed
// out.
type Counter struct {
	mu    sync.Mutex
	file  *os.File
	value uint64
}

// counterInitial is the first FID handed out by a freshly formatted data
// directory. 1 is reserved for the root directory.
const counterInitial uint64 = 2

// OpenCounter opens an existing counter file.
func OpenCounter(path string) (*Counter, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open counter: %w", err)
	}

	var buf [8]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read counter: %w", err)
	}

	return &Counter{
		file:  f,
		value: binary.LittleEndian.Uint64(buf[:]),
	}, nil
}

// createCounter writes a fresh counter file with the initial value and
// syncs it. Used at format time.
func createCounter(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create counter: %w", err)
	}
	defer f.Close()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], counterInitial)
	if _, err := f.Write(buf[:]); err != nil {
		return fmt.Errorf("write counter: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync counter: %w", err)
	}
	return nil
}

// FetchInc atomically returns the current value and increments it. The new
// value is flushed to disk before FetchInc returns; the mutex serializes
// the read-modify-write with the flush so concurrent callers observe a
// strictly increasing sequence and a crash never reuses a handed-out value.
func (c *Counter) FetchInc() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.value
	c.value++

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], c.value)
	if _, err := c.file.WriteAt(buf[:], 0); err != nil {
		// Roll back so a retry does not skip a value.
		c.value = v
		return 0, fmt.Errorf("write counter: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		c.value = v
		return 0, fmt.Errorf("sync counter: %w", err)
	}

	return v, nil
}

// Close releases the counter file.
func (c *Counter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}
