package client

import (
	"fmt"

	"sync"

	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// FileBuffer mirrors the server's per-FID unstable-write buffer on the
// client side and implements the epoch-replay protocol: the buffer
// remembers the verifier its writes were acknowledged under, and when a
// response carries a different verifier the server has restarted and all
// previously buffered writes are gone. The buffer then resends itself in
// order; replaying the whole sequence after the stray post-restart write
// converges to the same final bytes, because later writes override earlier
// overlapping ones.
type FileBuffer struct {
	client *Client
	fid    uint64

	mu      sync.Mutex
	verf    int64 // verifier the pending writes were acknowledged under
	pending []bufferedWrite
}

type bufferedWrite struct {
	offset int64
	data   []byte
}

// maxReplayRounds bounds how often a single operation will chase a
// restarting server before giving up.
const maxReplayRounds = 5

// NewFileBuffer creates the unstable-write mirror for one file.
func NewFileBuffer(c *Client, fid uint64) *FileBuffer {
	return &FileBuffer{client: c, fid: fid}
}

// Pending returns the number of buffered, uncommitted writes.
func (b *FileBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Write buffers one unstable write locally and sends it. If the response
// verifier shows a server restart, the whole buffer is resent under the
// new epoch.
func (b *FileBuffer) Write(offset int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := bufferedWrite{offset: offset, data: append([]byte(nil), data...)}
	hadPending := len(b.pending) > 0
	b.pending = append(b.pending, rec)

	res, err := b.client.Write(b.fid, offset, data, zip.Unstable)
	if err != nil {
		// Not acknowledged: the transport already retried. Keep the record
		// buffered and forget the verifier, so the next write or commit sees
		// a mismatch and carries it via replay.
		b.verf = 0
		return err
	}

	if hadPending && res.Verf != b.verf {
		logger.Debug("Write verifier changed, replaying buffer",
			logger.KeyFID, b.fid,
			logger.KeyEpoch, res.Verf,
			logger.KeyEntries, len(b.pending),
		)
		return b.replayLocked(res.Verf)
	}

	b.verf = res.Verf
	return nil
}

// Commit makes every buffered write durable. If the commit verifier does
// not match the verifier the writes were sent under, the buffer is
// replayed and the commit retried.
func (b *FileBuffer) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for round := 0; round < maxReplayRounds; round++ {
		res, err := b.client.Commit(b.fid, 0, 0)
		if err != nil {
			return err
		}

		if len(b.pending) == 0 || res.Verf == b.verf {
			b.pending = nil
			b.verf = res.Verf
			return nil
		}

		// Server restarted between the writes and this commit: the
		// committed bytes do not include the buffer. Resend and try again.
		logger.Debug("Commit verifier changed, replaying buffer",
			logger.KeyFID, b.fid,
			logger.KeyEpoch, res.Verf,
			logger.KeyEntries, len(b.pending),
		)
		if err := b.replayLocked(res.Verf); err != nil {
			return err
		}
	}

	return fmt.Errorf("commit fid %d: server kept restarting after %d replay rounds", b.fid, maxReplayRounds)
}

// replayLocked resends the whole buffer in order under the expected
// verifier. If the verifier moves again mid-replay, the replay restarts.
func (b *FileBuffer) replayLocked(expectVerf int64) error {
	for round := 0; round < maxReplayRounds; round++ {
		ok := true
		for _, rec := range b.pending {
			res, err := b.client.Write(b.fid, rec.offset, rec.data, zip.Unstable)
			if err != nil {
				return err
			}
			if res.Verf != expectVerf {
				expectVerf = res.Verf
				ok = false
				break
			}
		}
		if ok {
			b.verf = expectVerf
			return nil
		}
	}
	return fmt.Errorf("replay fid %d: server kept restarting after %d rounds", b.fid, maxReplayRounds)
}
