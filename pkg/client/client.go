// Package client implements the ZippyNFS client driver: a typed RPC
// client with retry, backoff and reconnection, plus the per-file
// unstable-write buffer that mirrors the server's and implements the
// epoch-replay protocol.
package client

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	dispatch "github.com/mark-i-m/zippynfs/internal/adapter/zipnfs"
	"github.com/mark-i-m/zippynfs/internal/adapter/zipnfs/rpc"
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

const (
	// DefaultMaxAttempts is how many times a call is tried before giving
	// up on transport failures.
	DefaultMaxAttempts = 5

	// DefaultBackoffBase is the first retry delay; it doubles per attempt.
	DefaultBackoffBase = time.Second

	// DefaultDialTimeout bounds connection establishment.
	DefaultDialTimeout = 10 * time.Second
)

// Client is a ZippyNFS RPC client. Calls are serialized on one TCP
// connection; transport failures are retried with exponential backoff,
// reconnecting between attempts. Protocol errors (*zip.Error) are returned
// immediately — retrying them cannot help.
type Client struct {
	// MaxAttempts and BackoffBase tune the retry loop. Set before first use.
	MaxAttempts int
	BackoffBase time.Duration

	addr string

	mu   sync.Mutex
	conn net.Conn
	xid  uint32
}

// Dial connects to a server.
func Dial(addr string) (*Client, error) {
	c := &Client{
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
		addr:        addr,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) connectLocked() error {
	conn, err := net.DialTimeout("tcp", c.addr, DefaultDialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

// call runs one RPC: frame, send, await the matching reply, decode the
// status word. The returned reader is positioned at the result record.
func (c *Client) call(procedure uint32, args zip.Encoder) (*bytes.Reader, error) {
	var argBytes []byte
	if args != nil {
		buf := new(bytes.Buffer)
		if err := args.Encode(buf); err != nil {
			return nil, fmt.Errorf("encode args: %w", err)
		}
		argBytes = buf.Bytes()
	}

	var lastErr error
	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.BackoffBase << (attempt - 1)
			logger.Debug("Retrying call",
				logger.KeyProcedure, zip.ProcedureName(procedure),
				logger.KeyAttempt, attempt+1,
				logger.KeyError, lastErr,
			)
			time.Sleep(delay)
		}

		body, err := c.exchange(procedure, argBytes)
		if err != nil {
			lastErr = err
			continue
		}

		r := bytes.NewReader(body)
		zerr, err := zip.DecodeReplyStatus(r)
		if err != nil {
			lastErr = err
			continue
		}
		if zerr != nil {
			return nil, zerr
		}
		return r, nil
	}

	return nil, fmt.Errorf("call %s failed after %d attempts: %w",
		zip.ProcedureName(procedure), c.MaxAttempts, lastErr)
}

// exchange performs one framed request/response round trip, reconnecting
// first if a previous attempt killed the connection.
func (c *Client) exchange(procedure uint32, argBytes []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(); err != nil {
			return nil, err
		}
	}

	c.xid++
	xid := c.xid

	message, err := rpc.MakeCall(xid, procedure, zip.Program, zip.VersionV1, argBytes)
	if err != nil {
		return nil, err
	}

	if err := dispatch.WriteFrame(c.conn, message); err != nil {
		c.dropConnLocked()
		return nil, err
	}

	reply, err := dispatch.ReadFrame(c.conn, c.addr)
	if err != nil {
		c.dropConnLocked()
		return nil, err
	}

	hdr, body, err := rpc.ParseReply(reply)
	if err != nil {
		c.dropConnLocked()
		return nil, err
	}
	if hdr.XID != xid {
		c.dropConnLocked()
		return nil, fmt.Errorf("reply xid 0x%x does not match call 0x%x", hdr.XID, xid)
	}
	if hdr.ReplyStat != rpc.ReplyAccepted {
		return nil, fmt.Errorf("rpc-level error %d", hdr.ReplyStat)
	}

	return body, nil
}

func (c *Client) dropConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// ============================================================================
// Typed procedures
// ============================================================================

// Null pings the server and returns its epoch.
func (c *Client) Null() (int64, error) {
	r, err := c.call(zip.ProcNull, nil)
	if err != nil {
		return 0, err
	}
	res, err := zip.DecodeNullRes(r)
	if err != nil {
		return 0, err
	}
	return res.Epoch, nil
}

// GetAttr fetches the attributes of a FID.
func (c *Client) GetAttr(fid uint64) (*zip.Fattr, error) {
	r, err := c.call(zip.ProcGetAttr, &zip.FileHandle{FID: fid})
	if err != nil {
		return nil, err
	}
	res, err := zip.DecodeAttrStat(r)
	if err != nil {
		return nil, err
	}
	return &res.Attributes, nil
}

// SetAttr applies settable attributes to a FID.
func (c *Client) SetAttr(fid uint64, sattr zip.Sattr) (*zip.Fattr, error) {
	r, err := c.call(zip.ProcSetAttr, &zip.SattrArgs{File: zip.FileHandle{FID: fid}, Attributes: sattr})
	if err != nil {
		return nil, err
	}
	res, err := zip.DecodeAttrStat(r)
	if err != nil {
		return nil, err
	}
	return &res.Attributes, nil
}

// Lookup finds name inside the directory dirFid.
func (c *Client) Lookup(dirFid uint64, name string) (*zip.DirOpRes, error) {
	r, err := c.call(zip.ProcLookup, &zip.DirOpArgs{Dir: zip.FileHandle{FID: dirFid}, Filename: name})
	if err != nil {
		return nil, err
	}
	return zip.DecodeDirOpRes(r)
}

// ReadDir lists the directory starting at the given entry index.
func (c *Client) ReadDir(dirFid uint64, offset int64) ([]zip.DirEntry, error) {
	r, err := c.call(zip.ProcReadDir, &zip.ReadDirArgs{Dir: zip.FileHandle{FID: dirFid}, Offset: offset})
	if err != nil {
		return nil, err
	}
	res, err := zip.DecodeReadDirRes(r)
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// Read reads up to count bytes at offset.
func (c *Client) Read(fid uint64, offset int64, count uint32) (*zip.ReadRes, error) {
	r, err := c.call(zip.ProcRead, &zip.ReadArgs{File: zip.FileHandle{FID: fid}, Offset: offset, Count: count})
	if err != nil {
		return nil, err
	}
	return zip.DecodeReadRes(r)
}

// Write writes data at offset in the given durability mode.
func (c *Client) Write(fid uint64, offset int64, data []byte, stable zip.StableHow) (*zip.WriteRes, error) {
	args := &zip.WriteArgs{
		File:   zip.FileHandle{FID: fid},
		Offset: offset,
		Count:  uint32(len(data)),
		Data:   data,
		Stable: stable,
	}
	r, err := c.call(zip.ProcWrite, args)
	if err != nil {
		return nil, err
	}
	return zip.DecodeWriteRes(r)
}

// Create creates a regular file.
func (c *Client) Create(dirFid uint64, name string, sattr zip.Sattr) (*zip.DirOpRes, error) {
	return c.createCall(zip.ProcCreate, dirFid, name, sattr)
}

// MkDir creates a directory.
func (c *Client) MkDir(dirFid uint64, name string, sattr zip.Sattr) (*zip.DirOpRes, error) {
	return c.createCall(zip.ProcMkDir, dirFid, name, sattr)
}

func (c *Client) createCall(procedure uint32, dirFid uint64, name string, sattr zip.Sattr) (*zip.DirOpRes, error) {
	args := &zip.CreateArgs{
		Where:      zip.DirOpArgs{Dir: zip.FileHandle{FID: dirFid}, Filename: name},
		Attributes: sattr,
	}
	r, err := c.call(procedure, args)
	if err != nil {
		return nil, err
	}
	return zip.DecodeDirOpRes(r)
}

// Remove deletes a regular file.
func (c *Client) Remove(dirFid uint64, name string) error {
	_, err := c.call(zip.ProcRemove, &zip.DirOpArgs{Dir: zip.FileHandle{FID: dirFid}, Filename: name})
	return err
}

// RmDir deletes an empty directory.
func (c *Client) RmDir(dirFid uint64, name string) error {
	_, err := c.call(zip.ProcRmDir, &zip.DirOpArgs{Dir: zip.FileHandle{FID: dirFid}, Filename: name})
	return err
}

// Rename moves an object.
func (c *Client) Rename(oldDirFid uint64, oldName string, newDirFid uint64, newName string) error {
	args := &zip.RenameArgs{
		OldLoc: zip.DirOpArgs{Dir: zip.FileHandle{FID: oldDirFid}, Filename: oldName},
		NewLoc: zip.DirOpArgs{Dir: zip.FileHandle{FID: newDirFid}, Filename: newName},
	}
	_, err := c.call(zip.ProcRename, args)
	return err
}

// StatFs fetches the filesystem summary.
func (c *Client) StatFs(fid uint64) (*zip.StatFsRes, error) {
	r, err := c.call(zip.ProcStatFs, &zip.FileHandle{FID: fid})
	if err != nil {
		return nil, err
	}
	return zip.DecodeStatFsRes(r)
}

// Commit asks the server to flush the file's unstable writes.
func (c *Client) Commit(fid uint64, offset int64, count uint32) (*zip.CommitRes, error) {
	args := &zip.CommitArgs{File: zip.FileHandle{FID: fid}, Offset: offset, Count: count}
	r, err := c.call(zip.ProcCommit, args)
	if err != nil {
		return nil, err
	}
	return zip.DecodeCommitRes(r)
}
