// Package handlers implements the 14 ZippyNFS procedures. Each handler
// enforces the procedure's type preconditions, delegates the crash-safe
// host sequence to the storage engine, and maps classified storage
// failures onto wire statuses. Failures outside the closed taxonomy
// propagate as plain errors and surface to the client as an RPC-level
// garbage-args reply, per the propagation policy.
package handlers

import (
	"context"
	"time"

	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
	"github.com/mark-i-m/zippynfs/pkg/storage"
)

// Handler holds the dependencies shared by all procedure handlers.
type Handler struct {
	// Store is the storage engine backing this server.
	Store *storage.Store
}

// NewHandler creates a Handler over the given store.
func NewHandler(store *storage.Store) *Handler {
	return &Handler{Store: store}
}

// Context carries per-request state into a handler.
type Context struct {
	// Context is the request's Go context, cancelled on shutdown or
	// client disconnect.
	Context context.Context

	// ClientAddr is the remote address of the client connection.
	ClientAddr string

	// XID is the RPC transaction id of the request.
	XID uint32

	// WorkerID is the worker pool slot executing the request; it keys the
	// tmp-file names of the write pipeline.
	WorkerID int

	// Procedure is the procedure name, for logging.
	Procedure string

	start time.Time
}

// NewContext builds a handler context and attaches the logging context so
// every log line carries the procedure, client, and worker fields.
func NewContext(ctx context.Context, clientAddr string, xid uint32, workerID int, procedure string) *Context {
	lc := logger.NewLogContext(clientAddr)
	lc.Procedure = procedure
	lc.Worker = workerID

	return &Context{
		Context:    logger.WithContext(ctx, lc),
		ClientAddr: clientAddr,
		XID:        xid,
		WorkerID:   workerID,
		Procedure:  procedure,
		start:      time.Now(),
	}
}

// cancelled reports whether the request's context is done.
func (c *Context) cancelled() bool {
	select {
	case <-c.Context.Done():
		return true
	default:
		return false
	}
}

// durationMs returns the elapsed handler time in milliseconds.
func (c *Context) durationMs() float64 {
	return logger.Duration(c.start)
}

// mapStorageError converts a classified storage failure into the wire
// error record. Unclassified failures (host I/O, protocol violations with
// no status code) pass through unchanged and become RPC-level errors.
func mapStorageError(err error) error {
	kind, ok := storage.KindOf(err)
	if !ok {
		return err
	}

	var status zip.Status
	switch kind {
	case storage.KindStale:
		status = zip.StatusStale
	case storage.KindNoEnt:
		status = zip.StatusNoEnt
	case storage.KindExist:
		status = zip.StatusExist
	case storage.KindIsDir:
		status = zip.StatusIsDir
	case storage.KindNotDir:
		status = zip.StatusNotDir
	case storage.KindNotEmpty:
		status = zip.StatusNotEmpty
	case storage.KindNameTooLong:
		status = zip.StatusNameTooLong
	default:
		// KindIO and anything new: opaque, let the transport carry it.
		return err
	}

	return &zip.Error{Status: status, Message: err.Error()}
}
