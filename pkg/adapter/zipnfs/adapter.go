// Package zipnfs is the TCP adapter for the ZippyNFS protocol: it owns the
// listener, the connection lifecycle, and the bounded worker pool that
// executes procedure handlers. Each request runs to completion on a single
// worker; the worker's slot number keys the write pipeline's tmp files.
package zipnfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	dispatch "github.com/mark-i-m/zippynfs/internal/adapter/zipnfs"
	"github.com/mark-i-m/zippynfs/internal/adapter/zipnfs/handlers"
	"github.com/mark-i-m/zippynfs/internal/adapter/zipnfs/rpc"
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
	"github.com/mark-i-m/zippynfs/pkg/metrics"
	"github.com/mark-i-m/zippynfs/pkg/storage"
)

// DefaultWorkers is the default size of the worker pool.
const DefaultWorkers = 10

// Config configures the adapter.
type Config struct {
	// Listen is the IP:port to listen on.
	Listen string

	// Workers is the size of the worker pool. Zero means DefaultWorkers.
	Workers int
}

// Adapter serves the ZippyNFS protocol over TCP.
type Adapter struct {
	cfg     Config
	handler *handlers.Handler
	metrics metrics.ServerMetrics

	listener net.Listener
	jobs     chan *job

	connMu      sync.Mutex
	conns       map[*connState]struct{}
	activeConns atomic.Int32

	workerWG sync.WaitGroup
	connWG   sync.WaitGroup
}

// job is one framed request waiting for a worker.
type job struct {
	ctx     context.Context
	conn    *connState
	message []byte
}

// connState is one client connection. Replies from concurrent workers are
// serialized by writeMu.
type connState struct {
	conn    net.Conn
	writeMu sync.Mutex
	id      string
	addr    string
}

// New creates an adapter over the given store. Metrics may be nil to
// disable collection.
func New(cfg Config, store *storage.Store, m metrics.ServerMetrics) *Adapter {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Adapter{
		cfg:     cfg,
		handler: handlers.NewHandler(store),
		metrics: m,
		conns:   make(map[*connState]struct{}),
	}
}

// Listen binds the listener. Separate from Serve so callers can learn the
// bound address (tests listen on port 0) before serving.
func (a *Adapter) Listen() error {
	listener, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Listen, err)
	}
	a.listener = listener
	return nil
}

// Addr returns the bound listener address. Only valid after Listen.
func (a *Adapter) Addr() net.Addr {
	return a.listener.Addr()
}

// Serve accepts connections until the context is cancelled, then closes
// every connection, drains the worker pool, and returns.
func (a *Adapter) Serve(ctx context.Context) error {
	if a.listener == nil {
		if err := a.Listen(); err != nil {
			return err
		}
	}

	a.jobs = make(chan *job, a.cfg.Workers*2)
	for i := 0; i < a.cfg.Workers; i++ {
		a.workerWG.Add(1)
		go a.worker(i)
	}

	logger.Info("Server listening",
		"address", a.listener.Addr().String(),
		"workers", a.cfg.Workers,
	)

	// Unblock Accept on shutdown.
	go func() {
		<-ctx.Done()
		a.listener.Close()
	}()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return a.shutdown()
			}
			if errors.Is(err, net.ErrClosed) {
				return a.shutdown()
			}
			logger.Warn("Accept failed", logger.KeyError, err)
			continue
		}

		c := &connState{
			conn: conn,
			id:   uuid.NewString(),
			addr: conn.RemoteAddr().String(),
		}

		a.connMu.Lock()
		a.conns[c] = struct{}{}
		a.connMu.Unlock()

		if a.metrics != nil {
			a.metrics.RecordConnectionAccepted()
			a.metrics.SetActiveConnections(int(a.activeConns.Add(1)))
		} else {
			a.activeConns.Add(1)
		}

		a.connWG.Add(1)
		go a.handleConnection(ctx, c)
	}
}

// shutdown force-closes remaining connections and drains the workers.
func (a *Adapter) shutdown() error {
	a.connMu.Lock()
	for c := range a.conns {
		c.conn.Close()
	}
	a.connMu.Unlock()

	a.connWG.Wait()
	close(a.jobs)
	a.workerWG.Wait()

	logger.Info("Server stopped")
	return nil
}

// handleConnection reads framed requests off one connection and submits
// them to the worker pool.
func (a *Adapter) handleConnection(ctx context.Context, c *connState) {
	defer func() {
		c.conn.Close()

		a.connMu.Lock()
		delete(a.conns, c)
		a.connMu.Unlock()

		active := a.activeConns.Add(-1)
		if a.metrics != nil {
			a.metrics.RecordConnectionClosed()
			a.metrics.SetActiveConnections(int(active))
		}
		a.connWG.Done()
	}()

	logger.Debug("Connection accepted",
		logger.KeyConnectionID, c.id,
		logger.KeyClientIP, c.addr,
	)

	for {
		message, err := dispatch.ReadFrame(c.conn, c.addr)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				logger.Debug("Connection read failed",
					logger.KeyConnectionID, c.id,
					logger.KeyError, err,
				)
			}
			return
		}

		select {
		case a.jobs <- &job{ctx: ctx, conn: c, message: message}:
		case <-ctx.Done():
			return
		}
	}
}

// worker executes requests from the pool. The slot number flows into the
// handler context and keys the tmp-file names of stable writes.
func (a *Adapter) worker(slot int) {
	defer a.workerWG.Done()

	for j := range a.jobs {
		a.serveRequest(slot, j)
	}
}

// serveRequest parses, dispatches, and answers one request.
func (a *Adapter) serveRequest(slot int, j *job) {
	call, data, err := rpc.ParseCall(j.message)
	if err != nil {
		logger.Warn("Dropping unparsable request",
			logger.KeyConnectionID, j.conn.id,
			logger.KeyClientIP, j.conn.addr,
			logger.KeyError, err,
		)
		return
	}

	procedure := zip.ProcedureName(call.Procedure)
	start := time.Now()
	if a.metrics != nil {
		a.metrics.RecordRequestStart(procedure)
	}

	result, err := dispatch.Dispatch(j.ctx, call, data, j.conn.addr, slot, a.handler)

	if a.metrics != nil {
		a.metrics.RecordRequestEnd(procedure)
	}

	if err != nil {
		logger.Error("Dispatch failed",
			logger.KeyConnectionID, j.conn.id,
			logger.KeyRequestID, call.XID,
			logger.KeyError, err,
		)
		return
	}

	if a.metrics != nil {
		a.metrics.RecordRequest(result.ProcedureName, time.Since(start), result.ErrorCode)
		if result.BytesRead > 0 {
			a.metrics.RecordBytesTransferred("read", result.BytesRead)
		}
		if result.BytesWritten > 0 {
			a.metrics.RecordBytesTransferred("write", result.BytesWritten)
		}
	}

	j.conn.writeMu.Lock()
	writeErr := dispatch.WriteFrame(j.conn.conn, result.Reply)
	j.conn.writeMu.Unlock()
	if writeErr != nil {
		logger.Debug("Reply write failed",
			logger.KeyConnectionID, j.conn.id,
			logger.KeyRequestID, call.XID,
			logger.KeyError, writeErr,
		)
	}
}
