package zipnfs

import (
	"bytes"
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mark-i-m/zippynfs/internal/adapter/zipnfs/handlers"
	"github.com/mark-i-m/zippynfs/internal/adapter/zipnfs/rpc"
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
	"github.com/mark-i-m/zippynfs/internal/telemetry"
)

// DispatchResult carries the encoded reply plus the metadata the adapter
// needs for metrics and logging.
type DispatchResult struct {
	// Reply is the complete RPC reply message, ready for framing.
	Reply []byte

	// ProcedureName is the human-readable procedure name.
	ProcedureName string

	// ErrorCode is the wire error name for metrics ("" on success,
	// "RPC_ERROR" for transport-level failures).
	ErrorCode string

	// BytesRead and BytesWritten count payload bytes for READ/WRITE.
	BytesRead    uint64
	BytesWritten uint64
}

// procedureFunc decodes one procedure's arguments, runs its handler, and
// returns the accepted-reply body. An error return means the request could
// not be expressed as a wire status and becomes an RPC-level error reply.
type procedureFunc func(hctx *handlers.Context, h *handlers.Handler, data []byte) (body []byte, errorCode string, bytesRead, bytesWritten uint64, err error)

// procedure is one dispatch table entry.
type procedure struct {
	Name    string
	Handler procedureFunc
}

// dispatchTable maps procedure numbers to their handlers. Initialized once
// at package init time.
var dispatchTable map[uint32]*procedure

func init() {
	dispatchTable = map[uint32]*procedure{
		zip.ProcNull:    {Name: "NULL", Handler: dispatchNull},
		zip.ProcGetAttr: {Name: "GETATTR", Handler: dispatchGetAttr},
		zip.ProcSetAttr: {Name: "SETATTR", Handler: dispatchSetAttr},
		zip.ProcLookup:  {Name: "LOOKUP", Handler: dispatchLookup},
		zip.ProcReadDir: {Name: "READDIR", Handler: dispatchReadDir},
		zip.ProcRead:    {Name: "READ", Handler: dispatchRead},
		zip.ProcWrite:   {Name: "WRITE", Handler: dispatchWrite},
		zip.ProcCreate:  {Name: "CREATE", Handler: dispatchCreate},
		zip.ProcRemove:  {Name: "REMOVE", Handler: dispatchRemove},
		zip.ProcRename:  {Name: "RENAME", Handler: dispatchRename},
		zip.ProcMkDir:   {Name: "MKDIR", Handler: dispatchMkDir},
		zip.ProcRmDir:   {Name: "RMDIR", Handler: dispatchRmDir},
		zip.ProcStatFs:  {Name: "STATFS", Handler: dispatchStatFs},
		zip.ProcCommit:  {Name: "COMMIT", Handler: dispatchCommit},
	}
}

// Dispatch routes one parsed call to its procedure handler and returns the
// complete reply message. Routing errors (wrong program, unsupported
// version, unknown procedure, undecodable arguments) become RPC-level
// error replies; only a failure to build a reply at all is returned as an
// error.
func Dispatch(ctx context.Context, call *rpc.CallMessage, data []byte, clientAddr string, workerID int, h *handlers.Handler) (*DispatchResult, error) {
	if call.Program != zip.Program {
		logger.Debug("Unknown program", "program", call.Program, logger.KeyClientIP, clientAddr)
		reply, err := rpc.MakeErrorReply(call.XID, rpc.ReplyProgUnavail)
		if err != nil {
			return nil, fmt.Errorf("make error reply: %w", err)
		}
		return &DispatchResult{Reply: reply, ProcedureName: "UNKNOWN", ErrorCode: "RPC_ERROR"}, nil
	}

	if call.Version != zip.VersionV1 {
		logger.Warn("Unsupported protocol version",
			"requested", call.Version,
			"supported", zip.VersionV1,
			logger.KeyRequestID, call.XID,
			logger.KeyClientIP, clientAddr)
		reply, err := rpc.MakeProgMismatchReply(call.XID, zip.VersionV1, zip.VersionV1)
		if err != nil {
			return nil, fmt.Errorf("make version mismatch reply: %w", err)
		}
		return &DispatchResult{Reply: reply, ProcedureName: "UNKNOWN", ErrorCode: "RPC_ERROR"}, nil
	}

	proc, ok := dispatchTable[call.Procedure]
	if !ok {
		logger.Debug("Unknown procedure", "procedure", call.Procedure, logger.KeyClientIP, clientAddr)
		reply, err := rpc.MakeErrorReply(call.XID, rpc.ReplyGarbageArgs)
		if err != nil {
			return nil, fmt.Errorf("make error reply: %w", err)
		}
		return &DispatchResult{Reply: reply, ProcedureName: "UNKNOWN", ErrorCode: "RPC_ERROR"}, nil
	}

	spanCtx, span := telemetry.StartSpan(ctx, "zipnfs."+proc.Name)
	defer span.End()
	span.SetAttributes(
		attribute.String("rpc.procedure", proc.Name),
		attribute.String("client.address", clientAddr),
	)

	hctx := handlers.NewContext(spanCtx, clientAddr, call.XID, workerID, proc.Name)
	if lc := logger.FromContext(hctx.Context); lc != nil {
		lc.TraceID = telemetry.TraceID(spanCtx)
	}

	body, errorCode, bytesRead, bytesWritten, err := proc.Handler(hctx, h, data)
	if err != nil {
		// Opaque failure: no wire status expresses it. The client sees a
		// transport-level error and retries.
		telemetry.RecordError(spanCtx, err)
		logger.WarnCtx(hctx.Context, "Request failed with transport-level error",
			logger.KeyRequestID, call.XID,
			logger.KeyError, err,
		)
		reply, makeErr := rpc.MakeErrorReply(call.XID, rpc.ReplyGarbageArgs)
		if makeErr != nil {
			return nil, fmt.Errorf("make error reply: %w", makeErr)
		}
		return &DispatchResult{Reply: reply, ProcedureName: proc.Name, ErrorCode: "RPC_ERROR"}, nil
	}

	reply, err := rpc.MakeReply(call.XID, body)
	if err != nil {
		return nil, fmt.Errorf("make reply: %w", err)
	}

	return &DispatchResult{
		Reply:         reply,
		ProcedureName: proc.Name,
		ErrorCode:     errorCode,
		BytesRead:     bytesRead,
		BytesWritten:  bytesWritten,
	}, nil
}

// finish encodes a handler outcome into an accepted-reply body. A
// *zip.Error becomes the error record; any other error propagates as an
// RPC-level failure.
func finish(result zip.Encoder, err error) (body []byte, errorCode string, e error) {
	if err != nil {
		zerr, ok := err.(*zip.Error)
		if !ok {
			return nil, "", err
		}
		body, encErr := zip.EncodeReplyBody(nil, zerr)
		if encErr != nil {
			return nil, "", encErr
		}
		return body, zerr.Status.String(), nil
	}

	body, encErr := zip.EncodeReplyBody(result, nil)
	if encErr != nil {
		return nil, "", encErr
	}
	return body, "", nil
}

// ============================================================================
// Per-procedure decode/execute/encode wrappers
// ============================================================================

func dispatchNull(hctx *handlers.Context, h *handlers.Handler, _ []byte) ([]byte, string, uint64, uint64, error) {
	res, err := h.Null(hctx)
	body, code, err := finish(res, err)
	return body, code, 0, 0, err
}

func dispatchGetAttr(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode GETATTR args: %w", err)
	}
	res, err := h.GetAttr(hctx, args)
	body, code, err := finish(res, err)
	return body, code, 0, 0, err
}

func dispatchSetAttr(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeSattrArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode SETATTR args: %w", err)
	}
	res, err := h.SetAttr(hctx, args)
	body, code, err := finish(res, err)
	return body, code, 0, 0, err
}

func dispatchLookup(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode LOOKUP args: %w", err)
	}
	res, err := h.Lookup(hctx, args)
	body, code, err := finish(res, err)
	return body, code, 0, 0, err
}

func dispatchReadDir(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeReadDirArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode READDIR args: %w", err)
	}
	res, err := h.ReadDir(hctx, args)
	body, code, err := finish(res, err)
	return body, code, 0, 0, err
}

func dispatchRead(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeReadArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode READ args: %w", err)
	}
	res, err := h.Read(hctx, args)
	var bytesRead uint64
	if err == nil {
		bytesRead = uint64(len(res.Data))
	}
	body, code, err := finish(res, err)
	return body, code, bytesRead, 0, err
}

func dispatchWrite(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeWriteArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode WRITE args: %w", err)
	}
	res, err := h.Write(hctx, args)
	var bytesWritten uint64
	if err == nil {
		bytesWritten = uint64(res.Count)
	}
	body, code, err := finish(res, err)
	return body, code, 0, bytesWritten, err
}

func dispatchCreate(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeCreateArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode CREATE args: %w", err)
	}
	res, err := h.Create(hctx, args)
	body, code, err := finish(res, err)
	return body, code, 0, 0, err
}

func dispatchMkDir(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeCreateArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode MKDIR args: %w", err)
	}
	res, err := h.MkDir(hctx, args)
	body, code, err := finish(res, err)
	return body, code, 0, 0, err
}

func dispatchRemove(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode REMOVE args: %w", err)
	}
	body, code, err := finish(nil, h.Remove(hctx, args))
	return body, code, 0, 0, err
}

func dispatchRmDir(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode RMDIR args: %w", err)
	}
	body, code, err := finish(nil, h.RmDir(hctx, args))
	return body, code, 0, 0, err
}

func dispatchRename(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeRenameArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode RENAME args: %w", err)
	}
	body, code, err := finish(nil, h.Rename(hctx, args))
	return body, code, 0, 0, err
}

func dispatchStatFs(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode STATFS args: %w", err)
	}
	res, err := h.StatFs(hctx, args)
	body, code, err := finish(res, err)
	return body, code, 0, 0, err
}

func dispatchCommit(hctx *handlers.Context, h *handlers.Handler, data []byte) ([]byte, string, uint64, uint64, error) {
	args, err := zip.DecodeCommitArgs(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("decode COMMIT args: %w", err)
	}
	res, err := h.Commit(hctx, args)
	body, code, err := finish(res, err)
	return body, code, 0, 0, err
}
