package handlers

import (
	"fmt"

	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// Write performs a WRITE in one of two modes. FILE_SYNC and DATA_SYNC are
// both treated as stable: the data is durable (copy-rename plus fsync)
// before the reply. UNSTABLE appends to the per-FID in-memory buffer and
// returns immediately; durability comes from a later COMMIT.
//
// Every response carries the server epoch as the verifier. A client that
// sees the verifier change must assume its buffered unstable writes were
// lost and resubmit them.
func (h *Handler) Write(ctx *Context, args *zip.WriteArgs) (*zip.WriteRes, error) {
	logger.InfoCtx(ctx.Context, "WRITE",
		logger.KeyFID, args.File.FID,
		logger.KeyOffset, args.Offset,
		logger.KeyCount, args.Count,
		logger.KeyStable, args.Stable.String(),
	)

	if ctx.cancelled() {
		return nil, ctx.Context.Err()
	}

	// The count field and the payload length must agree; a mismatch is a
	// malformed request, not a storage condition.
	if uint32(len(args.Data)) != args.Count {
		return nil, fmt.Errorf("write: count %d does not match %d data bytes", args.Count, len(args.Data))
	}

	count, committed, verf, err := h.Store.Write(
		ctx.Context, args.File.FID, args.Offset, args.Data, args.Stable, ctx.WorkerID)
	if err != nil {
		logger.WarnCtx(ctx.Context, "WRITE failed",
			logger.KeyFID, args.File.FID,
			logger.KeyOffset, args.Offset,
			logger.KeyError, err,
		)
		return nil, mapStorageError(err)
	}

	logger.DebugCtx(ctx.Context, "WRITE successful",
		logger.KeyFID, args.File.FID,
		logger.KeyBytesWritten, count,
		logger.KeyStable, committed.String(),
		logger.KeyEpoch, verf,
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return &zip.WriteRes{Count: count, Committed: committed, Verf: verf}, nil
}
