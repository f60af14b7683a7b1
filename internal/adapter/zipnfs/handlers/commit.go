package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// Commit drains the file's buffered unstable writes to stable storage and
// returns the server epoch. The request's offset and count are advisory;
// the whole file is committed. A COMMIT with nothing buffered succeeds
// immediately and still reports the epoch, so a client can always compare
// verifiers.
func (h *Handler) Commit(ctx *Context, args *zip.CommitArgs) (*zip.CommitRes, error) {
	logger.InfoCtx(ctx.Context, "COMMIT",
		logger.KeyFID, args.File.FID,
		logger.KeyOffset, args.Offset,
		logger.KeyCount, args.Count,
	)

	if ctx.cancelled() {
		return nil, ctx.Context.Err()
	}

	verf, err := h.Store.Commit(ctx.Context, args.File.FID, ctx.WorkerID)
	if err != nil {
		logger.WarnCtx(ctx.Context, "COMMIT failed", logger.KeyFID, args.File.FID, logger.KeyError, err)
		return nil, mapStorageError(err)
	}

	logger.DebugCtx(ctx.Context, "COMMIT successful",
		logger.KeyFID, args.File.FID,
		logger.KeyEpoch, verf,
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return &zip.CommitRes{Verf: verf}, nil
}
