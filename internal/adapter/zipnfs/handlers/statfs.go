package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// StatFs returns the synthetic filesystem summary. The handle is still
// resolved so a stale one is reported as NFSERR_STALE.
func (h *Handler) StatFs(ctx *Context, args *zip.FileHandle) (*zip.StatFsRes, error) {
	logger.InfoCtx(ctx.Context, "STATFS", logger.KeyFID, args.FID)

	if ctx.cancelled() {
		return nil, ctx.Context.Err()
	}

	res, err := h.Store.StatFS(ctx.Context, args.FID)
	if err != nil {
		logger.WarnCtx(ctx.Context, "STATFS failed", logger.KeyFID, args.FID, logger.KeyError, err)
		return nil, mapStorageError(err)
	}

	logger.DebugCtx(ctx.Context, "STATFS successful", logger.KeyDurationMs, ctx.durationMs())
	return res, nil
}
