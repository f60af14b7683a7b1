package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// GetAttr returns the attributes of the object named by the handle.
// A handle whose FID cannot be resolved (deleted or never created) yields
// NFSERR_STALE.
func (h *Handler) GetAttr(ctx *Context, args *zip.FileHandle) (*zip.AttrStat, error) {
	logger.InfoCtx(ctx.Context, "GETATTR", logger.KeyFID, args.FID)

	if ctx.cancelled() {
		return nil, ctx.Context.Err()
	}

	attrs, err := h.Store.GetAttr(ctx.Context, args.FID)
	if err != nil {
		logger.WarnCtx(ctx.Context, "GETATTR failed", logger.KeyFID, args.FID, logger.KeyError, err)
		return nil, mapStorageError(err)
	}

	logger.DebugCtx(ctx.Context, "GETATTR successful",
		logger.KeyFID, args.FID,
		logger.KeySize, attrs.Size,
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return &zip.AttrStat{Attributes: *attrs}, nil
}
