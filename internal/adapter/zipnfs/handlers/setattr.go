package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// SetAttr applies the settable attribute fields (size, atime, mtime) to
// the object and returns its fresh attributes. Size on a directory yields
// NFSERR_ISDIR; a concurrent unlink detected during the time-set syscall
// yields NFSERR_STALE.
//
// Timestamp handling keeps the historical quirk: atime alone mirrors into
// mtime, mtime alone applies nothing.
func (h *Handler) SetAttr(ctx *Context, args *zip.SattrArgs) (*zip.AttrStat, error) {
	logger.InfoCtx(ctx.Context, "SETATTR", logger.KeyFID, args.File.FID)

	if ctx.cancelled() {
		return nil, ctx.Context.Err()
	}

	attrs, err := h.Store.SetAttr(ctx.Context, args.File.FID, &args.Attributes)
	if err != nil {
		logger.WarnCtx(ctx.Context, "SETATTR failed", logger.KeyFID, args.File.FID, logger.KeyError, err)
		return nil, mapStorageError(err)
	}

	logger.DebugCtx(ctx.Context, "SETATTR successful",
		logger.KeyFID, args.File.FID,
		logger.KeySize, attrs.Size,
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return &zip.AttrStat{Attributes: *attrs}, nil
}
