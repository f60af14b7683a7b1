package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// RmDir deletes an empty directory. A non-empty directory yields
// NFSERR_NOTEMPTY; a regular file yields NFSERR_NOTDIR.
func (h *Handler) RmDir(ctx *Context, args *zip.DirOpArgs) error {
	logger.InfoCtx(ctx.Context, "RMDIR",
		logger.KeyFID, args.Dir.FID,
		logger.KeyFilename, args.Filename,
	)

	if ctx.cancelled() {
		return ctx.Context.Err()
	}

	if err := h.Store.RmDir(ctx.Context, args.Dir.FID, args.Filename); err != nil {
		logger.WarnCtx(ctx.Context, "RMDIR failed",
			logger.KeyFID, args.Dir.FID,
			logger.KeyFilename, args.Filename,
			logger.KeyError, err,
		)
		return mapStorageError(err)
	}

	logger.InfoCtx(ctx.Context, "RMDIR successful",
		logger.KeyFilename, args.Filename,
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return nil
}
