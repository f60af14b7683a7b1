package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// Remove deletes a regular file. Deleting a directory this way yields
// NFSERR_ISDIR. The numbered file is unlinked before the named file: the
// surviving named orphan is the recoverable crash window.
func (h *Handler) Remove(ctx *Context, args *zip.DirOpArgs) error {
	logger.InfoCtx(ctx.Context, "REMOVE",
		logger.KeyFID, args.Dir.FID,
		logger.KeyFilename, args.Filename,
	)

	if ctx.cancelled() {
		return ctx.Context.Err()
	}

	if err := h.Store.Remove(ctx.Context, args.Dir.FID, args.Filename); err != nil {
		logger.WarnCtx(ctx.Context, "REMOVE failed",
			logger.KeyFID, args.Dir.FID,
			logger.KeyFilename, args.Filename,
			logger.KeyError, err,
		)
		return mapStorageError(err)
	}

	logger.InfoCtx(ctx.Context, "REMOVE successful",
		logger.KeyFilename, args.Filename,
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return nil
}
