package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// Rename moves an object between (or within) directories. Renaming onto an
// existing name yields NFSERR_EXIST — there is no overwrite. The two-phase
// host sequence keeps the object reachable under exactly one of the two
// names across any crash.
func (h *Handler) Rename(ctx *Context, args *zip.RenameArgs) error {
	logger.InfoCtx(ctx.Context, "RENAME",
		logger.KeyOldPath, args.OldLoc.Filename,
		logger.KeyNewPath, args.NewLoc.Filename,
		logger.KeyFID, args.OldLoc.Dir.FID,
	)

	if ctx.cancelled() {
		return ctx.Context.Err()
	}

	err := h.Store.Rename(ctx.Context,
		args.OldLoc.Dir.FID, args.OldLoc.Filename,
		args.NewLoc.Dir.FID, args.NewLoc.Filename)
	if err != nil {
		logger.WarnCtx(ctx.Context, "RENAME failed",
			logger.KeyOldPath, args.OldLoc.Filename,
			logger.KeyNewPath, args.NewLoc.Filename,
			logger.KeyError, err,
		)
		return mapStorageError(err)
	}

	logger.InfoCtx(ctx.Context, "RENAME successful",
		logger.KeyOldPath, args.OldLoc.Filename,
		logger.KeyNewPath, args.NewLoc.Filename,
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return nil
}
