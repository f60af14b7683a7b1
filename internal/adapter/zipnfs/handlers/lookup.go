package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// Lookup finds the child called filename in the given directory and
// returns its handle and attributes. A missing name yields NFSERR_NOENT;
// a parent that is not a directory yields NFSERR_NOTDIR.
func (h *Handler) Lookup(ctx *Context, args *zip.DirOpArgs) (*zip.DirOpRes, error) {
	logger.InfoCtx(ctx.Context, "LOOKUP",
		logger.KeyFID, args.Dir.FID,
		logger.KeyFilename, args.Filename,
	)

	if ctx.cancelled() {
		return nil, ctx.Context.Err()
	}

	fid, attrs, err := h.Store.Lookup(ctx.Context, args.Dir.FID, args.Filename)
	if err != nil {
		logger.DebugCtx(ctx.Context, "LOOKUP failed",
			logger.KeyFID, args.Dir.FID,
			logger.KeyFilename, args.Filename,
			logger.KeyError, err,
		)
		return nil, mapStorageError(err)
	}

	logger.DebugCtx(ctx.Context, "LOOKUP successful",
		logger.KeyFilename, args.Filename,
		logger.KeyFID, fid,
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return &zip.DirOpRes{File: zip.FileHandle{FID: fid}, Attributes: *attrs}, nil
}
