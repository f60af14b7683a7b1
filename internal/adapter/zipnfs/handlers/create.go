package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// Create creates a regular file. The (parent, name) pair is reserved for
// the duration of the operation, so concurrent creators of the same name
// see NFSERR_EXIST; the host sequence (numbered file, parent fsync, named
// file, parent fsync) makes a crash at any point recoverable.
func (h *Handler) Create(ctx *Context, args *zip.CreateArgs) (*zip.DirOpRes, error) {
	return h.create(ctx, "CREATE", args, true)
}

// MkDir creates a directory. Same protocol as Create; the numbered file is
// a host directory, the named file remains a regular file.
func (h *Handler) MkDir(ctx *Context, args *zip.CreateArgs) (*zip.DirOpRes, error) {
	return h.create(ctx, "MKDIR", args, false)
}

func (h *Handler) create(ctx *Context, name string, args *zip.CreateArgs, isFile bool) (*zip.DirOpRes, error) {
	logger.InfoCtx(ctx.Context, name,
		logger.KeyFID, args.Where.Dir.FID,
		logger.KeyFilename, args.Where.Filename,
	)

	if ctx.cancelled() {
		return nil, ctx.Context.Err()
	}

	fid, attrs, err := h.Store.Create(
		ctx.Context, args.Where.Dir.FID, args.Where.Filename, &args.Attributes, isFile)
	if err != nil {
		logger.WarnCtx(ctx.Context, name+" failed",
			logger.KeyFID, args.Where.Dir.FID,
			logger.KeyFilename, args.Where.Filename,
			logger.KeyError, err,
		)
		return nil, mapStorageError(err)
	}

	logger.InfoCtx(ctx.Context, name+" successful",
		logger.KeyFilename, args.Where.Filename,
		logger.KeyFID, fid,
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return &zip.DirOpRes{File: zip.FileHandle{FID: fid}, Attributes: *attrs}, nil
}
