package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// Read returns up to min(count, MaxBufLen) bytes from the file at the
// given offset, together with its attributes. Reading a directory yields
// NFSERR_ISDIR. The returned data is truncated to the bytes actually
// present; a short or empty result at or past EOF is not an error.
func (h *Handler) Read(ctx *Context, args *zip.ReadArgs) (*zip.ReadRes, error) {
	logger.InfoCtx(ctx.Context, "READ",
		logger.KeyFID, args.File.FID,
		logger.KeyOffset, args.Offset,
		logger.KeyCount, args.Count,
	)

	if ctx.cancelled() {
		return nil, ctx.Context.Err()
	}

	data, attrs, err := h.Store.Read(ctx.Context, args.File.FID, args.Offset, args.Count)
	if err != nil {
		logger.WarnCtx(ctx.Context, "READ failed", logger.KeyFID, args.File.FID, logger.KeyError, err)
		return nil, mapStorageError(err)
	}

	logger.DebugCtx(ctx.Context, "READ successful",
		logger.KeyFID, args.File.FID,
		logger.KeyBytesRead, len(data),
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return &zip.ReadRes{Attributes: *attrs, Data: data}, nil
}
