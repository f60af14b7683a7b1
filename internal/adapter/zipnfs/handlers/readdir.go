package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// ReadDir lists a directory. Entries are sorted by FID ascending; the
// request offset is an index into that ordering, and the response is
// truncated to the MaxBufLen byte budget. An offset past the end yields an
// empty list, which is how clients detect the end of the directory.
func (h *Handler) ReadDir(ctx *Context, args *zip.ReadDirArgs) (*zip.ReadDirRes, error) {
	logger.InfoCtx(ctx.Context, "READDIR",
		logger.KeyFID, args.Dir.FID,
		logger.KeyOffset, args.Offset,
	)

	if ctx.cancelled() {
		return nil, ctx.Context.Err()
	}

	entries, err := h.Store.ReadDir(ctx.Context, args.Dir.FID, args.Offset)
	if err != nil {
		logger.WarnCtx(ctx.Context, "READDIR failed", logger.KeyFID, args.Dir.FID, logger.KeyError, err)
		return nil, mapStorageError(err)
	}

	// Apply the response byte budget over the encoded entry sizes.
	res := &zip.ReadDirRes{}
	budget := zip.MaxBufLen
	for i := range entries {
		size := entries[i].EncodedLen()
		if size > budget {
			break
		}
		budget -= size
		res.Entries = append(res.Entries, entries[i])
	}

	logger.DebugCtx(ctx.Context, "READDIR successful",
		logger.KeyFID, args.Dir.FID,
		logger.KeyEntries, len(res.Entries),
		logger.KeyDurationMs, ctx.durationMs(),
	)
	return res, nil
}
