package handlers

import (
	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
)

// Null is the liveness ping. It does no work but still returns the server
// epoch, so a client can learn the current write verifier without issuing
// a write.
func (h *Handler) Null(ctx *Context) (*zip.NullRes, error) {
	logger.DebugCtx(ctx.Context, "NULL")
	return &zip.NullRes{Epoch: h.Store.Epoch()}, nil
}
