package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLogger_TextFormat tests message and field rendering in text mode.
func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("Request served", KeyProcedure, "LOOKUP", KeyFID, uint64(42))

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "Request served")
	assert.Contains(t, out, "procedure=LOOKUP")
	assert.Contains(t, out, "fid=42")
}

// TestLogger_LevelFiltering tests that messages below the configured level
// are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("invisible")
	Info("also invisible")
	Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "invisible")
	assert.Contains(t, out, "visible")

	// Restore for other tests.
	InitWithWriter(&buf, "INFO", "text", false)
}

// TestLogger_JSONFormat tests the JSON handler.
func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("hello", "k", "v")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"k":"v"`)

	InitWithWriter(&buf, "INFO", "text", false)
}

// TestLogger_ContextFields tests that InfoCtx prepends the request-scoped
// fields from the LogContext.
func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	lc := NewLogContext("10.0.0.5")
	lc.Procedure = "WRITE"
	lc.Worker = 3
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "done", KeyBytesWritten, 128)

	out := buf.String()
	assert.Contains(t, out, "procedure=WRITE")
	assert.Contains(t, out, "client_ip=10.0.0.5")
	assert.Contains(t, out, "worker=3")
	assert.Contains(t, out, "bytes_written=128")
}
