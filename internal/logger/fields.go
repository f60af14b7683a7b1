package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs can be
// aggregated and queried by field.
const (
	// Tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Protocol & operation
	KeyProcedure = "procedure" // RPC procedure name: LOOKUP, WRITE, COMMIT, ...
	KeyFID       = "fid"       // File identifier
	KeyStatus    = "status"    // Wire status code
	KeyEpoch     = "epoch"     // Server epoch / write verifier

	// File system
	KeyPath       = "path"        // Full host path of a numbered file
	KeyFilename   = "filename"    // File or directory name within its parent
	KeyParentPath = "parent_path" // Parent directory host path
	KeyOldPath    = "old_path"    // Source for rename
	KeyNewPath    = "new_path"    // Destination for rename
	KeySize       = "size"        // File size in bytes

	// I/O
	KeyOffset       = "offset"        // File offset for read/write
	KeyCount        = "count"         // Byte count requested
	KeyBytesRead    = "bytes_read"    // Actual bytes read
	KeyBytesWritten = "bytes_written" // Actual bytes written
	KeyStable       = "stable"        // Write durability mode

	// Client & connection
	KeyClientIP     = "client_ip"     // Client IP address
	KeyConnectionID = "connection_id" // Connection identifier
	KeyRequestID    = "request_id"    // RPC XID
	KeyWorker       = "worker"        // Worker pool slot handling the request

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyEntries    = "entries"     // Number of directory entries
	KeyAttempt    = "attempt"     // Retry attempt number
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// Procedure returns a slog.Attr for the RPC procedure name
func Procedure(name string) slog.Attr {
	return slog.String(KeyProcedure, name)
}

// FID returns a slog.Attr for a file identifier
func FID(fid uint64) slog.Attr {
	return slog.Uint64(KeyFID, fid)
}

// Path returns a slog.Attr for a host path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Filename returns a slog.Attr for a name within a directory
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Offset returns a slog.Attr for a file offset
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// Count returns a slog.Attr for a byte count
func Count(c uint32) slog.Attr {
	return slog.Any(KeyCount, c)
}

// ClientIP returns a slog.Attr for a client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// RequestID returns a slog.Attr for an RPC XID
func RequestID(xid uint32) slog.Attr {
	return slog.Any(KeyRequestID, xid)
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
