// Package metrics defines the observability interface for the server
// adapter. Implementations are optional: passing nil disables collection
// with zero overhead.
package metrics

import "time"

// ServerMetrics collects request and connection metrics for the RPC
// adapter.
type ServerMetrics interface {
	// RecordRequest records a completed request with its procedure name,
	// duration, and outcome. errorCode is the wire error name (e.g.
	// "NFSERR_NOENT"), empty on success.
	RecordRequest(procedure string, duration time.Duration, errorCode string)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart(procedure string)

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd(procedure string)

	// RecordBytesTransferred records payload bytes moved; direction is
	// "read" or "write".
	RecordBytesTransferred(direction string, bytes uint64)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()
}
