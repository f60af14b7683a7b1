package telemetry

// Config contains configuration for OpenTelemetry tracing.
type Config struct {
	// Enabled controls whether tracing is enabled
	Enabled bool

	// ServiceName identifies this service in traces
	ServiceName string

	// ServiceVersion is the application version
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector endpoint (host:port)
	Endpoint string

	// Insecure disables TLS on the exporter connection
	Insecure bool

	// SampleRate is the trace sampling ratio in [0.0, 1.0]
	SampleRate float64
}
