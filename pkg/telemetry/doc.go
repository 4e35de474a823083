// Package telemetry holds the observability plumbing: zerolog logger
// construction, a Prometheus metrics sink for the engine, and an
// OpenTelemetry tracer with OTLP and stdout exporters.
package telemetry
