// Package observability provides an OpenTelemetry metrics extension for
// the image signer. The MetricsExtension implements lifecycle hooks to
// record system-wide counters for executions, task attempts and trigger
// ticks.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
