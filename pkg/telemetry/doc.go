// Package telemetry instruments the decision pipeline: an in-process
// recorder computes request percentiles and cache hit rates on demand, a
// Prometheus registry exports the same signals for scraping, and an optional
// OpenTelemetry tracer provider ships spans to an OTLP collector.
package telemetry
