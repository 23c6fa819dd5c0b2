// Package otel publishes goGate engine counters through an OpenTelemetry
// Meter supplied by the caller. A single callback reads
// [goGate.Engine.MetricsSnapshot] on each collection.
package otel
