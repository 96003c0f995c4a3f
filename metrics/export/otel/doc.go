// Package otel publishes engine counters through an OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per latency bucket. A single callback reads
// [stampauth.Engine.MetricsSnapshot] on each collection cycle. The caller owns
// the MeterProvider.
package otel
