// Package prometheus renders engine counters in the Prometheus text
// exposition format.
//
// Counter names are stampauth_*_total; the single histogram is
// stampauth_validate_latency_seconds. Nothing is registered globally; callers
// mount [Exporter.Handler] wherever they serve /metrics.
package prometheus
