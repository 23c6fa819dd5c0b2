// Package prometheus renders goGate engine counters in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps a [goGate.Engine] and exposes an
// [http.Handler]. Counters are named gogate_*_total; the one histogram is
// gogate_login_latency_seconds. Nothing is registered globally; callers
// mount the handler.
package prometheus
