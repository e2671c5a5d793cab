// Package prometheus exposes tokenpipe client metrics to Prometheus.
//
// [NewExporter] registers a [Collector] on a private registry and serves it through
// [Exporter.Handler]. Counters are named tokenpipe_*_total; the renewal latency histogram
// is tokenpipe_renewal_latency_seconds. Nothing is registered globally.
package prometheus
