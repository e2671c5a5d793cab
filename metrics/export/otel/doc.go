// Package otel publishes tokenpipe client metrics through OpenTelemetry.
//
// [NewExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket. One callback reads
// [tokenpipe.Client.MetricsSnapshot] on each collection. The caller owns the
// MeterProvider.
package otel
