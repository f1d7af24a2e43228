// Package otel publishes engine counters through an OpenTelemetry meter.
//
// [NewExporter] creates one Int64ObservableCounter per counter and one
// Int64ObservableGauge per histogram bucket, all fed from a single
// callback that reads [gmpAuth.Engine.MetricsSnapshot].
//
// # What this package must NOT do
//
//   - Own the MeterProvider.
//   - Mutate engine state.
package otel
