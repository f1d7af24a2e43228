// Package prometheus exposes engine counters through client_golang.
//
// [Exporter] implements prometheus.Collector. Register it with your own
// registry or mount [Exporter.Handler]. Counter names follow
// gmpauth_*_total and the validation histogram is
// gmpauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
