// Package prometheus provides Prometheus exposition for phoneauth metrics.
//
// [NewPrometheusExporter] accepts a [phoneauth.Engine] and exposes an [http.Handler]
// that renders all phoneauth counters and histograms in Prometheus text exposition
// format. Counter names are prefixed phoneauth_*_total; the single histogram is
// phoneauth_authenticate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
