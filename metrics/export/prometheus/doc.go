// Package prometheus exposes session metrics as a client_golang Collector.
//
// Counters are named gosession_*_total; request and renewal latencies are
// histograms in seconds. Register the Collector on any registry, or use
// Handler for a dedicated one.
//
// # What this package must NOT do
//
//   - Register with the global default registry.
//   - Mutate controller state.
package prometheus
