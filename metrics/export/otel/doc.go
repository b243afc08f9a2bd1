// Package otel exports session metrics through OpenTelemetry observable
// instruments.
//
// Counters map to Int64ObservableCounter. Each latency histogram maps to a
// cumulative bucket gauge keyed by the "le" attribute plus a count gauge. One
// callback reads a snapshot per collection.
//
// The caller owns the MeterProvider.
package otel
