// Package sinks implements progress consumers: structured logging and
// Prometheus run-level collectors.
package sinks
