// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and the job-history store.
package sinks
