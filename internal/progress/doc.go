// Package progress carries operational lifecycle telemetry for clone jobs.
// Workers and the coordinator emit Events without blocking; a Hub batches them
// on a background goroutine and fans them out to sinks such as Prometheus,
// structured logs or the job-history store. The user-facing narrative lives in
// the eventlog package instead.
package progress
