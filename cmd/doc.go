// Package cmd defines the site-cloner command line.
//
// Architecture overview:
//   - HTTP API (serve): internal/api.Server accepts clone requests, validates them into cloner.Request values,
//     registers them in the in-memory job registry and enqueues them for the worker pool. Job state, downloads and
//     a Server-Sent Events log stream are served per job.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by jobs.queue_depth and are fanned out
//     to a fixed worker pool sized by jobs.workers. A job that has started runs to completion even during shutdown.
//   - Pipeline: the coordinator captures pages with a local headless browser (falling back to a hosted browser
//     session when remote.api_key is set), discovers same-origin links for full-site jobs, inlines assets through
//     the rate-limited Colly fetcher, runs the generative transform and rewrites links between cloned pages.
//   - Persistence & fanout: finished artifacts are exported to the configured BlobStore (memory/local/GCS), run
//     history is written to Postgres when db.dsn is set, and a completion message is published to Pub/Sub when a
//     topic is configured.
//   - Observability: zap logs carry job IDs at key transitions; Prometheus metrics are exported on /metrics; the
//     progress hub batches lifecycle events to the log, metrics and history sinks; OpenTelemetry spans wrap each job.
//
// The clone subcommand runs one job in-process with the same pipeline and writes its artifact to disk.
package cmd
