// Package api hosts the HTTP server, middleware, and REST handlers of the
// cloner. Notable routes:
//   - POST /v1/clone to submit a job, GET /v1/clone[/{job_id}] for status.
//   - GET /v1/clone/{job_id}/logs streams the job's event log as SSE.
//   - GET /v1/clone/{job_id}/download returns the finished archive.
//   - GET /v1/history[/{job_id}] reads persisted runs via store.HistoryRepository.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
