// Package eventlog keeps the per-job, append-only narrative shown to callers
// while a clone runs.
//
// Every job owns an ordered history. Subscribers attach at any time: they first
// receive the full history in order (paced by Config.ReplayInterval) and then
// live entries as they are appended. The stream for a job ends with the reserved
// Sentinel line, which each subscriber receives exactly once before its channel
// closes. Appends never block on slow consumers; each subscriber has its own
// unbounded queue. History is only purged by Cleanup.
package eventlog
