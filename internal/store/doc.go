// Package store declares the durable job-history model. Rows are written from
// lifecycle telemetry and outlive the in-memory job registry.
package store
