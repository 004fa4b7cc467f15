package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("clone run not found")

// RunStatus mirrors the status column of the history table.
type RunStatus string

// Run statuses persisted in the status column.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunCompleted, RunFailed:
		return true
	}
	return false
}

// Run is one clone job's history row.
type Run struct {
	JobID         string     `json:"job_id"`
	URL           string     `json:"url"`
	FullSite      bool       `json:"full_site"`
	Status        RunStatus  `json:"status"`
	Phase         string     `json:"phase"`
	StartedAt     time.Time  `json:"started_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	PagesCaptured int64      `json:"pages_captured"`
	PagesFailed   int64      `json:"pages_failed"`
	BytesCaptured int64      `json:"bytes_captured"`
	Assets        int64      `json:"assets"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

// RunStart is the payload recorded when a job starts.
type RunStart struct {
	JobID     string
	URL       string
	FullSite  bool
	StartedAt time.Time
}

// PageDelta carries capture counters accumulated since the last write.
type PageDelta struct {
	Captured int64
	Failed   int64
	Bytes    int64
	At       time.Time
}

// RunFinish is the payload recorded when a job reaches a terminal state.
type RunFinish struct {
	Status     RunStatus
	FinishedAt time.Time
	Assets     int64
	Error      *string
}

// HistoryRepository persists clone job history.
type HistoryRepository interface {
	// StartRun inserts the run, or resets it to running if it already exists.
	StartRun(ctx context.Context, run RunStart) error
	// UpdatePhase records the most recent pipeline phase.
	UpdatePhase(ctx context.Context, jobID, phase string, at time.Time) error
	// AddPages applies capture counter deltas.
	AddPages(ctx context.Context, jobID string, delta PageDelta) error
	// FinishRun marks the run terminal.
	FinishRun(ctx context.Context, jobID string, finish RunFinish) error

	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, jobID string) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
