// Package jobs keeps clone jobs in memory and owns their status transitions.
package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

var (
	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = errors.New("job not found")
	// ErrRunning is returned when evicting a job that is still executing.
	ErrRunning = errors.New("job is running")
	// ErrTerminal is returned when mutating a job that already finished.
	ErrTerminal = errors.New("job already finished")
)

// UUIDGenerator creates UUID v7 job IDs.
type UUIDGenerator struct{}

// NewID returns a UUID7 string.
func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// SystemClock reports UTC wall time.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Option customizes a Registry.
type Option func(*Registry)

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(ids cloner.IDGenerator) Option {
	return func(r *Registry) { r.ids = ids }
}

// WithClock overrides the time source.
func WithClock(clock cloner.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// Registry is the in-memory job table. Jobs are kept until evicted.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]cloner.Job
	ids   cloner.IDGenerator
	clock cloner.Clock
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		jobs:  make(map[string]cloner.Job),
		ids:   UUIDGenerator{},
		clock: SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new pending job for req.
func (r *Registry) Create(req cloner.Request) (cloner.Job, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return cloner.Job{}, fmt.Errorf("create job: %w", err)
	}
	now := r.clock.Now()
	job := cloner.Job{
		ID:        id,
		Request:   req,
		Status:    cloner.JobStatusPending,
		Progress:  "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[id]; exists {
		return cloner.Job{}, fmt.Errorf("create job %s: duplicate id", id)
	}
	r.jobs[id] = job
	return job, nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (cloner.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return cloner.Job{}, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// List returns every job, newest first.
func (r *Registry) List() []cloner.Job {
	r.mu.RLock()
	out := make([]cloner.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Transition moves a job to status with a progress note.
func (r *Registry) Transition(id string, status cloner.JobStatus, progress string) (cloner.Job, error) {
	return r.update(id, func(job *cloner.Job) {
		job.Status = status
		if progress != "" {
			job.Progress = progress
		}
	})
}

// SetProgress updates the progress note without changing status.
func (r *Registry) SetProgress(id, progress string) (cloner.Job, error) {
	return r.update(id, func(job *cloner.Job) {
		job.Progress = progress
	})
}

// Fail marks the job failed with a short error text.
func (r *Registry) Fail(id, errText string) (cloner.Job, error) {
	return r.update(id, func(job *cloner.Job) {
		job.Status = cloner.JobStatusFailed
		job.Error = errText
		job.Progress = "Failed"
	})
}

// CompleteSinglePage stores res and marks the job completed.
func (r *Registry) CompleteSinglePage(id string, res cloner.SinglePageResult) (cloner.Job, error) {
	return r.update(id, func(job *cloner.Job) {
		job.Status = cloner.JobStatusCompleted
		job.Progress = "Completed"
		job.Result = &res
	})
}

// CompleteFullSite stores res and marks the job completed.
func (r *Registry) CompleteFullSite(id string, res cloner.FullSiteResult) (cloner.Job, error) {
	return r.update(id, func(job *cloner.Job) {
		job.Status = cloner.JobStatusCompleted
		job.Progress = fmt.Sprintf("Completed: %d pages", res.TotalPages)
		job.FullSiteResult = &res
	})
}

// SetArtifactURI records where the job's archive was exported. It is allowed
// after completion.
func (r *Registry) SetArtifactURI(id, uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("set artifact %s: %w", id, ErrNotFound)
	}
	job.ArtifactURI = uri
	job.UpdatedAt = r.clock.Now()
	r.jobs[id] = job
	return nil
}

// Evict removes a job that is pending or finished.
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("evict job %s: %w", id, ErrNotFound)
	}
	if job.Status != cloner.JobStatusPending && !job.Status.Terminal() {
		return fmt.Errorf("evict job %s: %w", id, ErrRunning)
	}
	delete(r.jobs, id)
	return nil
}

// Len reports the number of retained jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *Registry) update(id string, mutate func(*cloner.Job)) (cloner.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return cloner.Job{}, fmt.Errorf("update job %s: %w", id, ErrNotFound)
	}
	if job.Status.Terminal() {
		return job, fmt.Errorf("update job %s: %w", id, ErrTerminal)
	}
	mutate(&job)
	now := r.clock.Now()
	job.UpdatedAt = now
	if job.StartedAt == nil && job.Status != cloner.JobStatusPending {
		job.StartedAt = pointerTime(now)
	}
	if job.Status.Terminal() {
		job.FinishedAt = pointerTime(now)
	}
	r.jobs[id] = job
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
