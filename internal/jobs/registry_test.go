package jobs

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%02d", s.n), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRegistry() *Registry {
	return NewRegistry(
		WithIDGenerator(&seqIDs{}),
		WithClock(&fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}),
	)
}

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	job, err := r.Create(cloner.Request{URL: "https://example.com", FullSite: true, MaxPages: 5})
	require.NoError(t, err)
	require.Equal(t, "job-01", job.ID)
	require.Equal(t, cloner.JobStatusPending, job.Status)
	require.Nil(t, job.StartedAt)

	job, err = r.Transition(job.ID, cloner.JobStatusDiscovering, "Discovering pages")
	require.NoError(t, err)
	require.NotNil(t, job.StartedAt)
	started := *job.StartedAt

	job, err = r.Transition(job.ID, cloner.JobStatusCapturing, "")
	require.NoError(t, err)
	require.Equal(t, "Discovering pages", job.Progress)
	require.Equal(t, started, *job.StartedAt)

	job, err = r.CompleteFullSite(job.ID, cloner.FullSiteResult{TotalPages: 3})
	require.NoError(t, err)
	require.Equal(t, cloner.JobStatusCompleted, job.Status)
	require.NotNil(t, job.FinishedAt)
	require.Equal(t, 3, job.FullSiteResult.TotalPages)

	_, err = r.Transition(job.ID, cloner.JobStatusRewriting, "")
	require.ErrorIs(t, err, ErrTerminal)
	_, err = r.Fail(job.ID, "late")
	require.ErrorIs(t, err, ErrTerminal)

	require.NoError(t, r.SetArtifactURI(job.ID, "file:///tmp/a.zip"))
	got, err := r.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, "file:///tmp/a.zip", got.ArtifactURI)
	require.Empty(t, got.Error)
}

func TestRegistryFail(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	job, err := r.Create(cloner.Request{URL: "https://example.com"})
	require.NoError(t, err)
	job, err = r.Fail(job.ID, "no usable pages")
	require.NoError(t, err)
	require.Equal(t, cloner.JobStatusFailed, job.Status)
	require.Equal(t, "no usable pages", job.Error)
	require.NotNil(t, job.FinishedAt)
}

func TestRegistryListNewestFirst(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	for range 3 {
		_, err := r.Create(cloner.Request{URL: "https://example.com"})
		require.NoError(t, err)
	}
	list := r.List()
	require.Len(t, list, 3)
	require.Equal(t, []string{"job-03", "job-02", "job-01"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestRegistryEvict(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	pending, err := r.Create(cloner.Request{URL: "https://a.com"})
	require.NoError(t, err)
	running, err := r.Create(cloner.Request{URL: "https://b.com"})
	require.NoError(t, err)
	_, err = r.Transition(running.ID, cloner.JobStatusCapturing, "Capturing")
	require.NoError(t, err)

	require.ErrorIs(t, r.Evict(running.ID), ErrRunning)
	require.NoError(t, r.Evict(pending.ID))
	require.ErrorIs(t, r.Evict(pending.ID), ErrNotFound)

	_, err = r.CompleteSinglePage(running.ID, cloner.SinglePageResult{URL: "https://b.com"})
	require.NoError(t, err)
	require.NoError(t, r.Evict(running.ID))
	require.Zero(t, r.Len())

	_, err = r.Get(running.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryDefaultGeneratesUUIDv7(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	job, err := r.Create(cloner.Request{URL: "https://example.com"})
	require.NoError(t, err)
	parsed, err := uuid.Parse(job.ID)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
	require.Equal(t, time.UTC, job.CreatedAt.Location())
}

func TestRegistryConcurrentUpdates(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	job, err := r.Create(cloner.Request{URL: "https://example.com"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.SetProgress(job.ID, fmt.Sprintf("step %d", i))
			_ = r.List()
		}()
	}
	wg.Wait()
	got, err := r.Get(job.ID)
	require.NoError(t, err)
	require.Contains(t, got.Progress, "step")
}
