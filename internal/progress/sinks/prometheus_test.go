package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the job lifecycle.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart, URL: "https://example.com/", FullSite: true},
		{JobID: "job-1", TS: now, Stage: progress.StagePhase, Phase: "capturing"},
		{JobID: "job-1", TS: now, Stage: progress.StagePageCaptured, URL: "https://example.com/", Renderer: "headless", Bytes: 1024},
		{JobID: "job-1", TS: now, Stage: progress.StagePageFailed, URL: "https://example.com/broken"},
		{JobID: "job-1", TS: now, Stage: progress.StageJobDone, Pages: 1, Assets: 3, Dur: 15 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted.WithLabelValues("full_site")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.phases.WithLabelValues("capturing")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("headless", "captured")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("none", "failed")))
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.pageBytes.WithLabelValues("example.com")), 1e-9)
	require.InDelta(t, 3.0, testutil.ToFloat64(sink.jobAssetsSum), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "cloner_job_runtime_seconds"))
}

func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StageJobStart},
		{JobID: "a", TS: now, Stage: progress.StageJobStart},
		{JobID: "b", TS: now, Stage: progress.StageJobStart},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StageJobError, Note: "boom"},
		{JobID: "a", TS: now, Stage: progress.StageJobError, Note: "boom"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("failed")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
