package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/site-cloner/internal/progress"
)

// PrometheusSink exports clone lifecycle metrics.
type PrometheusSink struct {
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	jobPages      prometheus.Histogram

	phases       *prometheus.CounterVec
	pages        *prometheus.CounterVec
	pageBytes    *prometheus.CounterVec
	jobAssetsSum prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloner_jobs_started_total",
			Help: "Clone jobs started, partitioned by kind.",
		}, []string{"kind"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloner_jobs_completed_total",
			Help: "Clone jobs finished, partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloner_jobs_running",
			Help: "Clone jobs currently executing.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloner_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"result"}),
		jobPages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cloner_job_pages",
			Help:    "Pages in each completed clone.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloner_phase_entered_total",
			Help: "Pipeline phases entered, partitioned by phase.",
		}, []string{"phase"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloner_pages_total",
			Help: "Page captures partitioned by renderer and outcome.",
		}, []string{"renderer", "outcome"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloner_page_bytes_total",
			Help: "Captured markup bytes per host.",
		}, []string{"host"}),
		jobAssetsSum: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloner_job_assets_total",
			Help: "Unique assets embedded across completed jobs.",
		}),
		tracker: newJobTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.jobsStarted, s.jobsCompleted, s.jobsRunning, s.jobRuntime, s.jobPages,
		s.phases, s.pages, s.pageBytes, s.jobAssetsSum,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		kind := "single_page"
		if evt.FullSite {
			kind = "full_site"
		}
		s.jobsStarted.WithLabelValues(kind).Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StagePhase:
		s.phases.WithLabelValues(evt.Phase).Inc()
	case progress.StagePageCaptured:
		s.pages.WithLabelValues(rendererLabel(evt.Renderer), "captured").Inc()
		if evt.Bytes > 0 {
			s.pageBytes.WithLabelValues(evt.Host()).Add(float64(evt.Bytes))
		}
	case progress.StagePageFailed:
		s.pages.WithLabelValues(rendererLabel(evt.Renderer), "failed").Inc()
	case progress.StageJobDone:
		s.finish(evt, "completed")
		s.jobPages.Observe(float64(evt.Pages))
		s.jobAssetsSum.Add(float64(evt.Assets))
	case progress.StageJobError:
		s.finish(evt, "failed")
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func rendererLabel(r string) string {
	if r == "" {
		return "none"
	}
	return r
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
