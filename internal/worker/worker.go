// Package worker implements the clone job execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/artifact"
	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/jobs"
	"github.com/JakeFAU/site-cloner/internal/metrics"
	"github.com/JakeFAU/site-cloner/internal/progress"
)

const tracerName = "github.com/JakeFAU/site-cloner/internal/worker"

// JobSource is the slice of the job registry the worker reads and annotates.
type JobSource interface {
	Get(id string) (cloner.Job, error)
	SetArtifactURI(id, uri string) error
}

// Runner drives one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job cloner.Job) error
}

// Config controls Worker behavior.
type Config struct {
	// ArtifactPrefix is prepended to exported object paths.
	ArtifactPrefix string
	// Topic receives completion notifications.
	Topic string
	// JobTimeout bounds a single job; zero means unbounded.
	JobTimeout time.Duration
}

// Deps wires the collaborators of a Worker. BlobStore, Publisher and Progress are optional.
type Deps struct {
	Queue     cloner.Queue
	Jobs      JobSource
	Runner    Runner
	BlobStore cloner.BlobStore
	Publisher cloner.Publisher
	Progress  progress.Emitter
	Clock     cloner.Clock
	Logger    *zap.Logger
}

// Completion is the payload published when a job reaches a terminal state.
type Completion struct {
	JobID          string           `json:"job_id"`
	URL            string           `json:"url"`
	FullSite       bool             `json:"full_site"`
	Status         cloner.JobStatus `json:"status"`
	Error          string           `json:"error,omitempty"`
	ArtifactURI    string           `json:"artifact_uri,omitempty"`
	ArtifactSHA256 string           `json:"artifact_sha256,omitempty"`
	Pages          int              `json:"pages"`
	Assets         int              `json:"assets"`
	ModelUsed      string           `json:"model_used,omitempty"`
	FinishedAt     time.Time        `json:"finished_at"`
}

// Worker consumes queue items and runs the clone pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config) *Worker {
	if deps.Clock == nil {
		deps.Clock = jobs.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, cloner.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item cloner.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))
	job, err := w.deps.Jobs.Get(item.JobID)
	if err != nil {
		// Deleted while queued.
		logger.Info("skipping queued job", zap.Error(err))
		return
	}
	if job.Status != cloner.JobStatusPending {
		logger.Info("skipping job that already left pending", zap.String("status", string(job.Status)))
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := w.deps.Clock.Now()
	w.emit(progress.Event{
		JobID:    job.ID,
		TS:       start,
		Stage:    progress.StageJobStart,
		URL:      job.Request.URL,
		FullSite: job.Request.FullSite,
	})
	if wait := start.Sub(item.Submitted); !item.Submitted.IsZero() && wait > 0 {
		logger.Debug("job waited in queue", zap.Duration("wait", wait))
	}

	// Jobs are not cancelable once started; shutdown lets them finish.
	runCtx := context.WithoutCancel(ctx)
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, w.cfg.JobTimeout)
		defer cancel()
	}
	runCtx, span := otel.Tracer(tracerName).Start(runCtx, "clone.job")
	defer span.End()
	span.SetAttributes(
		attribute.String("clone.job_id", job.ID),
		attribute.String("clone.url", job.Request.URL),
		attribute.Bool("clone.full_site", job.Request.FullSite),
	)
	runErr := w.deps.Runner.Run(runCtx, job)

	final, err := w.deps.Jobs.Get(job.ID)
	if err != nil {
		logger.Warn("job vanished after run", zap.Error(err))
		final = job
		final.Status = cloner.JobStatusFailed
	}
	elapsed := w.deps.Clock.Now().Sub(start)

	if runErr != nil || final.Status != cloner.JobStatusCompleted {
		msg := final.Error
		if runErr != nil {
			msg = runErr.Error()
		}
		logger.Warn("clone job failed", zap.String("error", msg), zap.Duration("elapsed", elapsed))
		span.SetStatus(codes.Error, msg)
		w.emit(progress.Event{
			JobID: job.ID,
			TS:    w.deps.Clock.Now(),
			Stage: progress.StageJobError,
			URL:   job.Request.URL,
			Dur:   elapsed,
			Note:  msg,
		})
		w.publish(runCtx, logger, completionFor(final, msg, w.deps.Clock.Now()))
		return
	}

	var checksum string
	if uri, sum, err := w.exportArtifact(runCtx, final); err != nil {
		logger.Error("export artifact", zap.Error(err))
	} else if uri != "" {
		final.ArtifactURI = uri
		checksum = sum
	}

	pages, assets := resultCounts(final)
	span.SetAttributes(attribute.Int("clone.pages", pages), attribute.Int("clone.assets", assets))
	logger.Info("clone job completed",
		zap.Int("pages", pages),
		zap.Int("assets", assets),
		zap.Duration("elapsed", elapsed),
	)
	w.emit(progress.Event{
		JobID:  job.ID,
		TS:     w.deps.Clock.Now(),
		Stage:  progress.StageJobDone,
		URL:    job.Request.URL,
		Pages:  pages,
		Assets: assets,
		Dur:    elapsed,
	})
	done := completionFor(final, "", w.deps.Clock.Now())
	done.ArtifactSHA256 = checksum
	w.publish(runCtx, logger, done)
}

// exportArtifact writes the job's artifact to the blob store and returns its
// URI and digest. Both are empty when no store is configured.
func (w *Worker) exportArtifact(ctx context.Context, job cloner.Job) (uri, sum string, err error) {
	if w.deps.BlobStore == nil {
		return "", "", nil
	}
	a, err := artifact.ForJob(job)
	if err != nil {
		return "", "", err
	}
	path := artifact.ObjectPath(w.cfg.ArtifactPrefix, job.ID, a)
	uri, err = w.deps.BlobStore.PutObject(ctx, path, a.ContentType, bytes.NewReader(a.Data))
	if err != nil {
		metrics.ObserveArtifactExport(metrics.ResultError)
		return "", "", fmt.Errorf("put artifact %s: %w", path, err)
	}
	metrics.ObserveArtifactExport(metrics.ResultSuccess)
	if err := w.deps.Jobs.SetArtifactURI(job.ID, uri); err != nil {
		return "", "", fmt.Errorf("record artifact uri: %w", err)
	}
	return uri, a.SHA256, nil
}

func (w *Worker) publish(ctx context.Context, logger *zap.Logger, c Completion) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, c)
	if err != nil {
		logger.Error("publish completion", zap.Error(err))
		return
	}
	logger.Debug("published completion", zap.String("message_id", id))
}

func (w *Worker) emit(evt progress.Event) {
	if w.deps.Progress != nil {
		w.deps.Progress.Emit(evt)
	}
}

func completionFor(job cloner.Job, errText string, now time.Time) Completion {
	pages, assets := resultCounts(job)
	c := Completion{
		JobID:       job.ID,
		URL:         job.Request.URL,
		FullSite:    job.Request.FullSite,
		Status:      job.Status,
		Error:       errText,
		ArtifactURI: job.ArtifactURI,
		Pages:       pages,
		Assets:      assets,
		FinishedAt:  now,
	}
	if job.FinishedAt != nil {
		c.FinishedAt = *job.FinishedAt
	}
	switch {
	case job.FullSiteResult != nil:
		c.ModelUsed = job.FullSiteResult.ModelUsed
	case job.Result != nil:
		c.ModelUsed = job.Result.ModelUsed
	}
	return c
}

func resultCounts(job cloner.Job) (pages, assets int) {
	switch {
	case job.FullSiteResult != nil:
		return job.FullSiteResult.TotalPages, job.FullSiteResult.TotalAssets
	case job.Result != nil:
		return 1, job.Result.Metadata.AssetsCount
	default:
		return 0, 0
	}
}
