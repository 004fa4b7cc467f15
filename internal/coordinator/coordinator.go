// Package coordinator sequences the phases of a clone job and reports progress.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/discover"
	"github.com/JakeFAU/site-cloner/internal/embed"
	"github.com/JakeFAU/site-cloner/internal/progress"
	"github.com/JakeFAU/site-cloner/internal/rewrite"
)

// ErrNoUsablePages is returned when every page of a job failed to capture.
var ErrNoUsablePages = errors.New("no pages could be captured")

// JobStore is the slice of the job registry the coordinator mutates.
type JobStore interface {
	Transition(id string, status cloner.JobStatus, note string) (cloner.Job, error)
	Fail(id, errText string) (cloner.Job, error)
	CompleteSinglePage(id string, res cloner.SinglePageResult) (cloner.Job, error)
	CompleteFullSite(id string, res cloner.FullSiteResult) (cloner.Job, error)
}

// Events is the per-job narrative log.
type Events interface {
	Append(jobID string, tag cloner.LogTag, text string)
	End(jobID string)
}

// Discoverer finds the pages of a site.
type Discoverer interface {
	Discover(ctx context.Context, root string, maxPages int, log cloner.ProgressLogger) (discover.Result, error)
}

// LinkRewriter rewrites anchors across a captured set.
type LinkRewriter interface {
	Rewrite(pages []cloner.SitePage, log cloner.ProgressLogger) rewrite.Result
}

// Config controls pacing.
type Config struct {
	BatchSize  int
	BatchPause time.Duration
	StepPause  time.Duration
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	}
	if c.StepPause < 0 {
		c.StepPause = 0
	}
	return c
}

// Deps wires the collaborators of a Coordinator.
type Deps struct {
	Jobs        JobStore
	Events      Events
	Capturer    cloner.Capturer
	Discoverer  Discoverer
	Fetcher     cloner.AssetFetcher
	Transformer cloner.Transformer
	Rewriter    LinkRewriter
	// Progress receives phase and page telemetry. Optional.
	Progress progress.Emitter
	Logger   *zap.Logger
}

// Coordinator runs clone jobs end to end.
type Coordinator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and builds a Coordinator.
func New(deps Deps, cfg Config) (*Coordinator, error) {
	switch {
	case deps.Jobs == nil:
		return nil, errors.New("coordinator: job store is required")
	case deps.Events == nil:
		return nil, errors.New("coordinator: event log is required")
	case deps.Capturer == nil:
		return nil, errors.New("coordinator: capturer is required")
	case deps.Transformer == nil:
		return nil, errors.New("coordinator: transformer is required")
	case deps.Fetcher == nil:
		return nil, errors.New("coordinator: asset fetcher is required")
	}
	if deps.Discoverer == nil {
		deps.Discoverer = discover.New(deps.Capturer, deps.Logger)
	}
	if deps.Rewriter == nil {
		deps.Rewriter = rewrite.New(deps.Logger)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{deps: deps, cfg: cfg.WithDefaults(), logger: logger}, nil
}

// Run executes job to a terminal state. The [END] sentinel is always emitted,
// and a panic in any phase fails the job instead of escaping.
func (c *Coordinator) Run(ctx context.Context, job cloner.Job) (err error) {
	log := &jobLogger{events: c.deps.Events, jobID: job.ID}
	logger := c.logger.With(zap.String("job_id", job.ID), zap.String("url", job.Request.URL))

	defer c.deps.Events.End(job.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("clone job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("clone panicked: %v", r)
		}
		if err != nil {
			log.Log(cloner.TagError, "Failed: "+err.Error())
			if _, ferr := c.deps.Jobs.Fail(job.ID, err.Error()); ferr != nil {
				logger.Warn("mark job failed", zap.Error(ferr))
			}
		}
	}()

	if job.Request.FullSite {
		err = c.runFullSite(ctx, job, log, logger)
	} else {
		err = c.runSinglePage(ctx, job, log, logger)
	}
	return err
}

func (c *Coordinator) runSinglePage(ctx context.Context, job cloner.Job, log *jobLogger, logger *zap.Logger) error {
	start := time.Now()
	req := job.Request
	log.Log(cloner.TagHeader, "Initializing single page clone...")

	if err := c.transition(job.ID, cloner.JobStatusCapturing, "Capturing page"); err != nil {
		return err
	}
	page, err := c.deps.Capturer.Capture(ctx, req.URL, log)
	c.emitPage(job.ID, req.URL, page, err)
	if err != nil {
		return fmt.Errorf("capture page: %w", err)
	}
	cloner.Logf(log, cloner.TagSuccess, "Captured %s (%d chars)", page.URL, len(page.HTML))

	if req.IncludeAssets {
		if err := c.transition(job.ID, cloner.JobStatusEmbedding, "Embedding assets"); err != nil {
			return err
		}
		embedder := embed.New(embed.NewCache(c.deps.Fetcher), logger)
		res, err := embedder.Embed(ctx, page.HTML, page.URL, log)
		if err != nil {
			cloner.Logf(log, cloner.TagSubItem, "Asset processing failed for %s: %v", page.URL, err)
		} else {
			page.HTML = res.HTML
			cloner.Logf(log, cloner.TagAsset, "Embedded %d assets", len(res.Assets))
		}
	}

	if err := c.transition(job.ID, cloner.JobStatusTransforming, "Generating clone with "+modelName(req.Model)); err != nil {
		return err
	}
	cloner.Logf(log, cloner.TagAI, "Generating clone with %s", modelName(req.Model))
	res := cloner.SinglePageResult{
		URL:        page.URL,
		HTML:       page.HTML,
		ModelUsed:  modelName(req.Model),
		Screenshot: page.Screenshot,
		Metadata:   page.Metadata,
	}
	out, err := c.deps.Transformer.Transform(ctx, cloner.TransformInput{Page: page, Model: req.Model}, log.chunk)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("transform page: %w", err)
	}
	if err != nil {
		// The captured markup is the result when the model cannot produce one.
		cloner.Logf(log, cloner.TagSubItem, "AI cloning failed for %s: %v", page.URL, err)
		logger.Warn("transform failed, keeping captured page", zap.Error(err))
	} else {
		res.HTML = out.HTML
		res.CSS = out.CSS
		res.Reasoning = out.Reasoning
		res.Transformed = true
		if out.ModelUsed != "" {
			res.ModelUsed = out.ModelUsed
		}
	}
	res.ProcessingTime = time.Since(start).Seconds()
	if _, err := c.deps.Jobs.CompleteSinglePage(job.ID, res); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	log.Log(cloner.TagSuccess, "Clone completed!")
	logger.Info("single page clone completed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Coordinator) runFullSite(ctx context.Context, job cloner.Job, log *jobLogger, logger *zap.Logger) error {
	start := time.Now()
	req := job.Request
	cloner.Logf(log, cloner.TagHeader, "Starting FULL WEBSITE CLONING for %s", req.URL)
	cloner.Logf(log, cloner.TagInfo, "Options: Model=%s, MaxPages=%d, IncludeAssets=%t", modelName(req.Model), req.MaxPages, req.IncludeAssets)

	var failures []cloner.Failure

	// Phase 1
	if err := c.transition(job.ID, cloner.JobStatusDiscovering, "Discovering all pages and routes"); err != nil {
		return err
	}
	log.Log(cloner.TagHeader, "Phase 1: Site Discovery")
	found, err := c.deps.Discoverer.Discover(ctx, req.URL, req.MaxPages, log)
	if err != nil {
		return fmt.Errorf("discover pages: %w", err)
	}
	failures = append(failures, found.Failures...)
	cloner.Logf(log, cloner.TagSuccess, "Site discovery: %d pages found", len(found.URLs))
	for i, u := range found.URLs {
		if i == 5 {
			cloner.Logf(log, cloner.TagSubItem, "... and %d more pages", len(found.URLs)-5)
			break
		}
		log.Log(cloner.TagSubItem, u)
	}
	logger.Info("discovery finished", zap.String("phase", "discover"), zap.Int("pages", len(found.URLs)))

	// Phase 2
	if err := c.transition(job.ID, cloner.JobStatusCapturing, fmt.Sprintf("Capturing %d pages", len(found.URLs))); err != nil {
		return err
	}
	cloner.Logf(log, cloner.TagPage, "Phase 2: Multi-Page Capture (%d pages)", len(found.URLs))
	pages, captureFailures := c.captureAll(ctx, job.ID, found.URLs, log)
	failures = append(failures, captureFailures...)
	cloner.Logf(log, cloner.TagSuccess, "Multi-page capture: %d/%d pages captured successfully", len(pages), len(found.URLs))
	if len(pages) == 0 {
		return ErrNoUsablePages
	}

	// Phase 3
	assetsByPage := make([][]cloner.AssetRef, len(pages))
	if req.IncludeAssets {
		if err := c.transition(job.ID, cloner.JobStatusEmbedding, "Embedding assets"); err != nil {
			return err
		}
		log.Log(cloner.TagAsset, "Phase 3: Asset Processing")
		embedder := embed.New(embed.NewCache(c.deps.Fetcher), logger)
		for i := range pages {
			cloner.Logf(log, cloner.TagAsset, "Processing assets for page %d/%d: %s", i+1, len(pages), pages[i].URL)
			res, err := embedder.Embed(ctx, pages[i].HTML, pages[i].URL, log)
			failures = append(failures, res.Failures...)
			if err != nil {
				cloner.Logf(log, cloner.TagSubItem, "Asset processing failed for %s: %v", pages[i].URL, err)
			} else {
				pages[i].HTML = res.HTML
				assetsByPage[i] = res.Assets
				cloner.Logf(log, cloner.TagSubItem, "Assets processed for %s (%d assets)", pages[i].URL, len(res.Assets))
			}
			if err := c.pause(ctx, c.cfg.StepPause); err != nil {
				return err
			}
		}
		cloner.Logf(log, cloner.TagSuccess, "Asset processing: %d unique assets downloaded", len(embedder.Cache().Assets()))
	} else {
		log.Log(cloner.TagAsset, "Phase 3: Asset Processing (Skipped)")
	}

	// Phase 4
	model := modelName(req.Model)
	if err := c.transition(job.ID, cloner.JobStatusTransforming, "AI cloning with "+model); err != nil {
		return err
	}
	cloner.Logf(log, cloner.TagAI, "Phase 4: AI Cloning with %s", model)
	sitePages := make([]cloner.SitePage, 0, len(pages))
	modelUsed := model
	for i, page := range pages {
		cloner.Logf(log, cloner.TagAI, "AI cloning page %d/%d: %s", i+1, len(pages), page.URL)
		sp := cloner.SitePage{
			URL:        page.URL,
			Path:       rewrite.OutputPath(page.URL),
			HTML:       page.HTML,
			Screenshot: page.Screenshot,
			Assets:     assetsByPage[i],
			Metadata:   page.Metadata,
		}
		out, err := c.deps.Transformer.Transform(ctx, cloner.TransformInput{Page: page, Model: req.Model}, log.chunk)
		if err != nil {
			cloner.Logf(log, cloner.TagSubItem, "AI cloning failed for %s: %v", page.URL, err)
			failures = append(failures, cloner.NewFailure(cloner.StageTransform, page.URL, err))
		} else {
			sp.HTML = out.HTML
			sp.CSS = out.CSS
			sp.Reasoning = out.Reasoning
			sp.Transformed = true
			if out.ModelUsed != "" {
				modelUsed = out.ModelUsed
			}
			cloner.Logf(log, cloner.TagSubItem, "AI clone generated (%d chars)", len(out.HTML))
		}
		sitePages = append(sitePages, sp)
		if err := c.pause(ctx, c.cfg.StepPause); err != nil {
			return err
		}
	}
	cloner.Logf(log, cloner.TagSuccess, "AI cloning: %d pages processed", len(sitePages))

	// Phase 5
	if err := c.transition(job.ID, cloner.JobStatusRewriting, "Rewriting internal links"); err != nil {
		return err
	}
	log.Log(cloner.TagInfo, "Phase 5: Link Processing")
	rewritten := c.deps.Rewriter.Rewrite(sitePages, log)
	failures = append(failures, rewritten.Failures...)
	cloner.Logf(log, cloner.TagSuccess, "Internal links fixed: %d links rewritten", rewritten.Rewritten)

	assets := dedupeAssets(rewritten.Pages)
	res := cloner.FullSiteResult{
		BaseURL:     req.URL,
		Pages:       rewritten.Pages,
		Assets:      assets,
		Sitemap:     found.URLs,
		CloneTime:   time.Since(start).Seconds(),
		TotalPages:  len(rewritten.Pages),
		TotalAssets: len(assets),
		ModelUsed:   modelUsed,
		Failures:    failures,
	}
	if _, err := c.deps.Jobs.CompleteFullSite(job.ID, res); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	log.Log(cloner.TagSuccess, "FULL WEBSITE CLONING COMPLETED!")
	cloner.Logf(log, cloner.TagInfo, "Results: %d pages, %d assets, %.2fs", res.TotalPages, res.TotalAssets, res.CloneTime)
	logger.Info("full site clone completed",
		zap.Int("pages", res.TotalPages),
		zap.Int("assets", res.TotalAssets),
		zap.Int("failures", len(failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// captureAll renders urls in concurrent batches, keeping discovery order.
// Failed captures are dropped.
func (c *Coordinator) captureAll(ctx context.Context, jobID string, urls []string, log *jobLogger) ([]cloner.CapturedPage, []cloner.Failure) {
	size := c.cfg.BatchSize
	batches := (len(urls) + size - 1) / size
	captured := make([]*cloner.CapturedPage, len(urls))
	var (
		mu       sync.Mutex
		failures []cloner.Failure
	)

	for b := 0; b < batches; b++ {
		lo := b * size
		hi := min(lo+size, len(urls))
		cloner.Logf(log, cloner.TagPage, "Capturing batch %d/%d", b+1, batches)

		g, gctx := errgroup.WithContext(ctx)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						c.emitPage(jobID, urls[i], cloner.CapturedPage{}, fmt.Errorf("capture panicked: %v", r))
						mu.Lock()
						failures = append(failures, cloner.NewFailure(cloner.StageCapture, urls[i], fmt.Errorf("capture panicked: %v", r)))
						mu.Unlock()
					}
				}()
				page, err := c.deps.Capturer.Capture(gctx, urls[i], log)
				c.emitPage(jobID, urls[i], page, err)
				if err != nil {
					cloner.Logf(log, cloner.TagSubItem, "FAILED to capture: %s", urls[i])
					mu.Lock()
					failures = append(failures, cloner.NewFailure(cloner.StageCapture, urls[i], err))
					mu.Unlock()
					return nil
				}
				cloner.Logf(log, cloner.TagSubItem, "Captured: %s (%d chars)", urls[i], len(page.HTML))
				captured[i] = &page
				return nil
			})
		}
		_ = g.Wait()

		if b < batches-1 {
			if err := c.pause(ctx, c.cfg.BatchPause); err != nil {
				break
			}
		}
	}

	pages := make([]cloner.CapturedPage, 0, len(urls))
	for _, p := range captured {
		if p != nil {
			pages = append(pages, *p)
		}
	}
	sortFailures(failures, urls)
	return pages, failures
}

func (c *Coordinator) transition(id string, status cloner.JobStatus, note string) error {
	if _, err := c.deps.Jobs.Transition(id, status, note); err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	c.emit(progressEvent(id, progress.StagePhase, func(e *progress.Event) { e.Phase = string(status) }))
	return nil
}

func (c *Coordinator) emitPage(jobID, url string, page cloner.CapturedPage, err error) {
	if err != nil {
		c.emit(progressEvent(jobID, progress.StagePageFailed, func(e *progress.Event) {
			e.URL = url
			e.Note = err.Error()
		}))
		return
	}
	c.emit(progressEvent(jobID, progress.StagePageCaptured, func(e *progress.Event) {
		e.URL = url
		e.Renderer = page.Renderer
		e.Bytes = int64(len(page.HTML))
	}))
}

func (c *Coordinator) emit(evt progress.Event) {
	if c.deps.Progress != nil {
		c.deps.Progress.Emit(evt)
	}
}

func progressEvent(jobID string, stage progress.Stage, fill func(*progress.Event)) progress.Event {
	evt := progress.Event{JobID: jobID, TS: time.Now().UTC(), Stage: stage}
	fill(&evt)
	return evt
}

func (c *Coordinator) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("clone interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

func dedupeAssets(pages []cloner.SitePage) []cloner.AssetRef {
	seen := make(map[string]bool)
	var out []cloner.AssetRef
	for _, p := range pages {
		for _, a := range p.Assets {
			if a.URL == "" || seen[a.URL] {
				continue
			}
			seen[a.URL] = true
			out = append(out, a)
		}
	}
	return out
}

// sortFailures orders capture failures by their position in urls.
func sortFailures(failures []cloner.Failure, urls []string) {
	pos := make(map[string]int, len(urls))
	for i, u := range urls {
		pos[u] = i
	}
	sort.SliceStable(failures, func(i, j int) bool {
		return pos[failures[i].URL] < pos[failures[j].URL]
	})
}

func modelName(m string) string {
	if m == "" {
		return "agentic"
	}
	return m
}

// jobLogger forwards progress lines for one job to the event log.
type jobLogger struct {
	events Events
	jobID  string
}

func (l *jobLogger) Log(tag cloner.LogTag, text string) {
	l.events.Append(l.jobID, tag, text)
}

func (l *jobLogger) chunk(s string) {
	l.events.Append(l.jobID, cloner.TagCode, s)
}
