// Package headless renders pages with a locally launched headless Chrome.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/render"
)

const defaultNavTimeout = 60 * time.Second

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	Capture           render.Options
	// ExecPath overrides Chrome discovery.
	ExecPath string
	Logger   *zap.Logger
}

// Renderer implements cloner.Renderer using chromedp and headless Chrome.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a headless renderer. The browser process starts lazily on the first render.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	cfg.Capture = cfg.Capture.WithDefaults()
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.Capture.ViewportWidth, cfg.Capture.ViewportHeight),
	)
	if cfg.Capture.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.Capture.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts down the browser process.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render loads url in a fresh tab and returns the typed capture result.
func (r *Renderer) Render(ctx context.Context, url string) cloner.RenderResult {
	if err := r.acquire(ctx); err != nil {
		return cloner.RenderFailed(err)
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	start := time.Now()
	page, err := render.Capture(taskCtx, url, r.cfg.Capture)
	if err != nil {
		r.logger.Debug("headless render failed", zap.String("url", url), zap.Error(err))
		return cloner.RenderFailed(fmt.Errorf("headless render %s: %w", url, err))
	}
	page.Renderer = "headless"
	r.logger.Debug("headless render complete",
		zap.String("url", url),
		zap.Int("html_bytes", len(page.HTML)),
		zap.Duration("dur", time.Since(start)),
	)
	return render.Classify(page, r.cfg.Capture.MinContentLength)
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}
