// Package remote renders pages in a hosted browser-farm session attached over CDP.
package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/render"
)

const (
	defaultNavTimeout  = 120 * time.Second
	defaultStopTimeout = 15 * time.Second
)

// Driver renders url through the browser reachable at wsEndpoint.
type Driver func(ctx context.Context, wsEndpoint, url string) (cloner.CapturedPage, error)

// Config controls the remote renderer.
type Config struct {
	NavigationTimeout time.Duration
	StopTimeout       time.Duration
	Capture           render.Options
	Logger            *zap.Logger
}

// Renderer implements cloner.Renderer on top of remote sessions. Every session
// it opens is stopped exactly once, whatever the render outcome.
type Renderer struct {
	sessions SessionClient
	drive    Driver
	cfg      Config
	logger   *zap.Logger
}

// New builds a Renderer. A nil driver attaches chromedp to the session endpoint.
func New(sessions SessionClient, drive Driver, cfg Config) (*Renderer, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session client is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	cfg.Capture = cfg.Capture.WithDefaults()
	if drive == nil {
		drive = ChromedpDriver(cfg.Capture)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{sessions: sessions, drive: drive, cfg: cfg, logger: logger}, nil
}

// Render opens a session, captures url and tears the session down. Any session
// that came back with an id is stopped, even when Create also reported an error.
func (r *Renderer) Render(ctx context.Context, url string) (res cloner.RenderResult) {
	sess, createErr := r.sessions.Create(ctx)
	if createErr != nil && sess.ID == "" {
		return cloner.RenderFailed(fmt.Errorf("remote render %s: %w", url, createErr))
	}
	logger := r.logger.With(zap.String("session_id", sess.ID), zap.String("url", url))

	defer func() {
		if p := recover(); p != nil {
			res = cloner.RenderFailed(fmt.Errorf("remote render %s: panic: %v", url, p))
		}
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StopTimeout)
			defer cancel()
			if err := r.sessions.Stop(stopCtx, sess.ID); err != nil {
				logger.Warn("remote session stop failed", zap.Error(err))
				return
			}
			logger.Debug("remote session stopped")
		})
	}
	defer stop()

	if createErr != nil {
		return cloner.RenderFailed(fmt.Errorf("remote render %s: %w", url, createErr))
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer cancel()
	page, err := r.drive(navCtx, sess.WSEndpoint, url)
	if err != nil {
		return cloner.RenderFailed(fmt.Errorf("remote render %s: %w", url, err))
	}
	page.Renderer = "remote"
	return render.Classify(page, r.cfg.Capture.MinContentLength)
}

// ChromedpDriver attaches chromedp to a remote CDP endpoint and runs the shared capture.
func ChromedpDriver(opts render.Options) Driver {
	return func(ctx context.Context, wsEndpoint, url string) (cloner.CapturedPage, error) {
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, wsEndpoint)
		defer allocCancel()
		taskCtx, taskCancel := chromedp.NewContext(allocCtx)
		defer taskCancel()
		page, err := render.Capture(taskCtx, url, opts)
		if err != nil {
			return cloner.CapturedPage{}, err
		}
		return page, nil
	}
}
