// Package capture renders a page with the primary renderer and falls back to
// the remote renderer when the primary fails or rejects the result.
package capture

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// ErrCaptureFailed is wrapped by every error Capture returns.
var ErrCaptureFailed = errors.New("capture failed")

// Capturer implements cloner.Capturer.
type Capturer struct {
	primary  cloner.Renderer
	fallback cloner.Renderer
	logger   *zap.Logger
}

// New builds a Capturer. fallback is nil when no remote credential is configured.
func New(primary, fallback cloner.Renderer, logger *zap.Logger) (*Capturer, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{primary: primary, fallback: fallback, logger: logger}, nil
}

// HasFallback reports whether a remote renderer is wired.
func (c *Capturer) HasFallback() bool {
	return c.fallback != nil
}

// Capture returns the rendered page or an error wrapping ErrCaptureFailed.
func (c *Capturer) Capture(ctx context.Context, url string, log cloner.ProgressLogger) (cloner.CapturedPage, error) {
	if log == nil {
		log = cloner.NopLogger{}
	}
	primary := c.primary.Render(ctx, url)
	if primary.Outcome == cloner.OutcomeOK {
		return primary.Page, nil
	}
	c.logger.Info("primary render unusable",
		zap.String("url", url),
		zap.Stringer("outcome", primary.Outcome),
		zap.String("reason", primary.Reason),
	)
	cloner.Logf(log, cloner.TagSubItem, "Primary render %s for %s: %s", primary.Outcome, url, primary.Reason)

	if c.fallback == nil {
		return cloner.CapturedPage{}, fmt.Errorf("%w: %s: primary %s: %w; no remote rendering credential configured",
			ErrCaptureFailed, url, primary.Outcome, resultErr(primary))
	}

	cloner.Logf(log, cloner.TagSparkle, "Using remote rendering fallback for %s", url)
	fallback := c.fallback.Render(ctx, url)
	if fallback.Outcome == cloner.OutcomeOK {
		cloner.Logf(log, cloner.TagSubItem, "Remote render successful for %s", url)
		return fallback.Page, nil
	}
	c.logger.Warn("fallback render unusable",
		zap.String("url", url),
		zap.Stringer("outcome", fallback.Outcome),
		zap.String("reason", fallback.Reason),
	)
	cloner.Logf(log, cloner.TagSubItem, "Remote render %s for %s: %s", fallback.Outcome, url, fallback.Reason)
	return cloner.CapturedPage{}, fmt.Errorf("%w: %s: primary %s: %w; fallback %s: %w",
		ErrCaptureFailed, url, primary.Outcome, resultErr(primary), fallback.Outcome, resultErr(fallback))
}

func resultErr(res cloner.RenderResult) error {
	if res.Err != nil {
		return res.Err
	}
	if res.Reason != "" {
		return errors.New(res.Reason)
	}
	return errors.New(res.Outcome.String())
}
