// Package render holds the chromedp capture routine shared by the local and
// remote renderers.
package render

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Defaults applied by Options.WithDefaults.
const (
	DefaultSettleDelay      = 5 * time.Second
	DefaultViewportWidth    = 1920
	DefaultViewportHeight   = 1080
	DefaultMinContentLength = 200
)

const descriptionScript = `(function(){var m=document.querySelector('meta[name="description"]');return m&&m.content?m.content:"";})()`

// Options controls a single capture.
type Options struct {
	SettleDelay      time.Duration
	ViewportWidth    int
	ViewportHeight   int
	UserAgent        string
	MinContentLength int
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = DefaultViewportWidth
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = DefaultViewportHeight
	}
	if o.MinContentLength <= 0 {
		o.MinContentLength = DefaultMinContentLength
	}
	return o
}

// Capture navigates the browser bound to ctx (a chromedp context) and extracts
// markup, a full-page PNG and metadata. The caller owns the tab lifetime.
func Capture(ctx context.Context, url string, opts Options) (cloner.CapturedPage, error) {
	opts = opts.WithDefaults()

	resources := newResourceLog()
	chromedp.ListenTarget(ctx, resources.captureEvent)

	var (
		html        string
		title       string
		description string
		finalURL    string
		shot        []byte
	)
	start := time.Now()
	actions := []chromedp.Action{
		setupAction(opts),
		chromedp.EmulateViewport(int64(opts.ViewportWidth), int64(opts.ViewportHeight)),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	loaded := len(actions)
	actions = append(actions,
		chromedp.Sleep(opts.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.Evaluate(descriptionScript, &description),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.FullScreenshot(&shot, 100),
	)
	if err := chromedp.Run(ctx, actions[:loaded]...); err != nil {
		return cloner.CapturedPage{}, fmt.Errorf("chromedp navigate: %w", err)
	}
	loadTime := time.Since(start)
	if err := chromedp.Run(ctx, actions[loaded:]...); err != nil {
		return cloner.CapturedPage{}, fmt.Errorf("chromedp capture: %w", err)
	}

	assets := resources.snapshot()
	return cloner.CapturedPage{
		URL:        url,
		HTML:       html,
		Screenshot: shot,
		Metadata: cloner.Metadata{
			Title:          title,
			Description:    description,
			ViewportWidth:  opts.ViewportWidth,
			ViewportHeight: opts.ViewportHeight,
			LoadTime:       loadTime.Seconds(),
			AssetsCount:    len(assets),
		},
		Assets: assets,
	}, nil
}

// Classify turns a completed capture into a typed result, rejecting markup that
// is too short to be a real page.
func Classify(page cloner.CapturedPage, minContentLength int) cloner.RenderResult {
	if minContentLength <= 0 {
		minContentLength = DefaultMinContentLength
	}
	if n := len(strings.TrimSpace(page.HTML)); n < minContentLength {
		return cloner.RenderRejected(fmt.Sprintf("markup too short (%d < %d chars)", n, minContentLength))
	}
	return cloner.RenderOK(page)
}

func setupAction(opts Options) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if opts.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(opts.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// resourceLog records the subresources the page loaded, in first-seen order.
type resourceLog struct {
	mu   sync.Mutex
	seen map[string]struct{}
	urls []string
}

func newResourceLog() *resourceLog {
	return &resourceLog{seen: make(map[string]struct{})}
}

func (r *resourceLog) capture(event *network.EventResponseReceived) {
	if event.Response == nil || !trackedResource(event.Type) {
		return
	}
	url := event.Response.URL
	if url == "" || strings.HasPrefix(url, "data:") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[url]; ok {
		return
	}
	r.seen[url] = struct{}{}
	r.urls = append(r.urls, url)
}

func (r *resourceLog) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		r.capture(resp)
	}
}

func (r *resourceLog) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

func trackedResource(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeStylesheet,
		network.ResourceTypeImage,
		network.ResourceTypeScript,
		network.ResourceTypeFont:
		return true
	default:
		return false
	}
}
