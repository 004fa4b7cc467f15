// Package collyfetcher downloads page assets using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-cloner/internal/policy/ratelimit"
)

// DefaultUserAgent mimics a desktop browser so CDNs serve the same bytes the renderer saw.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// DefaultMaxBodyBytes matches colly's own body limit.
const DefaultMaxBodyBytes = 10 * 1024 * 1024

var (
	// ErrEmptyBody is returned when a resource answers 2xx with no content.
	ErrEmptyBody = errors.New("empty response body")
	// ErrBodyTooLarge is returned when a resource exceeds the configured body limit.
	ErrBodyTooLarge = errors.New("response body exceeds limit")
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements cloner.AssetFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       Waiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	body        []byte
	contentType string
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	return &Fetcher{cfg: cfg, limiter: limiter, baseCollector: c}
}

// Fetch executes a single HTTP GET and returns the body with its Content-Type.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return nil, "", err
	}
	var (
		result   fetchResult
		fetchErr error
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return nil, "", err
	}
	if len(result.body) == 0 {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, ErrEmptyBody)
	}
	return result.body, result.contentType, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.UserAgent = f.cfg.UserAgent
	if collector.UserAgent == "" {
		collector.UserAgent = DefaultUserAgent
	}
	// One byte past the limit lets the response hook tell a truncated body from one that fits exactly.
	collector.MaxBodySize = f.maxBody() + 1
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (f *Fetcher) maxBody() int {
	if f.cfg.MaxBodyBytes > 0 {
		return f.cfg.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetchResult, fetchErr *error) {
	limit := f.maxBody()
	hooks.OnResponse(func(r *colly.Response) {
		if len(r.Body) > limit || declaredLength(r) > int64(limit) {
			*fetchErr = fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, limit)
			return
		}
		result.body = append([]byte(nil), r.Body...)
		if r.Headers != nil {
			result.contentType = r.Headers.Get("Content-Type")
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func declaredLength(r *colly.Response) int64 {
	if r.Headers == nil {
		return -1
	}
	n, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
