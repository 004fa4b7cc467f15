// Package discover finds the pages of a site by breadth-first, browser-rendered crawling.
package discover

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Result is the discovery-ordered URL set plus the pages that could not be crawled.
type Result struct {
	URLs     []string
	Failures []cloner.Failure
}

// Discoverer crawls same-origin links starting from a root URL.
type Discoverer struct {
	capture cloner.Capturer
	logger  *zap.Logger
}

// New builds a Discoverer rendering pages through capture.
func New(capture cloner.Capturer, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{capture: capture, logger: logger}
}

// Discover returns at most maxPages same-origin URLs, root first. Pages that
// fail to render are recorded and skipped; the crawl continues.
func (d *Discoverer) Discover(ctx context.Context, root string, maxPages int, log cloner.ProgressLogger) (Result, error) {
	if log == nil {
		log = cloner.NopLogger{}
	}
	rootURL, err := cloner.ParseHTTPURL(root)
	if err != nil {
		return Result{}, fmt.Errorf("discover root: %w", err)
	}
	rootURL = pageURL(rootURL)
	if maxPages < 1 {
		maxPages = 1
	}

	rootKey := rootURL.String()
	known := map[string]struct{}{rootKey: {}}
	processed := make(map[string]struct{})
	result := Result{URLs: []string{rootKey}}
	queue := []*url.URL{rootURL}

	for len(queue) > 0 && len(known) < maxPages {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("discover canceled: %w", err)
		}
		current := queue[0]
		queue = queue[1:]
		key := current.String()
		if _, ok := processed[key]; ok {
			continue
		}
		processed[key] = struct{}{}

		page, err := d.capture.Capture(ctx, key, log)
		if err != nil {
			d.logger.Warn("discovery page failed", zap.String("url", key), zap.Error(err))
			cloner.Logf(log, cloner.TagSubItem, "Could not crawl %s: %v", key, err)
			result.Failures = append(result.Failures, cloner.NewFailure(cloner.StageDiscover, key, err))
			continue
		}

		links, err := Links(page.HTML, current)
		if err != nil {
			result.Failures = append(result.Failures, cloner.NewFailure(cloner.StageDiscover, key, err))
			continue
		}
		added := 0
		for _, link := range links {
			if len(known) >= maxPages {
				break
			}
			if !cloner.SameOrigin(link, rootURL) {
				continue
			}
			s := link.String()
			if _, ok := known[s]; ok {
				continue
			}
			known[s] = struct{}{}
			result.URLs = append(result.URLs, s)
			queue = append(queue, link)
			added++
		}
		d.logger.Debug("discovered links",
			zap.String("url", key),
			zap.Int("links", len(links)),
			zap.Int("added", added),
			zap.Int("known", len(known)),
		)
	}
	return result, nil
}

// Links returns the absolute http(s) targets of every anchor in markup,
// resolved against base with fragments removed, in document order.
func Links(markup string, base *url.URL) ([]*url.URL, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved, err := cloner.Resolve(base, href)
		if err != nil || !cloner.IsHTTP(resolved) {
			return
		}
		links = append(links, pageURL(resolved))
	})
	return links, nil
}

// pageURL drops the fragment and gives an empty path its "/" form so both
// spellings of a site root are one page.
func pageURL(u *url.URL) *url.URL {
	p := cloner.StripFragment(u)
	if p.Path == "" && p.Opaque == "" {
		p.Path = "/"
	}
	return p
}
