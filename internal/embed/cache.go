package embed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Cache holds the assets downloaded for one job. Each URL is fetched at most
// once; concurrent callers for the same URL share the in-flight download and
// failures are remembered as well as successes.
type Cache struct {
	fetcher cloner.AssetFetcher
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string

	attempts atomic.Int64
}

type cacheEntry struct {
	asset cloner.Asset
	err   error
}

// NewCache creates an empty job-local cache backed by fetcher.
func NewCache(fetcher cloner.AssetFetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the asset at rawURL, downloading it on first use.
func (c *Cache) Get(ctx context.Context, rawURL string, kind cloner.AssetKind) (cloner.Asset, error) {
	if e, ok := c.lookup(rawURL); ok {
		return e.asset, e.err
	}
	v, err, _ := c.group.Do(rawURL, func() (any, error) {
		if e, ok := c.lookup(rawURL); ok {
			return e.asset, e.err
		}
		c.attempts.Add(1)
		var entry cacheEntry
		body, contentType, err := c.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			entry.err = fmt.Errorf("fetch asset %s: %w", rawURL, err)
		} else {
			entry.asset = cloner.Asset{
				URL:         rawURL,
				Kind:        kind,
				ContentType: TypeFor(rawURL, contentType),
				Data:        body,
			}
		}
		c.store(rawURL, entry)
		return entry.asset, entry.err
	})
	asset, _ := v.(cloner.Asset)
	return asset, err
}

// Attempts reports how many downloads were started.
func (c *Cache) Attempts() int {
	return int(c.attempts.Load())
}

// Assets returns successfully downloaded assets in first-download order.
func (c *Cache) Assets() []cloner.Asset {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]cloner.Asset, 0, len(c.order))
	for _, u := range c.order {
		if e := c.entries[u]; e.err == nil {
			out = append(out, e.asset)
		}
	}
	return out
}

func (c *Cache) lookup(rawURL string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[rawURL]
	return e, ok
}

func (c *Cache) store(rawURL string, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[rawURL]; !ok {
		c.order = append(c.order, rawURL)
	}
	c.entries[rawURL] = e
}
