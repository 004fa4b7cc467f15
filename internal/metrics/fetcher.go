package metrics

import (
	"context"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Asset fetch results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type instrumentedFetcher struct {
	next cloner.AssetFetcher
}

// InstrumentFetcher wraps next so every download is counted per host.
func InstrumentFetcher(next cloner.AssetFetcher) cloner.AssetFetcher {
	return instrumentedFetcher{next: next}
}

func (f instrumentedFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	body, contentType, err := f.next.Fetch(ctx, url)
	if err != nil {
		ObserveAssetFetch(url, ResultError, 0)
		return nil, "", err
	}
	ObserveAssetFetch(url, ResultSuccess, len(body))
	return body, contentType, nil
}
