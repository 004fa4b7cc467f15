package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if httpRequestsTotal == nil || assetFetchesTotal == nil || activeWorkers == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers) - before; got != 1 {
		t.Errorf("expected gauge delta 1, got %f", got)
	}
	DecActiveWorkers()
}

type stubFetcher struct {
	body []byte
	err  error
}

func (s stubFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.body, "image/png", nil
}

func TestInstrumentFetcherCountsResults(t *testing.T) {
	Init()
	ok := InstrumentFetcher(stubFetcher{body: []byte("12345")})
	bad := InstrumentFetcher(stubFetcher{err: errors.New("boom")})

	successes := assetFetchesTotal.WithLabelValues("assets.metrics.test", ResultSuccess)
	failures := assetFetchesTotal.WithLabelValues("assets.metrics.test", ResultError)
	bytesCounter := assetBytesTotal.WithLabelValues("assets.metrics.test")
	beforeOK, beforeBad, beforeBytes := testutil.ToFloat64(successes), testutil.ToFloat64(failures), testutil.ToFloat64(bytesCounter)

	body, contentType, err := ok.Fetch(context.Background(), "https://assets.metrics.test/logo.png")
	if err != nil || string(body) != "12345" || contentType != "image/png" {
		t.Fatalf("unexpected passthrough result %q %q %v", body, contentType, err)
	}
	if _, _, err := bad.Fetch(context.Background(), "https://assets.metrics.test/missing.png"); err == nil {
		t.Fatal("expected error to propagate")
	}

	if got := testutil.ToFloat64(successes) - beforeOK; got != 1 {
		t.Errorf("expected 1 success, got %f", got)
	}
	if got := testutil.ToFloat64(failures) - beforeBad; got != 1 {
		t.Errorf("expected 1 failure, got %f", got)
	}
	if got := testutil.ToFloat64(bytesCounter) - beforeBytes; got != 5 {
		t.Errorf("expected 5 bytes, got %f", got)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("slow.metrics.test", 250*time.Millisecond)
	if got := testutil.CollectAndCount(rateLimitDelaysSeconds); got < 1 {
		t.Errorf("expected at least one histogram series, got %d", got)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeHost(orig)
		if sanitized == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
