package cloner

import (
	"context"
	"errors"
	"io"
	"time"
)

// Renderer loads a URL in a browser engine.
type Renderer interface {
	Render(ctx context.Context, url string) RenderResult
}

// Capturer renders a URL with whatever fallback policy it implements.
type Capturer interface {
	Capture(ctx context.Context, url string, log ProgressLogger) (CapturedPage, error)
}

// AssetFetcher downloads a single asset.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// Transformer is the external generative capability. onChunk receives incremental
// output when the implementation streams; it may be nil.
type Transformer interface {
	Transform(ctx context.Context, in TransformInput, onChunk func(string)) (TransformOutput, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for clone jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// ErrQueueClosed is returned by Queue implementations once no more items will arrive.
var ErrQueueClosed = errors.New("queue closed")
