package ingest

import (
	"context"
	"time"
)

// BlobStore writes and reads raw objects addressed by path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Fetcher retrieves image bytes from a remote URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResult, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces correlation IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
