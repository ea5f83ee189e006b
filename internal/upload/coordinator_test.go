package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Exponenture/SlypStream/internal/ingest"
	"github.com/Exponenture/SlypStream/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	result ingest.FetchResult
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (ingest.FetchResult, error) {
	f.calls++
	return f.result, f.err
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func (failingStore) GetObject(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk full")
}

var storedPathShape = regexp.MustCompile(`^feature-x/2024-01-15/photo_[0-9a-f]{8}\.jpg$`)

func TestProcessDirectUpload(t *testing.T) {
	t.Parallel()
	store := memory.NewBlobStore()
	clock := &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	c := New(nil, store, clock, 0, nil)

	payload := []byte("jpeg bytes")
	asset, body, err := c.Process(context.Background(), ingest.UploadRequest{
		Branch:      "Feature/X",
		Date:        "2024-01-15",
		Filename:    "photo.png",
		Bytes:       payload,
		ContentType: "image/png",
	})
	require.NoError(t, err)
	require.Regexp(t, storedPathShape, asset.Path)
	require.Equal(t, ingest.SourceDirect, asset.Mode)
	require.Equal(t, int64(len(payload)), asset.SizeBytes)
	require.Equal(t, payload, body)

	sum := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(sum[:]), asset.ContentHash)
	require.Equal(t, clock.now, asset.StoredAt)

	stored, err := store.GetObject(context.Background(), asset.Path)
	require.NoError(t, err)
	require.Equal(t, payload, stored)
}

func TestProcessURLUpload(t *testing.T) {
	t.Parallel()
	store := memory.NewBlobStore()
	fetcher := &fakeFetcher{result: ingest.FetchResult{
		Body:        []byte("remote image"),
		ContentType: "image/jpeg",
	}}
	c := New(fetcher, store, &fakeClock{now: time.Now()}, 0, nil)

	asset, body, err := c.Process(context.Background(), ingest.UploadRequest{
		Branch:   "main",
		Date:     "2024-01-15",
		Filename: "photo.jpg",
		ImageURL: "https://example.com/photo.jpg",
	})
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.calls)
	require.Equal(t, ingest.SourceURL, asset.Mode)
	require.Equal(t, "image/jpeg", asset.ContentType)
	require.Equal(t, []byte("remote image"), body)
}

func TestProcessFetchFailurePropagates(t *testing.T) {
	t.Parallel()
	fetchErr := &ingest.AcquisitionError{Kind: ingest.FailureBotProtection, Detail: "challenge"}
	fetcher := &fakeFetcher{err: fetchErr}
	c := New(fetcher, memory.NewBlobStore(), &fakeClock{now: time.Now()}, 0, nil)

	_, _, err := c.Process(context.Background(), ingest.UploadRequest{
		Branch:   "main",
		Date:     "2024-01-15",
		Filename: "photo.jpg",
		ImageURL: "https://example.com/photo.jpg",
	})
	aqErr, ok := ingest.AsAcquisition(err)
	require.True(t, ok)
	require.Equal(t, ingest.FailureBotProtection, aqErr.Kind)
}

func TestProcessRejectsEmptyBody(t *testing.T) {
	t.Parallel()
	c := New(nil, memory.NewBlobStore(), &fakeClock{now: time.Now()}, 0, nil)

	_, _, err := c.Process(context.Background(), ingest.UploadRequest{
		Branch:   "main",
		Date:     "2024-01-15",
		Filename: "photo.jpg",
		Bytes:    nil,
	})
	aqErr, ok := ingest.AsAcquisition(err)
	require.True(t, ok)
	require.Equal(t, ingest.FailureEmpty, aqErr.Kind)
}

func TestProcessRejectsOversizedBody(t *testing.T) {
	t.Parallel()
	c := New(nil, memory.NewBlobStore(), &fakeClock{now: time.Now()}, 16, nil)

	_, _, err := c.Process(context.Background(), ingest.UploadRequest{
		Branch:   "main",
		Date:     "2024-01-15",
		Filename: "photo.jpg",
		Bytes:    make([]byte, 17),
	})
	aqErr, ok := ingest.AsAcquisition(err)
	require.True(t, ok)
	require.Equal(t, ingest.FailureSizeExceeded, aqErr.Kind)
}

func TestProcessWrapsStoreFailure(t *testing.T) {
	t.Parallel()
	c := New(nil, failingStore{}, &fakeClock{now: time.Now()}, 0, nil)

	_, _, err := c.Process(context.Background(), ingest.UploadRequest{
		Branch:   "main",
		Date:     "2024-01-15",
		Filename: "photo.jpg",
		Bytes:    []byte("data"),
	})
	var stErr *ingest.StoreError
	require.ErrorAs(t, err, &stErr)
}

func TestProcessDefaultsContentType(t *testing.T) {
	t.Parallel()
	store := memory.NewBlobStore()
	c := New(nil, store, &fakeClock{now: time.Now()}, 0, nil)

	asset, _, err := c.Process(context.Background(), ingest.UploadRequest{
		Branch:   "main",
		Date:     "2024-01-15",
		Filename: "photo.jpg",
		Bytes:    []byte("data"),
	})
	require.NoError(t, err)
	require.Equal(t, "application/octet-stream", asset.ContentType)
}
