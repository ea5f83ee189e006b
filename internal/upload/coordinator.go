// Package upload orchestrates the direct-upload and URL-upload branches of
// the ingestion pipeline.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/Exponenture/SlypStream/internal/ingest"
	"github.com/Exponenture/SlypStream/internal/metrics"
)

const defaultMaxBytes = 10 << 20

// Coordinator owns a request's lifecycle from validated input to stored
// asset.
type Coordinator struct {
	fetcher  ingest.Fetcher
	store    ingest.BlobStore
	clock    ingest.Clock
	maxBytes int64
	logger   *zap.Logger
}

// New constructs a Coordinator. maxBytes <= 0 selects the 10 MiB default.
func New(fetcher ingest.Fetcher, store ingest.BlobStore, clock ingest.Clock, maxBytes int64, logger *zap.Logger) *Coordinator {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher:  fetcher,
		store:    store,
		clock:    clock,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Process acquires the image bytes for req, validates their size, derives
// the storage path, and writes the object. The stored bytes are returned
// alongside the asset so callers can relay them inline. Store failures are
// terminal; the store collaborator owns its own retries if it wants any.
func (c *Coordinator) Process(ctx context.Context, req ingest.UploadRequest) (ingest.StoredAsset, []byte, error) {
	mode := req.Mode()

	body := req.Bytes
	contentType := req.ContentType
	if mode == ingest.SourceURL {
		result, err := c.fetcher.Fetch(ctx, req.ImageURL)
		if err != nil {
			metrics.ObserveUpload(string(mode), "fetch_failed", 0)
			return ingest.StoredAsset{}, nil, err
		}
		body = result.Body
		contentType = result.ContentType
	}

	if len(body) == 0 {
		metrics.ObserveUpload(string(mode), "empty", 0)
		return ingest.StoredAsset{}, nil, &ingest.AcquisitionError{
			Kind:   ingest.FailureEmpty,
			Detail: "image content is empty",
		}
	}
	if int64(len(body)) > c.maxBytes {
		metrics.ObserveUpload(string(mode), "size_exceeded", 0)
		return ingest.StoredAsset{}, nil, &ingest.AcquisitionError{
			Kind:   ingest.FailureSizeExceeded,
			Detail: "image exceeds the maximum allowed size",
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectPath, finalName, err := ingest.ObjectPath(req.Branch, req.Date, req.Filename)
	if err != nil {
		return ingest.StoredAsset{}, nil, err
	}

	publicURL, err := c.store.PutObject(ctx, objectPath, contentType, body)
	if err != nil {
		metrics.ObserveUpload(string(mode), "store_failed", 0)
		return ingest.StoredAsset{}, nil, &ingest.StoreError{Err: err}
	}

	sum := sha256.Sum256(body)
	asset := ingest.StoredAsset{
		Path:        objectPath,
		PublicURL:   publicURL,
		SizeBytes:   int64(len(body)),
		ContentType: contentType,
		ContentHash: hex.EncodeToString(sum[:]),
		Mode:        mode,
		StoredAt:    c.clock.Now(),
	}
	metrics.ObserveUpload(string(mode), "stored", len(body))
	c.logger.Info("asset stored",
		zap.String("path", objectPath),
		zap.String("filename", finalName),
		zap.Int64("size_bytes", asset.SizeBytes),
		zap.String("mode", string(mode)),
	)
	return asset, body, nil
}
