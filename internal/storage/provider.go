// Package storage selects and constructs the configured blob store backend.
package storage

import (
	"context"
	"fmt"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/Exponenture/SlypStream/internal/ingest"
	"github.com/Exponenture/SlypStream/internal/storage/gcs"
	"github.com/Exponenture/SlypStream/internal/storage/local"
	"github.com/Exponenture/SlypStream/internal/storage/memory"
	"github.com/Exponenture/SlypStream/internal/storage/s3"
)

// Config selects a provider and carries its backend settings.
type Config struct {
	Provider string       `mapstructure:"provider"`
	S3       s3.Config    `mapstructure:"s3"`
	GCS      gcs.Config   `mapstructure:"gcs"`
	Local    local.Config `mapstructure:"local"`
}

// Hint returns a substring expected in every public URL minted by the
// configured backend. An empty hint disables URL-origin checks.
func (c Config) Hint() string {
	switch c.Provider {
	case "s3":
		if c.S3.PublicBaseURL != "" {
			return c.S3.PublicBaseURL
		}
		return c.S3.Bucket
	case "gcs":
		return c.GCS.Bucket
	case "local":
		return "file://"
	case "memory":
		return "memory://"
	default:
		return ""
	}
}

// Open constructs the blob store named by cfg.Provider.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (ingest.BlobStore, error) {
	switch cfg.Provider {
	case "s3":
		logger.Info("using s3 blob store",
			zap.String("endpoint", cfg.S3.Endpoint),
			zap.String("bucket", cfg.S3.Bucket),
		)
		return s3.New(ctx, cfg.S3)
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		logger.Info("using gcs blob store", zap.String("bucket", cfg.GCS.Bucket))
		return gcs.New(client, cfg.GCS)
	case "local":
		logger.Info("using local blob store", zap.String("base_dir", cfg.Local.BaseDir))
		return local.New(cfg.Local)
	case "memory":
		logger.Warn("using in-memory blob store; stored objects will not survive restarts")
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}
