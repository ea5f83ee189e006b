// Package history records every stored asset and its relay outcome.
package history

import (
	"context"
	"time"

	"github.com/Exponenture/SlypStream/internal/ingest"
)

// Record is one upload audit row.
type Record struct {
	Path         string
	PublicURL    string
	SizeBytes    int64
	ContentType  string
	ContentHash  string
	Mode         ingest.SourceMode
	Branch       string
	Date         string
	SlipID       string
	MetadataID   string
	RelayStatus  string
	RelayAttempt int
	CreatedAt    time.Time
}

// Recorder persists upload audit rows.
type Recorder interface {
	RecordUpload(ctx context.Context, rec Record) error
	Close()
}
