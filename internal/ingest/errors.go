package ingest

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an acquisition attempt failed.
type FailureKind string

// Acquisition failure kinds.
const (
	FailureBotProtection  FailureKind = "bot_protection_detected"
	FailureNetwork        FailureKind = "network_error"
	FailureUpstreamStatus FailureKind = "upstream_status"
	FailureSizeExceeded   FailureKind = "size_exceeded"
	FailureEmpty          FailureKind = "empty"
)

// AcquisitionError is the typed failure surfaced when the pipeline cannot
// obtain usable image bytes.
type AcquisitionError struct {
	Kind       FailureKind
	StatusCode int
	Detail     string
	Attempts   int
}

func (e *AcquisitionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// AsAcquisition unwraps err into an AcquisitionError if possible.
func AsAcquisition(err error) (*AcquisitionError, bool) {
	var aqErr *AcquisitionError
	if errors.As(err, &aqErr) {
		return aqErr, true
	}
	return nil, false
}

// StoreError wraps an opaque failure from the blob store collaborator.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("blob store: %v", e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
