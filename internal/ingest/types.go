// Package ingest defines core types shared across subsystems.
package ingest

import "time"

// SourceMode identifies how the image bytes entered the pipeline.
type SourceMode string

// Source modes reported in responses and audit records.
const (
	SourceDirect SourceMode = "direct-upload"
	SourceURL    SourceMode = "url-upload"
)

// UploadRequest is a validated inbound upload. Exactly one of Bytes or
// ImageURL is set.
type UploadRequest struct {
	Branch      string
	Date        string
	Filename    string
	Bytes       []byte
	ContentType string
	ImageURL    string
}

// Mode reports which source the request carries.
func (r UploadRequest) Mode() SourceMode {
	if r.ImageURL != "" {
		return SourceURL
	}
	return SourceDirect
}

// StoredAsset describes an object persisted to the blob store.
type StoredAsset struct {
	Path        string     `json:"path"`
	PublicURL   string     `json:"public_url"`
	SizeBytes   int64      `json:"size_bytes"`
	ContentType string     `json:"content_type"`
	ContentHash string     `json:"content_hash"`
	Mode        SourceMode `json:"mode"`
	StoredAt    time.Time  `json:"stored_at"`
}

// FetchResult is a successful remote acquisition.
type FetchResult struct {
	Body        []byte
	ContentType string
	Attempts    int
}
