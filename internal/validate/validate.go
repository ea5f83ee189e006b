// Package validate checks inbound payloads before any business logic runs.
//
// Every rule is evaluated independently so a caller sees all violations at
// once; the functions never touch the network.
package validate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/Exponenture/SlypStream/internal/ingest"
)

// UploadInput is the untyped upload payload after boundary decoding.
type UploadInput struct {
	Branch   string
	Date     string
	Filename string
	ImageURL string
	HasImage bool
}

// Upload returns the ordered list of violations for an upload payload.
func Upload(in UploadInput) []string {
	var violations []string
	if strings.TrimSpace(in.Branch) == "" {
		violations = append(violations, "branch is required")
	}
	if strings.TrimSpace(in.Date) == "" {
		violations = append(violations, "date is required")
	} else if !ingest.ValidDate(in.Date) {
		violations = append(violations, fmt.Sprintf("date %q must be a valid YYYY-MM-DD date", in.Date))
	}
	if strings.TrimSpace(in.Filename) == "" {
		violations = append(violations, "filename is required")
	} else if !ingest.ValidFilename(in.Filename) {
		violations = append(violations,
			fmt.Sprintf("filename %q must be alphanumeric with a jpg, jpeg, png, gif or webp extension", in.Filename))
	}
	switch {
	case in.HasImage && in.ImageURL != "":
		violations = append(violations, "provide either an image file or imageUrl, not both")
	case !in.HasImage && in.ImageURL == "":
		violations = append(violations, "either an image file or imageUrl is required")
	case in.ImageURL != "":
		if _, err := url.ParseRequestURI(in.ImageURL); err != nil {
			violations = append(violations, "imageUrl is not a valid URL")
		}
	}
	return violations
}

// WebhookInput is the relay-trigger payload after boundary decoding.
type WebhookInput struct {
	PublicURL  string
	Filename   string
	Branch     string
	Date       string
	MetadataID string
	SlipID     string
}

// Webhook returns the ordered list of violations for a relay-trigger
// payload. storageHint, when non-empty, must appear in the public URL so
// the service only relays assets it stored itself.
func Webhook(in WebhookInput, storageHint string) []string {
	var violations []string
	if strings.TrimSpace(in.PublicURL) == "" {
		violations = append(violations, "public_url is required")
	} else {
		if _, err := url.ParseRequestURI(in.PublicURL); err != nil {
			violations = append(violations, "public_url is not a valid URL")
		}
		if storageHint != "" && !strings.Contains(in.PublicURL, storageHint) {
			violations = append(violations, "public_url does not point at this service's storage")
		}
	}
	if strings.TrimSpace(in.Filename) == "" {
		violations = append(violations, "filename is required")
	}
	if strings.TrimSpace(in.Branch) == "" {
		violations = append(violations, "branch is required")
	}
	if strings.TrimSpace(in.Date) == "" {
		violations = append(violations, "date is required")
	} else if !ingest.ValidDate(in.Date) {
		violations = append(violations, fmt.Sprintf("date %q must be a valid YYYY-MM-DD date", in.Date))
	}
	if strings.TrimSpace(in.MetadataID) == "" {
		violations = append(violations, "metadataId is required")
	} else if parsed, err := uuid.Parse(in.MetadataID); err != nil || parsed.Version() != 4 {
		violations = append(violations, "metadataId must be a UUID v4")
	}
	return violations
}
