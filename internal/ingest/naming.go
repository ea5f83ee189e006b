package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	branchSeparators = regexp.MustCompile(`[^a-z0-9]+`)
	datePattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	filenamePattern  = regexp.MustCompile(`(?i)^[A-Za-z0-9_-]+\.(jpg|jpeg|png|gif|webp)$`)
)

// NormalizeBranch lowercases and trims a branch name, collapses runs of
// whitespace and separators to single hyphens, and drops everything outside
// [a-z0-9-]. The result is idempotent under re-normalization.
func NormalizeBranch(branch string) string {
	s := strings.ToLower(strings.TrimSpace(branch))
	s = branchSeparators.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ValidDate reports whether s is a real calendar date in YYYY-MM-DD form.
// The shape check alone would admit impossible dates like 2024-13-40.
func ValidDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// ValidFilename reports whether s is an accepted image filename.
func ValidFilename(s string) bool {
	return filenamePattern.MatchString(s)
}

// FinalFilename coerces name to a .jpg extension with an 8-character random
// suffix inserted before the extension, so concurrent uploads of the same
// name never collide.
func FinalFilename(name string) (string, error) {
	base := name
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	suffix, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s.jpg", base, suffix), nil
}

// ObjectPath derives the storage path for an upload:
// normalize(branch)/date/finalFilename.
func ObjectPath(branch, date, filename string) (string, string, error) {
	final, err := FinalFilename(filename)
	if err != nil {
		return "", "", err
	}
	normalized := NormalizeBranch(branch)
	if normalized == "" {
		normalized = "unsorted"
	}
	return path.Join(normalized, date, final), final, nil
}

func randomSuffix() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
