package fetch

import (
	"bytes"
	"strings"
)

// Markers that identify an HTML interstitial served in place of the asset.
var htmlMarkers = [][]byte{
	[]byte("<!doctype html"),
	[]byte("<html"),
}

// Redirect-location path fragments that signal a verification hop rather
// than an ordinary relocation.
var verificationMarkers = []string{
	"redirect",
	"verify",
	"verification",
	"challenge",
	"check",
}

// looksLikeHTML reports whether a 2xx non-image body is an HTML document,
// the telltale of a challenge page returned instead of the asset.
func looksLikeHTML(body []byte) bool {
	probe := body
	if len(probe) > 512 {
		probe = probe[:512]
	}
	lower := bytes.ToLower(bytes.TrimSpace(probe))
	for _, marker := range htmlMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isVerificationPath reports whether a redirect target path carries a
// verification marker.
func isVerificationPath(p string) bool {
	lower := strings.ToLower(p)
	for _, marker := range verificationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
