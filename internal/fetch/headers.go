package fetch

import "net/http"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// headerProfile is one of the browser-flavored header sets replayed during
// session emulation.
type headerProfile int

const (
	profileNavigation headerProfile = iota
	profileDocument
	profileImage
)

// applyHeaders stamps a realistic browser header set onto req. The referer
// and cookie values are attached when non-empty.
func applyHeaders(req *http.Request, profile headerProfile, userAgent, referer, cookies string) {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	h := req.Header
	h.Set("User-Agent", userAgent)
	// Accept-Encoding is left to the transport so response bodies arrive
	// decompressed.
	h.Set("Accept-Language", "en-US,en;q=0.9")

	switch profile {
	case profileNavigation:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Sec-Fetch-Site", "none")
		h.Set("Sec-Fetch-User", "?1")
		h.Set("Upgrade-Insecure-Requests", "1")
	case profileDocument:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Sec-Fetch-Site", "same-origin")
	case profileImage:
		h.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
		h.Set("Sec-Fetch-Dest", "image")
		h.Set("Sec-Fetch-Mode", "no-cors")
		h.Set("Sec-Fetch-Site", "same-origin")
	}

	if referer != "" {
		h.Set("Referer", referer)
	}
	if cookies != "" {
		h.Set("Cookie", cookies)
	}
}
