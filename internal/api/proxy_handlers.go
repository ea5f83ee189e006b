package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/Exponenture/SlypStream/internal/ingest"
)

// imageProxy fetches a remote image server-side so browser clients are
// not blocked by the origin's cross-origin policy.
func (s *Server) imageProxy(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required", nil)
		return
	}

	result, err := s.fetcher.Fetch(r.Context(), rawURL)
	if err != nil {
		if aqErr, ok := ingest.AsAcquisition(err); ok {
			if aqErr.Kind == ingest.FailureUpstreamStatus && aqErr.StatusCode > 0 {
				// Pass the origin's own status through so callers can
				// tell a 404 from a proxy failure.
				writeError(w, aqErr.StatusCode, "upstream returned an error", nil)
				return
			}
			writeError(w, http.StatusBadGateway, "could not fetch the remote image",
				[]string{truncate(aqErr.Detail, 300)})
			return
		}
		s.logger.Warn("proxy fetch failed", zap.String("url", truncate(rawURL, 120)), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not fetch the remote image", nil)
		return
	}

	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Body)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Body)
}
