package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Exponenture/SlypStream/internal/history"
	"github.com/Exponenture/SlypStream/internal/ingest"
	"github.com/Exponenture/SlypStream/internal/metrics"
	"github.com/Exponenture/SlypStream/internal/relay"
	"github.com/Exponenture/SlypStream/internal/validate"
)

type jsonUploadRequest struct {
	Branch   string `json:"branch"`
	Date     string `json:"date"`
	Filename string `json:"filename"`
	ImageURL string `json:"imageUrl"`
}

type relayStatus struct {
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"duration_ms"`
}

type uploadResponse struct {
	Message  string         `json:"message"`
	URL      string         `json:"url"`
	Metadata uploadMetadata `json:"metadata"`
}

type uploadMetadata struct {
	Path        string      `json:"path"`
	SizeBytes   int64       `json:"size_bytes"`
	ContentType string      `json:"content_type"`
	ContentHash string      `json:"content_hash"`
	Mode        string      `json:"mode"`
	SlipID      string      `json:"slip_id"`
	Relay       relayStatus `json:"relay"`
}

// handleUpload accepts either a multipart form with a binary image or a
// JSON body carrying a remote imageUrl.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	req, violations, ok := s.decodeUpload(w, r)
	if !ok {
		return
	}
	if len(violations) > 0 {
		metrics.ObserveValidationFailure()
		writeError(w, http.StatusBadRequest, "validation failed", violations)
		return
	}

	asset, body, err := s.coordinator.Process(r.Context(), req)
	if err != nil {
		s.writeProcessError(w, err)
		return
	}

	slipID, _ := s.idGen.NewID()
	report, relayErr := s.relay.Dispatch(r.Context(), relay.Notification{
		Asset:    asset,
		Branch:   req.Branch,
		Date:     req.Date,
		Filename: lastPathSegment(asset.Path),
		SlipID:   slipID,
		Bytes:    body,
	})

	status := "success"
	message := "image stored and relayed"
	if relayErr != nil {
		// Partial success is accepted: the asset stays persisted even
		// when the downstream could not be notified.
		status = "failed"
		message = "image stored; downstream relay failed"
	}
	s.recordHistory(r, asset, req, slipID, "", status, report.Attempts)

	writeJSON(w, http.StatusOK, uploadResponse{
		Message: message,
		URL:     asset.PublicURL,
		Metadata: uploadMetadata{
			Path:        asset.Path,
			SizeBytes:   asset.SizeBytes,
			ContentType: asset.ContentType,
			ContentHash: asset.ContentHash,
			Mode:        string(asset.Mode),
			SlipID:      slipID,
			Relay: relayStatus{
				Status:     status,
				Attempts:   report.Attempts,
				DurationMs: report.Duration.Milliseconds(),
			},
		},
	})
}

// decodeUpload parses either body shape into a typed request and runs
// validation. A false third return means a response was already written.
func (s *Server) decodeUpload(w http.ResponseWriter, r *http.Request) (ingest.UploadRequest, []string, bool) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return s.decodeMultipart(w, r)
	}
	return s.decodeJSON(w, r)
}

func (s *Server) decodeMultipart(w http.ResponseWriter, r *http.Request) (ingest.UploadRequest, []string, bool) {
	// Grant some slack over the max image size for the form framing.
	if err := r.ParseMultipartForm(s.cfg.Upload.MaxBytes + (1 << 20)); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body", nil)
		return ingest.UploadRequest{}, nil, false
	}
	in := validate.UploadInput{
		Branch:   r.FormValue("branch"),
		Date:     r.FormValue("date"),
		Filename: r.FormValue("filename"),
	}
	var body []byte
	var declaredType string
	file, header, err := r.FormFile("image")
	if err == nil {
		defer func() { _ = file.Close() }()
		in.HasImage = true
		declaredType = header.Header.Get("Content-Type")
		body, err = io.ReadAll(io.LimitReader(file, s.cfg.Upload.MaxBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read uploaded file", nil)
			return ingest.UploadRequest{}, nil, false
		}
	}
	violations := validate.Upload(in)
	req := ingest.UploadRequest{
		Branch:      in.Branch,
		Date:        in.Date,
		Filename:    in.Filename,
		Bytes:       body,
		ContentType: declaredType,
	}
	return req, violations, true
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request) (ingest.UploadRequest, []string, bool) {
	var payload jsonUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return ingest.UploadRequest{}, nil, false
	}
	in := validate.UploadInput{
		Branch:   payload.Branch,
		Date:     payload.Date,
		Filename: payload.Filename,
		ImageURL: payload.ImageURL,
	}
	violations := validate.Upload(in)
	req := ingest.UploadRequest{
		Branch:   payload.Branch,
		Date:     payload.Date,
		Filename: payload.Filename,
		ImageURL: payload.ImageURL,
	}
	return req, violations, true
}

// writeProcessError maps pipeline failures onto the HTTP error taxonomy.
func (s *Server) writeProcessError(w http.ResponseWriter, err error) {
	if aqErr, ok := ingest.AsAcquisition(err); ok {
		detail := truncate(aqErr.Detail, 300)
		switch aqErr.Kind {
		case ingest.FailureBotProtection:
			writeError(w, http.StatusBadRequest,
				"the image origin is protected against automated access", []string{detail})
		case ingest.FailureEmpty:
			writeError(w, http.StatusBadRequest, "image content is empty", nil)
		case ingest.FailureSizeExceeded:
			writeError(w, http.StatusBadRequest, "image exceeds the maximum allowed size", nil)
		default:
			writeError(w, http.StatusBadRequest, "could not fetch the remote image", []string{detail})
		}
		return
	}
	var stErr *ingest.StoreError
	if errors.As(err, &stErr) {
		s.logger.Error("store write failed", zap.Error(stErr))
		writeError(w, http.StatusInternalServerError, "could not persist the image",
			[]string{truncate(stErr.Err.Error(), 200)})
		return
	}
	s.logger.Error("upload processing failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error",
		[]string{truncate(err.Error(), 200)})
}

func (s *Server) recordHistory(
	r *http.Request,
	asset ingest.StoredAsset,
	req ingest.UploadRequest,
	slipID, metadataID, relayResult string,
	relayAttempts int,
) {
	if s.recorder == nil {
		return
	}
	rec := history.Record{
		Path:         asset.Path,
		PublicURL:    asset.PublicURL,
		SizeBytes:    asset.SizeBytes,
		ContentType:  asset.ContentType,
		ContentHash:  asset.ContentHash,
		Mode:         asset.Mode,
		Branch:       req.Branch,
		Date:         req.Date,
		SlipID:       slipID,
		MetadataID:   metadataID,
		RelayStatus:  relayResult,
		RelayAttempt: relayAttempts,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.recorder.RecordUpload(r.Context(), rec); err != nil {
		s.logger.Warn("history record failed", zap.Error(err))
	}
}

func lastPathSegment(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
