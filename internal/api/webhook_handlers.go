package api

import (
	"encoding/json"
	"net/http"
	"path"

	"go.uber.org/zap"

	"github.com/Exponenture/SlypStream/internal/history"
	"github.com/Exponenture/SlypStream/internal/ingest"
	"github.com/Exponenture/SlypStream/internal/metrics"
	"github.com/Exponenture/SlypStream/internal/relay"
	"github.com/Exponenture/SlypStream/internal/validate"
)

type webhookRequest struct {
	PublicURL  string `json:"public_url"`
	Filename   string `json:"filename"`
	Branch     string `json:"branch"`
	Date       string `json:"date"`
	MetadataID string `json:"metadataId"`
	SlipID     string `json:"slip_id"`
}

type webhookResponse struct {
	Message string      `json:"message"`
	Relay   relayStatus `json:"relay"`
}

// handleWebhook re-relays an already stored asset. The caller names the
// object; the bytes are read back from the blob store so the downstream
// receives the same inline payload a fresh upload would.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}

	violations := validate.Webhook(validate.WebhookInput{
		PublicURL:  payload.PublicURL,
		Filename:   payload.Filename,
		Branch:     payload.Branch,
		Date:       payload.Date,
		MetadataID: payload.MetadataID,
		SlipID:     payload.SlipID,
	}, s.cfg.Storage.Hint())
	if len(violations) > 0 {
		metrics.ObserveValidationFailure()
		writeError(w, http.StatusBadRequest, "validation failed", violations)
		return
	}

	objectPath := path.Join(ingest.NormalizeBranch(payload.Branch), payload.Date, payload.Filename)
	body, err := s.store.GetObject(r.Context(), objectPath)
	if err != nil {
		s.logger.Warn("webhook object lookup failed",
			zap.String("path", objectPath),
			zap.Error(err),
		)
		writeError(w, http.StatusBadRequest, "stored object not found", []string{objectPath})
		return
	}

	asset := ingest.StoredAsset{
		Path:      objectPath,
		PublicURL: payload.PublicURL,
		SizeBytes: int64(len(body)),
	}
	report, relayErr := s.relay.Dispatch(r.Context(), relay.Notification{
		Asset:      asset,
		Branch:     payload.Branch,
		Date:       payload.Date,
		Filename:   payload.Filename,
		SlipID:     payload.SlipID,
		MetadataID: payload.MetadataID,
		Bytes:      body,
	})

	status := "success"
	message := "relay delivered"
	httpStatus := http.StatusOK
	if relayErr != nil {
		status = "failed"
		message = "downstream relay failed"
		httpStatus = http.StatusBadGateway
	}
	if s.recorder != nil {
		rec := history.Record{
			Path:         objectPath,
			PublicURL:    payload.PublicURL,
			SizeBytes:    int64(len(body)),
			Branch:       payload.Branch,
			Date:         payload.Date,
			SlipID:       payload.SlipID,
			MetadataID:   payload.MetadataID,
			RelayStatus:  status,
			RelayAttempt: report.Attempts,
			CreatedAt:    s.clock.Now(),
		}
		if err := s.recorder.RecordUpload(r.Context(), rec); err != nil {
			s.logger.Warn("history record failed", zap.Error(err))
		}
	}

	writeJSON(w, httpStatus, webhookResponse{
		Message: message,
		Relay: relayStatus{
			Status:     status,
			Attempts:   report.Attempts,
			DurationMs: report.Duration.Milliseconds(),
		},
	})
}
