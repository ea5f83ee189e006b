// Package relay formats and sends stored-asset descriptors to the
// downstream consumer.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Exponenture/SlypStream/internal/ingest"
	"github.com/Exponenture/SlypStream/internal/metrics"
	"github.com/Exponenture/SlypStream/internal/retry"
)

// Config controls dispatch behavior.
type Config struct {
	Endpoint       string
	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	InlineBase64   bool
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 120 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	return c
}

// Notification carries everything the downstream payload needs.
type Notification struct {
	Asset      ingest.StoredAsset
	Branch     string
	Date       string
	Filename   string
	SlipID     string
	MetadataID string
	Bytes      []byte
}

// Report describes how a dispatch went, for observability.
type Report struct {
	Attempts int
	Duration time.Duration
}

// Dispatcher POSTs notifications under the retry policy. It is stateless
// and safe for concurrent use.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	clock  ingest.Clock
	logger *zap.Logger
}

// New constructs a Dispatcher.
func New(cfg Config, clock ingest.Clock, logger *zap.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{},
		clock:  clock,
		logger: logger,
	}
}

// statusError makes a non-2xx downstream response classifiable.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("relay endpoint returned %d: %s", e.code, e.body)
}

// Dispatch sends the notification. HTTP 429 and 5xx are retried with linear
// backoff; other 4xx stop immediately. Each attempt runs under its own hard
// timeout. The returned Report is valid even on failure.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (Report, error) {
	if d.cfg.Endpoint == "" {
		return Report{}, nil
	}
	payload, err := json.Marshal(d.buildPayload(n))
	if err != nil {
		return Report{}, fmt.Errorf("marshal relay payload: %w", err)
	}

	start := d.clock.Now()
	outcome := retry.Run(ctx, d.cfg.MaxAttempts, classifyRelay, retry.LinearBackoff(d.cfg.BackoffBase),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, d.post(ctx, payload)
		})
	report := Report{Attempts: outcome.Attempts, Duration: d.clock.Now().Sub(start)}

	if outcome.Failed() {
		metrics.ObserveRelay("failure", report.Duration)
		d.logger.Warn("relay dispatch failed",
			zap.Int("attempts", report.Attempts),
			zap.Duration("duration", report.Duration),
			zap.Error(outcome.Err),
		)
		return report, fmt.Errorf("relay dispatch: %w", outcome.Err)
	}
	metrics.ObserveRelay("success", report.Duration)
	d.logger.Info("relay dispatched",
		zap.Int("attempts", report.Attempts),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (d *Dispatcher) post(ctx context.Context, payload []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &statusError{code: resp.StatusCode, body: string(body)}
}

// buildPayload assembles the fixed downstream shape.
func (d *Dispatcher) buildPayload(n Notification) map[string]any {
	payload := map[string]any{
		"imageUrl": map[string]string{
			"type": "url",
			"file": n.Asset.PublicURL,
		},
		"filename": n.Filename,
		"branch":   n.Branch,
		"date":     n.Date,
		"slip_id":  n.SlipID,
		"metadata": map[string]any{
			"size_bytes":   n.Asset.SizeBytes,
			"content_type": n.Asset.ContentType,
			"content_hash": n.Asset.ContentHash,
			"source_mode":  string(n.Asset.Mode),
			"timestamp":    d.clock.Now().UTC().Format(time.RFC3339),
		},
	}
	if d.cfg.InlineBase64 && len(n.Bytes) > 0 {
		payload["imageBase64"] = map[string]string{
			"type":     "base64",
			"file":     base64.StdEncoding.EncodeToString(n.Bytes),
			"name":     n.Filename,
			"mimeType": n.Asset.ContentType,
		}
	}
	if n.MetadataID != "" {
		payload["metadataId"] = n.MetadataID
	}
	return payload
}

// classifyRelay suppresses retries for client errors: only 429 and server
// errors are worth another attempt. Transport failures stay transient.
func classifyRelay(err error) retry.Classification {
	var stErr *statusError
	if errors.As(err, &stErr) {
		if stErr.code == http.StatusTooManyRequests || stErr.code >= 500 {
			return retry.Transient
		}
		return retry.Terminal
	}
	return retry.Transient
}
