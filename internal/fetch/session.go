// Package fetch retrieves remote images from origins that may employ
// elementary bot mitigation, by replaying a plausible browser session:
// origin visit, cookie capture, conditional verification hop, final fetch.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Exponenture/SlypStream/internal/ingest"
	"github.com/Exponenture/SlypStream/internal/metrics"
	"github.com/Exponenture/SlypStream/internal/retry"
)

const fallbackContentType = "application/octet-stream"

// Config controls session fetch behavior.
type Config struct {
	UserAgent         string
	MaxAttempts       int
	AttemptTimeout    time.Duration
	BackoffBase       time.Duration
	MaxBodyBytes      int64
	VerificationPause time.Duration
	PerHostRPS        float64
	PerHostBurst      int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.VerificationPause < 0 {
		c.VerificationPause = 0
	} else if c.VerificationPause == 0 {
		c.VerificationPause = 1500 * time.Millisecond
	}
	return c
}

// SessionFetcher implements ingest.Fetcher. It is stateless across calls;
// the cookie accumulator lives only for the duration of one Fetch.
type SessionFetcher struct {
	cfg        Config
	noRedirect *http.Client
	follow     *http.Client
	hosts      *hostLimiter
	logger     *zap.Logger
}

// New builds a SessionFetcher.
func New(cfg Config, logger *zap.Logger) *SessionFetcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := newTransport()
	return &SessionFetcher{
		cfg: cfg,
		noRedirect: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		follow: &http.Client{Transport: transport},
		hosts:  newHostLimiter(cfg.PerHostRPS, cfg.PerHostBurst),
		logger: logger,
	}
}

// Fetch acquires the image at rawURL, retrying transient failures up to the
// configured attempt ceiling with linear backoff.
func (f *SessionFetcher) Fetch(ctx context.Context, rawURL string) (ingest.FetchResult, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return ingest.FetchResult{}, &ingest.AcquisitionError{
			Kind:   ingest.FailureNetwork,
			Detail: fmt.Sprintf("invalid image URL %q", truncate(rawURL, 120)),
		}
	}
	origin := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/"}
	jar := newCookieJar()

	outcome := retry.Run(ctx, f.cfg.MaxAttempts, classifyFetch, retry.LinearBackoff(f.cfg.BackoffBase),
		func(ctx context.Context) (ingest.FetchResult, error) {
			return f.attempt(ctx, target, origin, jar)
		})

	if outcome.Failed() {
		metrics.ObserveFetch("failure")
		return ingest.FetchResult{}, f.exhaustedError(outcome.Err, outcome.Attempts)
	}
	metrics.ObserveFetch("success")
	result := outcome.Value
	result.Attempts = outcome.Attempts
	f.logger.Debug("remote image acquired",
		zap.String("host", target.Hostname()),
		zap.Int("attempts", outcome.Attempts),
		zap.Int("bytes", len(result.Body)),
		zap.Int("cookies", jar.Len()),
	)
	return result, nil
}

func (f *SessionFetcher) attempt(
	ctx context.Context,
	target *url.URL,
	origin *url.URL,
	jar *cookieJar,
) (ingest.FetchResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()

	if err := f.hosts.Wait(attemptCtx, target.String()); err != nil {
		return ingest.FetchResult{}, err
	}

	f.visitOrigin(attemptCtx, origin, jar)

	redirected, err := f.probe(attemptCtx, target, origin, jar)
	if err != nil {
		return ingest.FetchResult{}, err
	}
	if redirected != nil {
		if err := f.verificationHop(attemptCtx, redirected, jar); err != nil {
			return ingest.FetchResult{}, err
		}
	}

	return f.finalFetch(attemptCtx, target, origin, jar)
}

// visitOrigin performs the navigation-flavored GET of the origin root and
// captures cookies. Failures here are non-fatal.
func (f *SessionFetcher) visitOrigin(ctx context.Context, origin *url.URL, jar *cookieJar) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.String(), nil)
	if err != nil {
		return
	}
	applyHeaders(req, profileNavigation, f.cfg.UserAgent, "", "")
	resp, err := f.follow.Do(req)
	if err != nil {
		f.logger.Debug("origin visit failed", zap.String("host", origin.Hostname()), zap.Error(err))
		return
	}
	jar.Absorb(resp)
	drain(resp.Body)
}

// probe GETs the target without following redirects so challenge redirects
// stay observable. It returns the resolved verification location, if any.
func (f *SessionFetcher) probe(
	ctx context.Context,
	target *url.URL,
	origin *url.URL,
	jar *cookieJar,
) (*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	applyHeaders(req, profileImage, f.cfg.UserAgent, origin.String(), jar.Header())
	resp, err := f.noRedirect.Do(req)
	if err != nil {
		return nil, networkError("probe request", err)
	}
	jar.Absorb(resp)
	drain(resp.Body)

	if resp.StatusCode != http.StatusMovedPermanently && resp.StatusCode != http.StatusFound {
		return nil, nil
	}
	location, err := resp.Location()
	if err != nil || !isVerificationPath(location.Path) {
		return nil, nil
	}
	return location, nil
}

// verificationHop follows an observed challenge redirect with document
// headers, merges new cookies, and pauses briefly to emulate human timing.
func (f *SessionFetcher) verificationHop(ctx context.Context, location *url.URL, jar *cookieJar) error {
	f.logger.Debug("verification hop", zap.String("path", location.Path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location.String(), nil)
	if err != nil {
		return fmt.Errorf("build verification request: %w", err)
	}
	applyHeaders(req, profileDocument, f.cfg.UserAgent, "", jar.Header())
	resp, err := f.noRedirect.Do(req)
	if err != nil {
		return networkError("verification hop", err)
	}
	jar.Absorb(resp)
	drain(resp.Body)

	return pause(ctx, f.cfg.VerificationPause)
}

func (f *SessionFetcher) finalFetch(
	ctx context.Context,
	target *url.URL,
	origin *url.URL,
	jar *cookieJar,
) (ingest.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return ingest.FetchResult{}, fmt.Errorf("build final request: %w", err)
	}
	applyHeaders(req, profileImage, f.cfg.UserAgent, origin.String(), jar.Header())
	resp, err := f.follow.Do(req)
	if err != nil {
		return ingest.FetchResult{}, networkError("final fetch", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ingest.FetchResult{}, &ingest.AcquisitionError{
			Kind:       ingest.FailureUpstreamStatus,
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("origin returned %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return ingest.FetchResult{}, networkError("read body", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return ingest.FetchResult{}, &ingest.AcquisitionError{
			Kind:   ingest.FailureSizeExceeded,
			Detail: fmt.Sprintf("response exceeds the %d byte limit", f.cfg.MaxBodyBytes),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return ingest.FetchResult{Body: body, ContentType: contentType}, nil
	case looksLikeHTML(body):
		return ingest.FetchResult{}, &ingest.AcquisitionError{
			Kind:   ingest.FailureBotProtection,
			Detail: "origin served an HTML document instead of the image",
		}
	default:
		if contentType == "" {
			contentType = fallbackContentType
		}
		return ingest.FetchResult{Body: body, ContentType: contentType}, nil
	}
}

// exhaustedError shapes the terminal failure surfaced to the caller once
// retries are spent.
func (f *SessionFetcher) exhaustedError(err error, attempts int) error {
	if aqErr, ok := ingest.AsAcquisition(err); ok {
		aqErr.Attempts = attempts
		if aqErr.Kind == ingest.FailureBotProtection {
			aqErr.Detail += "; the origin's bot protection could not be satisfied — " +
				"ask the site operator for a direct integration or upload the file directly"
		}
		return aqErr
	}
	return &ingest.AcquisitionError{
		Kind:     ingest.FailureNetwork,
		Detail:   err.Error(),
		Attempts: attempts,
	}
}

// classifyFetch treats acquisition failures as transient: non-2xx
// responses, transport errors, and bot-protection pages are all worth
// another attempt until the ceiling is hit. An oversized body is the one
// terminal case, since the asset will not shrink between attempts. Context
// cancellation is handled by the retry executor itself.
func classifyFetch(err error) retry.Classification {
	if aqErr, ok := ingest.AsAcquisition(err); ok && aqErr.Kind == ingest.FailureSizeExceeded {
		return retry.Terminal
	}
	return retry.Transient
}

func networkError(step string, err error) error {
	return &ingest.AcquisitionError{
		Kind:   ingest.FailureNetwork,
		Detail: fmt.Sprintf("%s: %v", step, err),
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
