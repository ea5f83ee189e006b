package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Exponenture/SlypStream/internal/config"
	historymemory "github.com/Exponenture/SlypStream/internal/history/memory"
	"github.com/Exponenture/SlypStream/internal/id/uuid"
	"github.com/Exponenture/SlypStream/internal/ingest"
	"github.com/Exponenture/SlypStream/internal/ratelimit"
	"github.com/Exponenture/SlypStream/internal/relay"
	"github.com/Exponenture/SlypStream/internal/storage"
	"github.com/Exponenture/SlypStream/internal/storage/memory"
	"github.com/Exponenture/SlypStream/internal/upload"
)

const testSecret = "test-secret"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type stubFetcher struct {
	result ingest.FetchResult
	err    error
}

func (f *stubFetcher) Fetch(context.Context, string) (ingest.FetchResult, error) {
	return f.result, f.err
}

type testEnv struct {
	server   *Server
	store    *memory.BlobStore
	recorder *historymemory.Store
	fetcher  *stubFetcher
	relaySrv *httptest.Server
	payloads *atomic.Value
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	payloads := &atomic.Value{}
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		payloads.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(relaySrv.Close)

	cfg := config.Config{
		Server: config.ServerConfig{Port: 8080},
		Auth:   config.AuthConfig{Secret: testSecret},
		Upload: config.UploadConfig{MaxBytes: 1 << 20},
		RateLimit: config.RateLimitConfig{
			WindowSeconds: 60,
			MaxRequests:   100,
		},
		Relay: config.RelayConfig{
			Endpoint:     relaySrv.URL,
			MaxAttempts:  2,
			InlineBase64: true,
		},
		Storage: storage.Config{Provider: "memory"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	store := memory.NewBlobStore()
	recorder := historymemory.New()
	fetcher := &stubFetcher{}
	coordinator := upload.New(fetcher, store, clock, cfg.Upload.MaxBytes, nil)
	dispatcher := relay.New(relay.Config{
		Endpoint:     cfg.Relay.Endpoint,
		MaxAttempts:  cfg.Relay.MaxAttempts,
		BackoffBase:  time.Millisecond,
		InlineBase64: cfg.Relay.InlineBase64,
	}, clock, nil)
	limiter := ratelimit.New(cfg.RateLimitWindow(), cfg.RateLimit.MaxRequests, clock)

	server := NewServer(coordinator, fetcher, store, dispatcher, limiter, recorder, uuid.New(), clock, cfg, nil)
	return &testEnv{
		server:   server,
		store:    store,
		recorder: recorder,
		fetcher:  fetcher,
		relaySrv: relaySrv,
		payloads: payloads,
	}
}

func authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+testSecret)
}

func multipartUpload(t *testing.T, branch, date, filename string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("branch", branch))
	require.NoError(t, mw.WriteField("date", date))
	require.NoError(t, mw.WriteField("filename", filename))
	if image != nil {
		fw, err := mw.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDirectUploadEndToEnd(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	body, contentType := multipartUpload(t, "Feature/X", "2024-01-15", "photo.png", []byte("image-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	authorize(req)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Regexp(t, `^memory://feature-x/2024-01-15/photo_[0-9a-f]{8}\.jpg$`, resp.URL)
	require.Equal(t, string(ingest.SourceDirect), resp.Metadata.Mode)
	require.Equal(t, "success", resp.Metadata.Relay.Status)
	require.NotEmpty(t, resp.Metadata.SlipID)

	// The downstream sink received the notification with inline bytes.
	payload, _ := env.payloads.Load().(map[string]any)
	require.NotNil(t, payload)
	require.Equal(t, "Feature/X", payload["branch"])
	require.Regexp(t, `^photo_[0-9a-f]{8}\.jpg$`, payload["filename"])
	require.Contains(t, payload, "imageBase64")

	records := env.recorder.Records()
	require.Len(t, records, 1)
	require.Equal(t, "success", records[0].RelayStatus)
}

func TestUploadValidationFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"branch":"main"}`))
	req.Header.Set("Content-Type", "application/json")
	authorize(req)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "validation failed", resp["error"])
	details, ok := resp["details"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, details)
}

func TestURLUploadUsesFetcher(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.fetcher.result = ingest.FetchResult{
		Body:        []byte("remote-bytes"),
		ContentType: "image/jpeg",
		Attempts:    1,
	}

	payload := `{"branch":"main","date":"2024-01-15","filename":"photo.jpg","imageUrl":"https://example.com/a.jpg"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	authorize(req)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(ingest.SourceURL), resp.Metadata.Mode)
	require.Equal(t, "image/jpeg", resp.Metadata.ContentType)
}

func TestURLUploadBotProtectionMapsTo400(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.fetcher.err = &ingest.AcquisitionError{
		Kind:     ingest.FailureBotProtection,
		Detail:   "origin served an HTML document instead of the image",
		Attempts: 3,
	}

	payload := `{"branch":"main","date":"2024-01-15","filename":"photo.jpg","imageUrl":"https://example.com/a.jpg"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	authorize(req)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "protected against automated access")
}

func TestUploadPartialSuccessWhenRelayFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	// Kill the sink so every relay attempt errors out.
	env.relaySrv.Close()

	body, contentType := multipartUpload(t, "main", "2024-01-15", "photo.jpg", []byte("image-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	authorize(req)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "failed", resp.Metadata.Relay.Status)
	require.NotEmpty(t, resp.URL)

	// The asset survived the relay failure.
	require.Equal(t, 1, env.store.Len())
}

func TestRateLimitReturns429WithRetryAfter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RateLimit.MaxRequests = 1
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		authorize(req)
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := send()
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestRateLimitKeysByForwardedFor(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RateLimit.MaxRequests = 1
	})

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", client)
		authorize(req)
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	require.NotEqual(t, http.StatusTooManyRequests, send("198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
	require.NotEqual(t, http.StatusTooManyRequests, send("198.51.100.2"))
}

func TestImageProxy(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.fetcher.result = ingest.FetchResult{
		Body:        []byte("proxied"),
		ContentType: "image/png",
	}

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/image-proxy?url=https://example.com/a.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "proxied", rec.Body.String())
}

func TestImageProxyRequiresURL(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image-proxy", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImageProxyPropagatesUpstreamStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.fetcher.err = &ingest.AcquisitionError{
		Kind:       ingest.FailureUpstreamStatus,
		StatusCode: http.StatusNotFound,
	}

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/image-proxy?url=https://example.com/a.png", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImageProxyCORSHeaders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.fetcher.result = ingest.FetchResult{Body: []byte("x"), ContentType: "image/png"}

	req := httptest.NewRequest(http.MethodGet, "/image-proxy?url=https://example.com/a.png", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.server.Handler().ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/healthz", nil))
	env.server.Handler().ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/no-such-route-xyzzy", nil))

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	routes := map[string]bool{}
	for _, fam := range families {
		if fam.GetName() != "http_request_duration_seconds" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "route" {
					routes[label.GetValue()] = true
				}
			}
		}
	}
	require.True(t, routes["/healthz"], "matched routes label by pattern")
	require.False(t, routes["/no-such-route-xyzzy"], "raw 404 paths must not mint labels")
	require.True(t, routes["unmatched"], "unrouted requests share one bucket")
}

func TestWebhookRelaysStoredObject(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	objectPath := "main/2024-01-15/photo_ab12cd34.jpg"
	publicURL, err := env.store.PutObject(context.Background(), objectPath, "image/jpeg", []byte("stored"))
	require.NoError(t, err)

	payload := fmt.Sprintf(`{
		"public_url": %q,
		"filename": "photo_ab12cd34.jpg",
		"branch": "main",
		"date": "2024-01-15",
		"metadataId": "096aa861-f5ec-415c-ae93-c8f3a7a954a5",
		"slip_id": "slip-9"
	}`, publicURL)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	authorize(req)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sent, _ := env.payloads.Load().(map[string]any)
	require.NotNil(t, sent)
	require.Equal(t, "096aa861-f5ec-415c-ae93-c8f3a7a954a5", sent["metadataId"])
	require.Equal(t, "slip-9", sent["slip_id"])
	require.Contains(t, sent, "imageBase64")
}

func TestWebhookRejectsInvalidMetadataID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	payload := `{
		"public_url": "memory://main/2024-01-15/photo.jpg",
		"filename": "photo.jpg",
		"branch": "main",
		"date": "2024-01-15",
		"metadataId": "not-a-uuid"
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	authorize(req)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "UUID v4")
}

func TestWebhookUnknownObjectIs400(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	payload := `{
		"public_url": "memory://main/2024-01-15/missing.jpg",
		"filename": "missing.jpg",
		"branch": "main",
		"date": "2024-01-15",
		"metadataId": "096aa861-f5ec-415c-ae93-c8f3a7a954a5"
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	authorize(req)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "stored object not found")
}
