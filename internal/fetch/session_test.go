package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Exponenture/SlypStream/internal/ingest"
)

var jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF-payload")

func fastConfig() Config {
	return Config{
		MaxAttempts:       2,
		AttemptTimeout:    5 * time.Second,
		BackoffBase:       time.Millisecond,
		VerificationPause: -1, // disabled for tests
	}
}

func TestFetchDirectImage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegBytes)
	}))
	defer srv.Close()

	f := New(fastConfig(), nil)
	result, err := f.Fetch(context.Background(), srv.URL+"/photo.jpg")
	require.NoError(t, err)
	require.Equal(t, jpegBytes, result.Body)
	require.Equal(t, "image/jpeg", result.ContentType)
	require.Equal(t, 1, result.Attempts)
}

func TestFetchInvalidURL(t *testing.T) {
	t.Parallel()
	f := New(fastConfig(), nil)
	_, err := f.Fetch(context.Background(), "::not-a-url")
	aqErr, ok := ingest.AsAcquisition(err)
	require.True(t, ok)
	require.Equal(t, ingest.FailureNetwork, aqErr.Kind)
}

func TestFetchBotProtectionHTML(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>prove you are human</body></html>"))
	}))
	defer srv.Close()

	f := New(fastConfig(), nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/photo.jpg")
	aqErr, ok := ingest.AsAcquisition(err)
	require.True(t, ok)
	require.Equal(t, ingest.FailureBotProtection, aqErr.Kind)
	require.Equal(t, 2, aqErr.Attempts)
	require.Contains(t, aqErr.Detail, "bot protection")
}

func TestFetchUpstreamStatusPropagates(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	f := New(cfg, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.jpg")
	aqErr, ok := ingest.AsAcquisition(err)
	require.True(t, ok)
	require.Equal(t, ingest.FailureUpstreamStatus, aqErr.Kind)
	require.Equal(t, http.StatusNotFound, aqErr.StatusCode)
}

func TestFetchVerificationRedirectFlow(t *testing.T) {
	t.Parallel()
	var verificationHits atomic.Int32
	var imageHits atomic.Int32
	var finalCookie atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "origin", Value: "seen"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/verify/check", func(w http.ResponseWriter, r *http.Request) {
		verificationHits.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "clearance", Value: "granted"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/photo.jpg", func(w http.ResponseWriter, r *http.Request) {
		if imageHits.Add(1) == 1 {
			// First touch is the probe; bounce it to the challenge.
			w.Header().Set("Location", "/verify/check")
			w.WriteHeader(http.StatusFound)
			return
		}
		finalCookie.Store(r.Header.Get("Cookie"))
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(fastConfig(), nil)
	result, err := f.Fetch(context.Background(), srv.URL+"/photo.jpg")
	require.NoError(t, err)
	require.Equal(t, jpegBytes, result.Body)
	require.Equal(t, int32(1), verificationHits.Load())

	cookie, _ := finalCookie.Load().(string)
	require.Contains(t, cookie, "origin=seen")
	require.Contains(t, cookie, "clearance=granted")
}

func TestFetchIgnoresOrdinaryRedirect(t *testing.T) {
	t.Parallel()
	var verificationAttempted atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/photo.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/cdn/photo.jpg")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/cdn/photo.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG"))
	})
	mux.HandleFunc("/verify/", func(w http.ResponseWriter, r *http.Request) {
		verificationAttempted.Store(true)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// A relocation without verification markers is a plain CDN move; the
	// follow client resolves it during the final fetch.
	f := New(fastConfig(), nil)
	result, err := f.Fetch(context.Background(), srv.URL+"/photo.jpg")
	require.NoError(t, err)
	require.Equal(t, "image/png", result.ContentType)
	require.False(t, verificationAttempted.Load())
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegBytes)
	}))
	defer srv.Close()

	f := New(fastConfig(), nil)
	result, err := f.Fetch(context.Background(), srv.URL+"/photo.jpg")
	require.NoError(t, err)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, jpegBytes, result.Body)
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxBodyBytes = 1024
	f := New(cfg, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/photo.jpg")
	aqErr, ok := ingest.AsAcquisition(err)
	require.True(t, ok)
	require.Equal(t, ingest.FailureSizeExceeded, aqErr.Kind)
	require.Equal(t, 1, aqErr.Attempts)
	// Probe and final fetch of a single attempt; no retry for a body that
	// cannot shrink.
	require.Equal(t, int32(2), hits.Load())
}

func TestFetchNonImageNonHTMLPassesThrough(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		// No declared Content-Type at all.
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("\x89PNG\r\n raw bytes"))
	}))
	defer srv.Close()

	f := New(fastConfig(), nil)
	result, err := f.Fetch(context.Background(), srv.URL+"/blob")
	require.NoError(t, err)
	require.Equal(t, "application/octet-stream", result.ContentType)
}
