// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Exponenture/SlypStream/internal/config"
	"github.com/Exponenture/SlypStream/internal/history"
	"github.com/Exponenture/SlypStream/internal/ingest"
	"github.com/Exponenture/SlypStream/internal/metrics"
	"github.com/Exponenture/SlypStream/internal/ratelimit"
	"github.com/Exponenture/SlypStream/internal/relay"
	"github.com/Exponenture/SlypStream/internal/upload"
)

// Server wires HTTP handlers to the pipeline components.
type Server struct {
	router      chi.Router
	coordinator *upload.Coordinator
	fetcher     ingest.Fetcher
	store       ingest.BlobStore
	relay       *relay.Dispatcher
	limiter     *ratelimit.Limiter
	recorder    history.Recorder
	idGen       ingest.IDGenerator
	clock       ingest.Clock
	cfg         config.Config
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	coordinator *upload.Coordinator,
	fetcher ingest.Fetcher,
	store ingest.BlobStore,
	relayDispatcher *relay.Dispatcher,
	limiter *ratelimit.Limiter,
	recorder history.Recorder,
	idGen ingest.IDGenerator,
	clock ingest.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		coordinator: coordinator,
		fetcher:     fetcher,
		store:       store,
		relay:       relayDispatcher,
		limiter:     limiter,
		recorder:    recorder,
		idGen:       idGen,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(idGen))
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(5 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		proxyCORS := cors.New(cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedOrigins: []string{"*"},
			MaxAge:         300,
		})
		r.Use(proxyCORS.Handler)
		r.Get("/image-proxy", s.imageProxy)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)
		r.Post("/", s.handleUpload)
		r.Post("/webhook", s.handleWebhook)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// authMiddleware enforces the shared bearer secret with a constant-time
// comparison. Neither the presented token nor the secret is logged.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Auth.Secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid bearer token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := s.limiter.Check(clientKey(r))
		if !decision.Allowed {
			metrics.ObserveRateLimitDenied()
			seconds := int(decision.RetryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", []string{
				fmt.Sprintf("retry after %d seconds", seconds),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
		// The matched route pattern keeps the metric label set bounded;
		// raw paths would mint a label per requested URL.
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, duration)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error",
					[]string{truncate(fmt.Sprint(rec), 200)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(idGen ingest.IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID, err := idGen.NewID()
			if err == nil {
				ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
				w.Header().Set("X-Request-ID", reqID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

// clientKey derives the rate-limit key for a request: the first value of
// X-Forwarded-For when present, else the remote IP.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string, details []string) {
	body := map[string]any{"error": msg}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

// truncate bounds a diagnostic string so responses and logs never carry
// full URLs or tokens.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
