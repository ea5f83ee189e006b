// Package main wires together the slip ingestion service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Exponenture/SlypStream/internal/api"
	"github.com/Exponenture/SlypStream/internal/clock/system"
	"github.com/Exponenture/SlypStream/internal/config"
	"github.com/Exponenture/SlypStream/internal/fetch"
	"github.com/Exponenture/SlypStream/internal/history"
	historymemory "github.com/Exponenture/SlypStream/internal/history/memory"
	historypg "github.com/Exponenture/SlypStream/internal/history/postgres"
	"github.com/Exponenture/SlypStream/internal/id/uuid"
	"github.com/Exponenture/SlypStream/internal/logging"
	"github.com/Exponenture/SlypStream/internal/ratelimit"
	"github.com/Exponenture/SlypStream/internal/relay"
	"github.com/Exponenture/SlypStream/internal/storage"
	"github.com/Exponenture/SlypStream/internal/upload"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	var recorder history.Recorder
	if cfg.DB.DSN != "" {
		pgStore, err := historypg.New(ctx, historypg.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxOpenConns,
			MinConns: cfg.DB.MinOpenConns,
		})
		if err != nil {
			logger.Fatal("history store init failed", zap.Error(err))
		}
		defer pgStore.Close()
		recorder = pgStore
	} else {
		logger.Warn("no db.dsn configured; upload history kept in memory only")
		recorder = historymemory.New()
	}

	clock := system.New()
	idGen := uuid.New()

	fetcher := fetch.New(fetch.Config{
		UserAgent:         cfg.Fetch.UserAgent,
		MaxAttempts:       cfg.Fetch.MaxAttempts,
		AttemptTimeout:    cfg.FetchAttemptTimeout(),
		BackoffBase:       time.Duration(cfg.Fetch.BackoffBaseMs) * time.Millisecond,
		MaxBodyBytes:      cfg.Upload.MaxBytes,
		VerificationPause: time.Duration(cfg.Fetch.VerificationPauseMs) * time.Millisecond,
		PerHostRPS:        cfg.Fetch.PerHostRPS,
		PerHostBurst:      cfg.Fetch.PerHostBurst,
	}, logger.Named("fetch"))

	coordinator := upload.New(fetcher, store, clock, cfg.Upload.MaxBytes, logger.Named("upload"))

	relayDispatcher := relay.New(relay.Config{
		Endpoint:       cfg.Relay.Endpoint,
		MaxAttempts:    cfg.Relay.MaxAttempts,
		AttemptTimeout: cfg.RelayAttemptTimeout(),
		BackoffBase:    time.Duration(cfg.Relay.BackoffBaseMs) * time.Millisecond,
		InlineBase64:   cfg.Relay.InlineBase64,
	}, clock, logger.Named("relay"))

	limiter := ratelimit.New(cfg.RateLimitWindow(), cfg.RateLimit.MaxRequests, clock)

	apiServer := api.NewServer(
		coordinator,
		fetcher,
		store,
		relayDispatcher,
		limiter,
		recorder,
		idGen,
		clock,
		cfg,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
