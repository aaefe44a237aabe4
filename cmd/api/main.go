package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cv-screener/internal/app"
	"cv-screener/internal/config"
	"cv-screener/internal/http"
	"cv-screener/internal/rag"
	"cv-screener/internal/service"
)

//go:generate swagger generate spec -o swagger.json

// General API information
//
// This API answers questions about a corpus of candidate CVs using hybrid
// retrieval and grounded, cited generation.
//
// swagger:meta
//
// ---
// swagger: '2.0'
// info:
//   title: CV Screener API
//   description: |
//     Ask questions about indexed CVs. Answers cite their sources and are
//     checked before they are returned.
//   version: 1.0.0
// schemes:
//   - http
//   - https
// consumes:
//   - application/json
// produces:
//   - application/json

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		fatal("Failed to initialize application", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			slog.Error("Failed to release resources", "error", err)
		}
	}()

	if err := application.Prepare(ctx); err != nil {
		var cfgErr *rag.ConfigurationError
		if errors.As(err, &cfgErr) {
			_ = application.Close(context.Background())
			fatal("Invalid configuration", err)
		}
		// The index may come up later; requests fail with 503 until it does.
		slog.Error("Startup checks failed", "error", err)
	}

	svc := service.NewConversationService(application.Engine, service.Options{
		MaxHistory: cfg.MaxHistory,
		IdleTTL:    cfg.SessionIdleTTL,
	})
	go svc.Run(ctx, time.Minute)

	router := http.NewRouter(&http.Deps{
		Service:        svc,
		VectorStore:    application.Vectors,
		CollectionName: application.Collection,
		Cache:          application.Cache,
		Metrics:        application.Metrics,
	})

	server := &nethttp.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting API server", "addr", server.Addr)
		slog.Debug("LLM configuration", "provider", cfg.LLMProvider, "base_url", cfg.LLMBaseURL, "model", cfg.LLMModelName)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			slog.Error("API server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
