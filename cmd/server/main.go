// Command server runs the visgate deployment orchestration gateway:
// it accepts deployment requests over HTTP, drives each through the
// Lifecycle Engine in the background, and exposes status, streaming,
// and an inbound readiness callback.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visgate-ai/visgate-deploy-api/internal/engine"
	"github.com/visgate-ai/visgate-deploy-api/internal/hfvalidator"
	"github.com/visgate-ai/visgate-deploy-api/internal/provider"
	"github.com/visgate-ai/visgate-deploy-api/internal/ratelimit"
	"github.com/visgate-ai/visgate-deploy-api/internal/store"
	"github.com/visgate-ai/visgate-deploy-api/internal/streamhub"
	"github.com/visgate-ai/visgate-deploy-api/internal/webhook"
)

func main() {
	cfg := loadConfig()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))
	logger := slog.Default()

	st := openStore(cfg, logger)

	adapter := provider.NewRunpodAdapter(cfg.RunpodBaseURL, cfg.RunpodAPIKey, cfg.RunpodTemplateID)
	validator := hfvalidator.New(cfg.HFAPIBaseURL)
	dispatcher := webhook.New(logger)
	stream := streamhub.New()
	limiter := ratelimit.New(cfg.IngressRateLimitPerMinute)

	eng := engine.New(engine.Config{
		Store:          st,
		Provider:       adapter,
		Validator:      validator,
		Dispatcher:     dispatcher,
		Logger:         logger,
		WorkerDefaults: cfg.WorkerDefaults,
		WebhookBaseURL: cfg.InternalWebhookBaseURL,
		Stream:         stream,
		PhaseBudget:    cfg.PhaseBudget,
		PollConfig:     cfg.PollConfig,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		engine:         eng,
		store:          st,
		stream:         stream,
		limiter:        limiter,
		internalSecret: cfg.InternalWebhookSecret,
		logger:         logger,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, logger)

	logger.Info("visgate-deploy-api starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("visgate-deploy-api stopped")
}

func openStore(cfg config, logger *slog.Logger) store.Store {
	if cfg.UseMemoryRepo || cfg.GCPProjectID == "" {
		logger.Info("using in-memory store")
		return store.NewMemoryStore()
	}
	fs, err := store.OpenFirestore(context.Background(), cfg.GCPProjectID)
	if err != nil {
		logger.Error("firestore open failed, falling back to in-memory store", "error", err)
		return store.NewMemoryStore()
	}
	logger.Info("using firestore store", "project", cfg.GCPProjectID)
	return fs
}

func awaitShutdown(srv *http.Server, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
