package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/xraylite/xraylite/internal/api"
	"github.com/xraylite/xraylite/internal/config"
	"github.com/xraylite/xraylite/internal/engine"
	"github.com/xraylite/xraylite/internal/server"
	"github.com/xraylite/xraylite/internal/storage"
	"github.com/xraylite/xraylite/internal/storage/memory"
	"github.com/xraylite/xraylite/internal/storage/sqlite"
	"github.com/xraylite/xraylite/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("xray-api", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	coord := engine.NewCoordinator(
		engine.Limits{
			MaxDecisionsPerStep: cfg.Limits.MaxDecisionsPerStep,
			MaxEvidencePerStep:  cfg.Limits.MaxEvidencePerStep,
		},
		engine.Sampler{
			Threshold: cfg.Sampling.Threshold,
			PerReason: cfg.Sampling.PerReason,
		},
	)

	srv := server.New(cfg.Server.Port, logger)
	handler := api.NewHandler(store, coord, logger)
	handler.Routes(srv.Router)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	logger.Info("xray server started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Type),
		slog.Int("sampling_threshold", cfg.Sampling.Threshold),
		slog.Int("per_reason_cap", cfg.Sampling.PerReason))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Server shutdown complete")
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		if dir := filepath.Dir(cfg.Storage.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		return sqlite.New(cfg.Storage.SQLite.Path)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
