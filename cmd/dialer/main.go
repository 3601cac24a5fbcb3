package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/diligencelabs/dialer/internal/claims"
	"github.com/diligencelabs/dialer/internal/config"
	"github.com/diligencelabs/dialer/internal/events"
	"github.com/diligencelabs/dialer/internal/extractor"
	"github.com/diligencelabs/dialer/internal/llm"
	"github.com/diligencelabs/dialer/internal/pipeline"
	"github.com/diligencelabs/dialer/internal/rag"
	"github.com/diligencelabs/dialer/internal/speech"
	"github.com/diligencelabs/dialer/internal/store"
	"github.com/diligencelabs/dialer/internal/telephony"
	"github.com/diligencelabs/dialer/internal/webhook"
)

func main() {
	// Local development convenience; production carries real env vars.
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("dialer starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Telephony provider
	if cfg.TelephonyAccountSID == "" || cfg.TelephonyAuthToken == "" || cfg.TelephonyFromNumber == "" {
		slog.Error("TELEPHONY_ACCOUNT_SID, TELEPHONY_AUTH_TOKEN and TELEPHONY_FROM_NUMBER are required")
		os.Exit(1)
	}
	dialer := telephony.NewClient(cfg.TelephonyAccountSID, cfg.TelephonyAuthToken, cfg.TelephonyBaseURL)

	// Model clients
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	chat := llm.NewClient(cfg.OpenAIAPIKey, cfg.ExtractionModel, cfg.EmbeddingModel)
	transcriber := speech.NewClient(cfg.OpenAIAPIKey)
	slog.Info("model clients ready", "extraction_model", cfg.ExtractionModel, "embedding_model", cfg.EmbeddingModel)

	// NATS
	bus, err := events.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer bus.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Checklist retrieval
	retriever := rag.NewRetriever(db, chat, slog.Default())
	if err := retriever.SeedDefaults(ctx); err != nil {
		slog.Warn("checklist seeding failed, extraction runs without guidance", "error", err)
	}

	// Pipeline
	failures := claims.NewFailureLog(db, slog.Default())
	analyst := extractor.New(chat, slog.Default())
	pipe := pipeline.New(db, dialer, transcriber, analyst, retriever, bus, failures, pipeline.Options{
		PublicBaseURL:             cfg.PublicBaseURL,
		FromNumber:                cfg.TelephonyFromNumber,
		CallsPerMinutePerCampaign: cfg.CallsPerMinutePerCampaign,
		MaxPlacementAttempts:      cfg.MaxStageAttempts,
	}, slog.Default())

	runner := pipeline.NewRunner(pipe, pipeline.RunnerOptions{
		MaxStageAttempts:         cfg.MaxStageAttempts,
		TranscriptionConcurrency: cfg.TranscriptionConcurrency,
		TriangulationConcurrency: cfg.TriangulationConcurrency,
		TriangulationDebounce:    time.Duration(cfg.TriangulationDebounceSec) * time.Second,
	}, slog.Default())
	if err := runner.Start(ctx, bus); err != nil {
		slog.Error("failed to subscribe pipeline stages", "error", err)
		os.Exit(1)
	}

	// Webhook server
	gate := webhook.NewGate(cfg.TelephonyAuthToken, cfg.PublicBaseURL, db, slog.Default())
	srv := webhook.NewServer(cfg.Port, db, gate, bus, cfg.PublicBaseURL, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("dialer ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	cancel()
	slog.Info("dialer stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
