package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HelloWorldImJoe/v2ex-tx2json/client"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/cache"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/config"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/db"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/metrics"
	natspkg "github.com/HelloWorldImJoe/v2ex-tx2json/service/nats"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/server"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(nil)

	explorerClient := client.NewClient(
		cfg.ExplorerBaseURL,
		cfg.ExplorerCookie,
		&http.Client{Timeout: cfg.HTTPTimeout},
		m,
		logger,
	)
	logger.Info("explorer client configured",
		"explorer", explorerClient.BaseURL(),
		"cookie_set", cfg.ExplorerCookie != "",
		"timeout", cfg.HTTPTimeout.String(),
	)

	recordCache, err := cache.New(cfg.CacheSize, m)
	if err != nil {
		logger.Error("failed to create record cache", "error", err)
		os.Exit(1)
	}

	// Persistence is optional
	var store server.RecordStore
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		dbStore := db.NewStore(dbPool, m)
		if err := dbStore.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		store = dbStore
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, records will not be persisted")
	}

	// Event fan-out is optional
	var publisher natspkg.Publisher
	var stream *server.RecordStream
	if cfg.NATSURL != "" {
		jsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer jsPublisher.Close()
		publisher = jsPublisher

		stream, err = server.NewRecordStream(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE record stream", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("NATS_URL not set, records will not be published")
	}

	httpServer := server.New(cfg.ServerAddr, explorerClient, store, recordCache, publisher, m, logger)
	if stream != nil {
		httpServer.WithStream(stream)
	}

	logger.Info("server initialized, all dependencies ready",
		"persistence", store != nil,
		"publishing", publisher != nil,
		"cache_size", cfg.CacheSize,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
