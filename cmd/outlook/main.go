package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/spc-outlook-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/spc-outlook-service/internal/adapter/kafka"
	"github.com/couchcryptid/spc-outlook-service/internal/adapter/spc"
	"github.com/couchcryptid/spc-outlook-service/internal/adapter/sqlite"
	"github.com/couchcryptid/spc-outlook-service/internal/config"
	"github.com/couchcryptid/spc-outlook-service/internal/observability"
	"github.com/couchcryptid/spc-outlook-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	client := spc.NewClient(cfg.FetchTimeout, metrics, logger)
	engine := pipeline.NewEngine(cfg.Catalog, cfg.Coordinate, client, logger, metrics)

	var (
		opts  []pipeline.RefresherOption
		sinks int
	)

	var writer *kafkaadapter.SnapshotWriter
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewSnapshotWriter(cfg, logger)
		opts = append(opts, pipeline.WithSink("kafka", writer))
		sinks++
		logger.Info("kafka snapshot sink enabled", "topic", cfg.KafkaSnapshotTopic)
	}

	var store *sqlite.Store
	if cfg.SnapshotDBPath != "" {
		store, err = sqlite.Open(cfg.SnapshotDBPath)
		if err != nil {
			logger.Error("failed to open snapshot store", "path", cfg.SnapshotDBPath, "error", err)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithSink("sqlite", store))
		sinks++
		logger.Info("sqlite snapshot store enabled", "path", cfg.SnapshotDBPath)
	}

	refresher := pipeline.NewRefresher(engine, cfg.RefreshInterval, logger, metrics, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if store != nil {
		snap, err := store.Load(ctx, cfg.Coordinate)
		switch {
		case err == nil:
			refresher.Restore(snap)
		case errors.Is(err, sqlite.ErrNotFound):
			logger.Info("no stored snapshot to restore")
		default:
			logger.Warn("snapshot restore failed", "error", err)
		}
	}

	// A requested refresh waits for the cycle and then each sink in turn.
	refreshWait := refresher.CycleTimeout() + time.Duration(sinks)*pipeline.DefaultSinkTimeout
	srv := httpadapter.NewServer(cfg.HTTPAddr, refresher, logger, httpadapter.WithRefreshTimeout(refreshWait))

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start refresher.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := refresher.Run(ctx); err != nil {
			logger.Error("refresher error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	refresher.Close()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("refresher did not stop before shutdown timeout")
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("snapshot store close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
