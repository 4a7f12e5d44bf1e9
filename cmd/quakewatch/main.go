package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-watch-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/quake-watch-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-watch-service/internal/adapter/usgs"
	"github.com/couchcryptid/quake-watch-service/internal/analyze"
	"github.com/couchcryptid/quake-watch-service/internal/config"
	"github.com/couchcryptid/quake-watch-service/internal/observability"
	"github.com/couchcryptid/quake-watch-service/internal/orchestrator"
	"github.com/couchcryptid/quake-watch-service/internal/store"
	"github.com/couchcryptid/quake-watch-service/internal/transform"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	metrics := observability.NewMetrics()

	feed := usgs.NewClient(cfg.Feed.URL, cfg.Feed.FetchTimeout, logger)

	transformer, err := transform.NewEngine(transform.Config{
		MagnitudeThresholds: cfg.Magnitude.Thresholds,
		ClusterRadiusKm:     cfg.Cluster.RadiusKm,
		ClusterWindow:       cfg.Cluster.Window,
		RateInterval:        cfg.Feed.PollInterval,
	})
	if err != nil {
		logger.Error("invalid transform config", "error", err)
		os.Exit(1)
	}
	analyzer, err := analyze.New(analyze.Config{
		ClusterMinEvents: cfg.Analysis.ClusterMinEvents,
		RateSpikePerHour: cfg.Analysis.RateSpikePerHour,
	})
	if err != nil {
		logger.Error("invalid analysis config", "error", err)
		os.Exit(1)
	}

	// Recommendation sink is feature-flagged via KAFKA_ENABLED.
	var sink orchestrator.Publisher
	var sinkWriter *kafkaadapter.Writer
	if cfg.Kafka.Enabled {
		sinkWriter = kafkaadapter.NewWriter(cfg, logger)
		sink = sinkWriter
		logger.Info("kafka recommendation sink enabled", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	} else {
		logger.Info("kafka recommendation sink disabled")
	}

	orch := orchestrator.New(
		feed,
		store.New(),
		transformer,
		analyzer,
		sink,
		logger,
		metrics,
		clockwork.NewRealClock(),
		orchestrator.Config{
			PollInterval:    cfg.Feed.PollInterval,
			RetentionWindow: cfg.Window.Retention,
		},
	)

	srv := httpadapter.NewServer(cfg.Server.Addr, orch, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the refresh loop.
	go func() {
		if err := orch.Run(ctx); err != nil {
			logger.Error("orchestrator error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if sinkWriter != nil {
		if err := sinkWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
