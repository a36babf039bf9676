package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"safeguard/internal/alerts"
	"safeguard/internal/api"
	"safeguard/internal/breaker"
	"safeguard/internal/config"
	"safeguard/internal/engine"
	"safeguard/internal/geofence"
	"safeguard/internal/ingest"
	"safeguard/internal/metrics"
	"safeguard/internal/model"
	"safeguard/internal/mq"
	"safeguard/internal/registry"
	"safeguard/internal/storage"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion, scoring and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, flags)
		},
	}
}

func serve(ctx context.Context, flags *globalFlags) error {
	mgr, err := flags.manager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := flags.logger(cfg)
	logger.Info("starting safeguard", "version", version, "config", mgr.Path())

	reg := registry.New(logger.With("component", "registry"))
	if err := reg.Load(cfg.Models.AnomalyPath, cfg.Models.RiskPath, cfg.Models.AnomalyConfidenceScale); err != nil {
		logger.Warn("models not loaded, scoring answers 503 until /admin/reload-models succeeds", "error", err)
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	var (
		sink       engine.Sink
		zoneStore  api.ZoneStore
		zoneLoader ingest.ZoneLoader
	)
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		defer store.Close()
		guarded := storage.WithBreaker(store, breaker.New("storage", cfg.Storage.Breaker, logger))
		sink, zoneStore, zoneLoader = guarded, guarded, guarded
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	var publisher engine.Publisher
	if cfg.Output.Kafka.Enabled {
		p := mq.NewPublisher(cfg.Output.Kafka, cfg.Storage.Breaker, logger.With("component", "publisher"))
		defer p.Close()
		publisher = p
		logger.Info("kafka output enabled", "scores_topic", cfg.Output.Kafka.ScoresTopic, "alerts_topic", cfg.Output.Kafka.AlertsTopic)
	}

	zones := geofence.NewEvaluator(logger.With("component", "geofence"))
	refresher := ingest.NewZoneRefresher(mgr, zoneLoader, zones, logger.With("component", "zones"))
	if err := refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("load zones: %w", err)
	}
	go refresher.Run(ctx)
	ingest.StartZoneFeed(ctx, mgr, refresher, logger.With("component", "zone_feed"))

	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	eng := engine.NewEngine(cfg, logger.With("component", "engine"), engine.NewPipeline(reg, zones),
		metricsStore, alertsStore, sink, publisher)

	samples := make(chan model.TelemetrySample, cfg.Ingest.ChannelBuffer)
	done := eng.Start(ctx, samples)

	emit := ingest.NewEmitter(mgr, samples, logger.With("component", "ingest"))
	ingest.StartREST(ctx, mgr, emit, logger)
	ingest.StartKafka(ctx, mgr, emit, logger)
	ingest.StartTCPStream(ctx, mgr, emit, logger)
	ingest.StartFileTail(ctx, mgr, emit, logger)

	api.Start(ctx, api.NewServer(api.Options{
		Config:    mgr,
		Registry:  reg,
		Engine:    eng,
		Zones:     zones,
		ZoneAdmin: refresher,
		Store:     zoneStore,
		Metrics:   metricsStore,
		Alerts:    alertsStore,
		Logger:    logger.With("component", "api"),
		Version:   version,
	}))

	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second, func(next *config.Config) {
			eng.UpdateConfig(next)
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "error", err)
		}, ctx.Done())
	}

	<-ctx.Done()
	logger.Info("shutting down")
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("workers did not drain in time")
	}
	return nil
}
