package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"gatewaylens/internal/analysis"
	"gatewaylens/internal/anomalies"
	"gatewaylens/internal/api"
	"gatewaylens/internal/config"
	"gatewaylens/internal/ingest"
	"gatewaylens/internal/metrics"
	"gatewaylens/internal/storage"
)

type ServeCmd struct {
	WatchInterval time.Duration `name:"watch-interval" default:"3s" help:"Config file poll interval (0 disables reloads)"`
}

func (c *ServeCmd) Run(g *Globals) error {
	mgr, logger, err := g.Load()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	analyzer, err := analysis.New(cfg, logger)
	if err != nil {
		return err
	}
	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	anomalyStore := anomalies.NewStore(cfg.Anomalies.StoreLimit)
	opts := []ingest.ProcessorOption{ingest.WithMetrics(metricsStore), ingest.WithAnomalies(anomalyStore)}
	if cfg.Export.Enabled {
		exporter, err := storage.NewClickHouse(cfg.Export.DSN, logger)
		if err != nil {
			return err
		}
		defer exporter.Close()
		if err := exporter.Init(ctx); err != nil {
			return fmt.Errorf("clickhouse export: %w", err)
		}
		opts = append(opts, ingest.WithExporter(exporter))
	}
	proc := ingest.NewProcessor(cfg, analyzer, store, logger, opts...)
	defer proc.Wait()

	if cfg.Ingest.Spool.Enabled {
		spool, err := ingest.NewSpool(cfg.Ingest.Spool, proc, logger)
		if err != nil {
			return err
		}
		if err := spool.Start(ctx); err != nil {
			return fmt.Errorf("spool: %w", err)
		}
		defer spool.Wait()
	}
	ingest.StartKafka(ctx, cfg.Ingest.Kafka, proc, logger)

	api.Start(ctx, api.Deps{
		Config:    mgr,
		Store:     store,
		Processor: proc,
		Metrics:   metricsStore,
		Anomalies: anomalyStore,
		Logger:    logger,
		Version:   g.Version,
	})

	if c.WatchInterval > 0 && mgr.Path() != "" {
		go mgr.Watch(c.WatchInterval, func(next *config.Config) {
			if err := config.Validate(next); err != nil {
				logger.Error("config reload rejected", "err", err)
				return
			}
			a, err := analysis.New(next, logger)
			if err != nil {
				logger.Error("config reload rejected", "err", err)
				return
			}
			proc.SetAnalyzer(a)
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config watch error", "err", err)
		}, ctx.Done())
	}

	logger.Info("gatewaylens started", "version", g.Version, "storage", cfg.Storage.Driver)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
