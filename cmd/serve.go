package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/cve-mirror/internal/api"
	"github.com/ortelius/cve-mirror/internal/collector"
	"github.com/ortelius/cve-mirror/internal/kafka"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the long-running server command
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and keep the mirror current",
		Long: `serve starts the HTTP read API, runs an initial full collection when the
mirror has never been updated, then fires an incremental update every
SYNC_INTERVAL_DAYS. Sync requests are also consumed from Kafka when
KAFKA_BROKERS is set.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()
	logger, svc := rt.logger, rt.sync

	producer, err := kafka.NewProducer(rt.cfg.Kafka)
	switch {
	case err == nil:
		svc.SetPublisher(producer)
		rt.closers = append(rt.closers, producer.Close)
	case errors.Is(err, kafka.ErrDisabled):
		logger.Info("Kafka not configured, sync events disabled")
	default:
		return err
	}

	app, err := api.NewFiberApp(ctx, rt.store, svc, rt.cfg.API, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", zap.String("port", rt.cfg.API.Port))
		return app.Listen(":" + rt.cfg.API.Port)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	g.Go(func() error {
		if rt.cfg.Sync.InitialCollect && needsInitialCollect(gctx, rt.store, logger) {
			logger.Info("No previous update recorded, running initial full collection")
			if _, err := svc.Trigger(gctx, collector.ModeFull); err != nil {
				logger.Warn("Initial collection skipped", zap.Error(err))
			}
		}
		return svc.Schedule(gctx, time.Duration(rt.cfg.Sync.IntervalDays)*24*time.Hour)
	})

	g.Go(func() error {
		err := kafka.RunEventProcessor(gctx, rt.cfg.Kafka, svc, logger)
		if err != nil && !errors.Is(err, kafka.ErrDisabled) {
			logger.Error("Kafka event processor stopped", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	svc.Wait()
	return err
}

// needsInitialCollect reports whether the mirror has never been updated.
// An unreadable watermark is not treated as missing.
func needsInitialCollect(ctx context.Context, store collector.MetadataStore, logger *zap.Logger) bool {
	_, ok, err := collector.NewWatermark(store, logger).Get(ctx)
	if err != nil {
		logger.Warn("Skipping initial collection, last sync time unreadable", zap.Error(err))
		return false
	}
	return !ok
}
