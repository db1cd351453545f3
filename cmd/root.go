// Package cmd provides the command line of the CVE mirror.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ortelius/cve-mirror/database"
	"github.com/ortelius/cve-mirror/internal/collector"
	"github.com/ortelius/cve-mirror/internal/config"
	"github.com/ortelius/cve-mirror/internal/lock"
	"github.com/ortelius/cve-mirror/internal/nvd"
	"github.com/ortelius/cve-mirror/internal/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cve-mirror",
		Short: "Mirror the NVD CVE feed into a queryable document store",
		Long: `cve-mirror pages through the NVD CVE API 2.0 and keeps a local copy of every
record in ArangoDB. A full collection loads everything; incremental updates
fetch only records modified since the last successful update.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to a YAML config file; environment variables override it")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCollectCmd())
	cmd.AddCommand(NewUpdateCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime is what every subcommand starts from
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	store   database.Store
	sync    *services.SyncService
	closers []func() error
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("Error during shutdown", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

func bootstrap(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	var path string
	if f := cmd.Flag("config"); f != nil {
		path = f.Value.String()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := database.InitLogger()
	store := openStore(ctx, cfg.Database, logger)
	client := nvd.NewClient(cfg.NVD, logger)
	coll := collector.New(client, store, logger, collector.OptionsFromConfig(cfg))

	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		sync:   services.NewSyncService(coll, logger, cfg.Sync.RunTimeout),
	}

	if cfg.Lock.RedisURL != "" {
		locker, err := lock.NewRedisLocker(ctx, cfg.Lock, logger)
		if err != nil {
			return nil, err
		}
		rt.sync.SetLocker(locker)
		rt.closers = append(rt.closers, locker.Close)
		logger.Info("Using shared run lock", zap.String("key", services.LockKey))
	}
	return rt, nil
}

// openStore never fails: an unreachable ArangoDB degrades to a store that rejects every call
func openStore(ctx context.Context, cfg config.Database, logger *zap.Logger) database.Store {
	if cfg.Backend == "memory" {
		logger.Info("Using in-memory CVE store")
		return database.NewMemoryStore()
	}

	db, err := database.InitializeDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database, continuing without a document store", zap.Error(err))
		return database.NewNoopStore(logger)
	}
	return database.NewArangoStore(db)
}
