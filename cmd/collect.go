package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ortelius/cve-mirror/internal/collector"
	"github.com/spf13/cobra"
)

// NewCollectCmd creates the one-shot full collection command
func NewCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run one full collection of the NVD feed and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, collector.ModeFull)
		},
	}
}

// NewUpdateCmd creates the one-shot incremental update command
func NewUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Run one incremental update since the last sync time and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, collector.ModeIncremental)
		},
	}
}

func runOnce(cmd *cobra.Command, mode string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.sync.Trigger(ctx, mode)
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return fmt.Errorf("%s run %s stopped: %s with %d persist errors", mode, res.RunID, res.StopReason, res.PersistErrors)
	}
	return nil
}
