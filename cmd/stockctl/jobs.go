package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/workflow"
	"github.com/spf13/cobra"
)

var dispatchOnce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep:low-stock",
	Short: "Queue CRITICAL_STOCK notifications for products at or below their minimum",
	RunE: func(cmd *cobra.Command, args []string) error {
		connect()
		config.ConnectRedisWithRetry()
		n, err := workflow.SweepLowStock(cmd.Context(), config.GetLogger())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d products flagged\n", n)
		return nil
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "outbox:dispatch",
	Short: "Publish pending notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		connect()
		d := workflow.NewNotificationDispatcher(config.GetDB(), config.GetLogger())
		if dispatchOnce {
			stats, err := d.DispatchOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claimed=%d sent=%d failed=%d dead=%d\n",
				stats.Claimed, stats.Sent, stats.Failed, stats.Dead)
			return nil
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		d.Run(ctx)
		return nil
	},
}

func init() {
	dispatchCmd.Flags().BoolVar(&dispatchOnce, "once", false, "Claim one batch and exit")
	rootCmd.AddCommand(sweepCmd, dispatchCmd)
}
