package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run as the host agent",
}

var hostRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Push the target list and optionally hold the edit lock",
	Long: `Push the local target list to the relay and keep running until interrupted.

With --hold-lock (or sync.hold_lock) the host acquires the edit lock, renews
it every third of sync.lock_ttl and releases it on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostRunRun(cmd.Context())
	},
}

func init() {
	hostRunCmd.Flags().Bool("hold-lock", false, "hold the edit lock while running")
	_ = viper.BindPFlag("sync.hold_lock", hostRunCmd.Flags().Lookup("hold-lock"))

	hostCmd.AddCommand(hostRunCmd)
	rootCmd.AddCommand(hostCmd)
}

func hostRunRun(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctxOrBackground(ctx), shutdownSignals()...)
	defer stop()

	h, c, err := newHost(ctx)
	if err != nil {
		return err
	}
	ui.Info("Host agent syncing with %s", c.Endpoint())
	return h.Run(ctx)
}
