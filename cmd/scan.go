package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

var scanContinuous bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Send scan commands to the slaves",
}

var scanStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Scan every coordinate known for the current targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scanStartRun(cmd.Context(), scanContinuous)
	},
}

var scanStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop any running or repeating scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scanStopRun(cmd.Context())
	},
}

func init() {
	scanStartCmd.Flags().BoolVar(&scanContinuous, "continuous", false, "repeat the scan until stopped")

	scanCmd.AddCommand(scanStartCmd)
	scanCmd.AddCommand(scanStopCmd)
	rootCmd.AddCommand(scanCmd)
}

func scanStartRun(ctx context.Context, continuous bool) error {
	ctx = ctxOrBackground(ctx)
	h, _, err := newHost(ctx)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would send a start command (continuous: %v)", continuous)
		return nil
	}
	cmd, err := h.SendScan(ctx, continuous)
	if err != nil {
		return err
	}
	ui.Success("Scan %s sent: %d coordinates", cmd.CommandID, len(cmd.Queue))
	ui.VerboseLog("Queue: %s", strings.Join(cmd.Queue, " "))
	return nil
}

func scanStopRun(ctx context.Context) error {
	ctx = ctxOrBackground(ctx)
	h, _, err := newHost(ctx)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would send a stop command")
		return nil
	}
	cmd, err := h.SendStop(ctx)
	if err != nil {
		return err
	}
	ui.Success("Stop %s sent", cmd.CommandID)
	return nil
}
