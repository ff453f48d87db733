package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/scoutsync/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server exposing the host role",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

The server acts as the host agent: it edits the target list, sends scan and
stop commands and manages the edit lock. Configure it in an MCP client with:

  {
    "mcpServers": {
      "scoutsync": { "command": "scoutsync", "args": ["mcp"] }
    }
  }

Available tools: sync_state, sync_list_targets, sync_add_target,
sync_remove_target, sync_send_scan, sync_send_stop, sync_lock`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(ctxOrBackground(cmd.Context()), shutdownSignals()...)
		defer stop()

		h, c, err := newHost(ctx)
		if err != nil {
			return err
		}
		defer h.Stop()
		return mcp.NewServer(h, c, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
