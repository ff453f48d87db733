package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/output"
)

var targetID int64

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage the host target list",
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return targetListRun(cmd.Context())
	},
}

var targetAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or rename a target and push the list",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return targetAddRun(cmd.Context(), targetID, name)
	},
}

var targetRemoveCmd = &cobra.Command{
	Use:     "remove <key>",
	Aliases: []string{"rm"},
	Short:   "Remove a target by key and push the list",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return targetRemoveRun(cmd.Context(), args[0])
	},
}

func init() {
	targetAddCmd.Flags().Int64Var(&targetID, "id", 0, "numeric subject id")

	targetCmd.AddCommand(targetListCmd)
	targetCmd.AddCommand(targetAddCmd)
	targetCmd.AddCommand(targetRemoveCmd)
	rootCmd.AddCommand(targetCmd)
}

func targetListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	targets, err := s.LoadTargets(ctxOrBackground(ctx))
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		ui.Info("No targets")
		return nil
	}

	keys := make([]string, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := ui.Table([]string{"KEY", "NAME"})
	for _, k := range keys {
		name := targets[k].DisplayName
		if name == "" {
			name = "-"
		}
		table.Append([]string{output.Cyan(k), name})
	}
	table.Render()
	return nil
}

func targetAddRun(ctx context.Context, id int64, name string) error {
	if id <= 0 && name == "" {
		return fmt.Errorf("provide a name or --id")
	}
	key := models.TargetKey(id, name)
	if dryRun {
		ui.DryRunMsg("Would add target %s", key)
		return nil
	}

	ctx = ctxOrBackground(ctx)
	h, _, err := newHost(ctx)
	if err != nil {
		return err
	}
	if err := h.AddTarget(ctx, key, name); err != nil {
		return err
	}
	h.FlushTargets()
	reportPush(h.Status().Online, "Target "+key+" added")
	return nil
}

func targetRemoveRun(ctx context.Context, key string) error {
	if dryRun {
		ui.DryRunMsg("Would remove target %s", key)
		return nil
	}

	ctx = ctxOrBackground(ctx)
	h, _, err := newHost(ctx)
	if err != nil {
		return err
	}
	removed, err := h.RemoveTarget(ctx, key)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("target not found: %s", key)
	}
	h.FlushTargets()
	reportPush(h.Status().Online, "Target "+key+" removed")
	return nil
}

// reportPush tells the user whether a local edit reached the relay.
func reportPush(online bool, msg string) {
	if online {
		ui.Success("%s", msg)
		return
	}
	ui.Warning("%s locally; relay unreachable, run 'scoutsync host run' to retry", msg)
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
