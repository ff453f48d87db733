package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/output"
)

var (
	stateShowLog  bool
	stateShowJSON bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect the relay state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stateShowRun(cmd.Context(), false, false)
	},
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show targets, control command, edit lock and activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stateShowRun(cmd.Context(), stateShowLog, stateShowJSON)
	},
}

func init() {
	stateShowCmd.Flags().BoolVar(&stateShowLog, "log", false, "include the per-bucket activity log")
	stateShowCmd.Flags().BoolVar(&stateShowJSON, "json", false, "print the raw snapshot as JSON")

	stateCmd.AddCommand(stateShowCmd)
	rootCmd.AddCommand(stateCmd)
}

func stateShowRun(ctx context.Context, includeLog, asJSON bool) error {
	c, err := newSyncClient()
	if err != nil {
		return err
	}
	snap, err := c.State(ctxOrBackground(ctx), includeLog)
	if err != nil {
		return fmt.Errorf("fetch state from %s: %w", c.Endpoint(), err)
	}

	if asJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out, string(data))
		return nil
	}

	printSnapshot(snap, time.Now())
	return nil
}

func printSnapshot(snap *models.Snapshot, now time.Time) {
	ui.Info("Targets (%d, updated %s)", len(snap.Targets), output.Millis(snap.UpdatedAt))
	if len(snap.Targets) > 0 {
		keys := make([]string, 0, len(snap.Targets))
		for k := range snap.Targets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		table := ui.Table([]string{"KEY", "NAME", "COORDINATES"})
		for _, k := range keys {
			name := snap.Targets[k].DisplayName
			if name == "" {
				name = "-"
			}
			table.Append([]string{output.Cyan(k), name, strings.Join(snap.SharedCoords[k], " ")})
		}
		table.Render()
	}
	fmt.Fprintln(ui.Out)

	if cmd := snap.Control; cmd != nil {
		mode := "single pass"
		if cmd.Continuous {
			mode = "continuous"
		}
		ui.Info("Control: %s %s (%s, %d coordinates, issued %s)",
			cmd.Action, cmd.CommandID, mode, len(cmd.Queue), output.Millis(cmd.IssuedAt))
	} else {
		ui.Info("Control: none")
	}

	if l := snap.Lock; l != nil {
		ui.Info("Edit lock: %s, expires in %s", holderName(l), output.Until(l.ExpiresAt, now))
	} else {
		ui.Info("Edit lock: %s", output.Green("free"))
	}
	fmt.Fprintln(ui.Out)

	sum := snap.ActivitySummary
	ui.Info("Activity: %d buckets, updated %s", sum.BucketCount, output.Millis(sum.UpdatedAt))
	if len(sum.Players) > 0 {
		table := ui.Table([]string{"SUBJECT", "NAME", "LAST SEEN"})
		for _, p := range sum.Players {
			table.Append([]string{p.SubjectKey, p.SubjectName, output.Millis(p.LastSeen)})
		}
		table.Render()
	}

	if snap.ActivityLog != nil && len(snap.ActivityLog.Buckets) > 0 {
		fmt.Fprintln(ui.Out)
		printActivityLog(snap.ActivityLog)
	}
}

func printActivityLog(a *models.Activity) {
	buckets := make([]models.ActivityBucket, 0, len(a.Buckets))
	for _, b := range a.Buckets {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].BucketTimestamp != buckets[j].BucketTimestamp {
			return buckets[i].BucketTimestamp > buckets[j].BucketTimestamp
		}
		return buckets[i].ID < buckets[j].ID
	})

	table := ui.Table([]string{"BUCKET", "SUBJECT", "COORD", "PLANET", "MOON", "DEBRIS", "SEEN"})
	for _, b := range buckets {
		table.Append([]string{
			output.Millis(b.BucketTimestamp),
			b.SubjectName,
			b.Coordinate,
			output.ActivityColor(b.Entry.Planet),
			output.ActivityColor(b.Entry.Moon),
			b.Entry.Debris,
			output.Millis(b.Entry.SeenAt),
		})
	}
	table.Render()
}
