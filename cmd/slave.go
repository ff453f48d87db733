package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/scoutsync/internal/agent"
	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/normalize"
)

var slaveObservations string

var slaveCmd = &cobra.Command{
	Use:   "slave",
	Short: "Run as a slave agent",
}

var slaveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Mirror targets, run scan commands and report activity",
	Long: `Poll the relay, mirror the host's target list into the local store and run
scan commands as they arrive.

With --observations the slave reads JSON lines from a file (or - for stdin).
Each line is either an activity observation or {"coordsBatch": {...}}
sharing the coordinates a subject was seen at.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return slaveRunRun(cmd.Context(), slaveObservations)
	},
}

func init() {
	slaveRunCmd.Flags().StringVar(&slaveObservations, "observations", "", "JSON lines file of observations, or - for stdin")

	slaveCmd.AddCommand(slaveRunCmd)
	rootCmd.AddCommand(slaveCmd)
}

func slaveRunRun(ctx context.Context, observations string) error {
	ctx, stop := signal.NotifyContext(ctxOrBackground(ctx), shutdownSignals()...)
	defer stop()

	s, err := getStore()
	if err != nil {
		return err
	}
	c, err := newSyncClient()
	if err != nil {
		return err
	}
	cfg, err := agentConfig(ctx, s)
	if err != nil {
		return err
	}

	logger := newLogger()
	sl := agent.NewSlave(cfg, c, s, logVisitor(logger),
		agent.WithSlaveLogger(logger),
		agent.OnTargetsChanged(func(t models.Targets) {
			ui.Info("Target list updated: %d targets", len(t))
		}),
	)

	ui.Info("Slave agent %s syncing with %s", cfg.AgentID, c.Endpoint())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sl.Run(gctx) })
	if observations != "" {
		g.Go(func() error {
			r, closeFn, err := openObservations(observations)
			if err != nil {
				return err
			}
			defer closeFn()
			return feedObservations(gctx, sl, r)
		})
	}
	return g.Wait()
}

// logVisitor is the visitor used by the CLI: there is no surface to navigate,
// so each visit is logged.
func logVisitor(logger *slog.Logger) agent.Visitor {
	return agent.VisitorFunc(func(_ context.Context, coord string) error {
		logger.Info("visit", "coord", coord)
		return nil
	})
}

func openObservations(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open observations: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// observationSink is the part of agent.Slave the feed drives.
type observationSink interface {
	RecordObservation(raw []byte) bool
	ShareCoords(ctx context.Context, coords models.SharedCoords) error
	FlushActivity() bool
}

// feedObservations reads JSON lines from r until EOF or ctx is done. At EOF
// the queued activity is pushed without waiting for the debounce.
func feedObservations(ctx context.Context, sink observationSink, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		if batch := gjson.GetBytes(raw, "coordsBatch"); batch.Exists() {
			coords := normalize.SharedCoords(batch)
			if len(coords) == 0 {
				continue
			}
			if err := sink.ShareCoords(ctx, coords); err != nil {
				ui.Warning("line %d: share coordinates failed: %v", line, err)
			}
			continue
		}
		if !sink.RecordObservation(raw) {
			ui.VerboseLog("line %d: invalid observation dropped", line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read observations: %w", err)
	}
	if sink.FlushActivity() {
		ui.VerboseLog("activity flushed after %d lines", line)
	}
	return nil
}
