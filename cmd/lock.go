package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/scoutsync/internal/agent"
	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/output"
)

var lockForce bool

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage the shared edit lock",
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire the edit lock for this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lockRun(cmd.Context(), models.LockAcquire)
	},
}

var lockHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Renew the edit lock held by this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lockRun(cmd.Context(), models.LockHeartbeat)
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release the edit lock held by this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lockRun(cmd.Context(), models.LockRelease)
	},
}

func init() {
	lockAcquireCmd.Flags().BoolVar(&lockForce, "force", false, "take the lock over from another holder")

	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockHeartbeatCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	rootCmd.AddCommand(lockCmd)
}

func lockRun(ctx context.Context, action models.LockAction) error {
	ctx = ctxOrBackground(ctx)
	h, _, err := newHost(ctx)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would send lock %s", action)
		return nil
	}

	var res models.LockResult
	switch action {
	case models.LockAcquire:
		res, err = h.AcquireLock(ctx, lockForce)
	case models.LockHeartbeat:
		res, err = h.HeartbeatLock(ctx)
	case models.LockRelease:
		res, err = h.ReleaseLock(ctx)
	}
	if errors.Is(err, agent.ErrLockNotHeld) {
		return fmt.Errorf("%w; run 'scoutsync lock acquire' first", err)
	}
	if err != nil {
		return err
	}
	return printLockResult(res)
}

func printLockResult(res models.LockResult) error {
	code := output.LockColor(string(res.Code))
	if res.Displaced != nil {
		ui.Warning("Took over the lock from %s", holderName(res.Displaced))
	}
	if !res.OK {
		if res.Lock != nil {
			return fmt.Errorf("lock %s: held by %s until %s", res.Code, holderName(res.Lock), output.Millis(res.Lock.ExpiresAt))
		}
		return fmt.Errorf("lock %s", res.Code)
	}
	if res.Lock == nil {
		ui.Success("Lock %s", code)
		return nil
	}
	ui.Success("Lock %s, expires in %s", code, output.Until(res.Lock.ExpiresAt, time.Now()))
	return nil
}

func holderName(v *models.LockView) string {
	if v.OwnerLabel != "" && v.OwnerLabel != v.OwnerID {
		return fmt.Sprintf("%s (%s)", v.OwnerLabel, v.OwnerID)
	}
	return v.OwnerID
}
