package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/scoutsync/internal/clock"
	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/normalize"
)

// Visitor navigates the observed surface to one coordinate. Observations made
// there are reported separately through Slave.RecordObservation.
type Visitor interface {
	Visit(ctx context.Context, coord string) error
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(ctx context.Context, coord string) error

func (f VisitorFunc) Visit(ctx context.Context, coord string) error { return f(ctx, coord) }

// ScanPlan is a resolved start command.
type ScanPlan struct {
	CommandID      string
	Queue          []string
	Delay          time.Duration
	RepeatInterval time.Duration
	Continuous     bool
}

// PlanFromCommand builds a plan from a start command, clamping its timings.
func PlanFromCommand(cmd *models.ControlCommand) ScanPlan {
	return ScanPlan{
		CommandID:      cmd.CommandID,
		Queue:          normalize.Coords(cmd.Queue),
		Delay:          time.Duration(models.ClampScanDelay(cmd.ScanDelayMs)) * time.Millisecond,
		RepeatInterval: time.Duration(models.ClampRepeatInterval(cmd.RepeatIntervalMs)) * time.Millisecond,
		Continuous:     cmd.Continuous,
	}
}

// ScanRunner walks a plan's queue one coordinate at a time, waiting Delay
// between visits. A continuous plan restarts after RepeatInterval. Each step
// is a clock timer so Stop cancels both an in-progress pass and a pending
// repeat.
type ScanRunner struct {
	mu      sync.Mutex
	clock   clock.Clock
	visitor Visitor
	logger  *slog.Logger

	gen    uint64
	plan   *ScanPlan
	next   int
	passes int
	timer  clock.Timer
	cancel context.CancelFunc
}

// NewScanRunner returns an idle runner.
func NewScanRunner(c clock.Clock, v Visitor, logger *slog.Logger) *ScanRunner {
	return &ScanRunner{clock: c, visitor: v, logger: logger}
}

// Start replaces any running plan with p. The first visit is scheduled
// immediately.
func (r *ScanRunner) Start(p ScanPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	if len(p.Queue) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.plan = &p
	r.next = 0
	r.passes = 0
	r.scheduleLocked(ctx, 0)
	r.logger.Info("scan started", "command", p.CommandID, "coords", len(p.Queue), "continuous", p.Continuous)
}

// Stop cancels the current plan, including a pending repeat.
func (r *ScanRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.plan != nil {
		r.logger.Info("scan stopped", "command", r.plan.CommandID)
	}
	r.stopLocked()
}

// Running reports whether a plan is active.
func (r *ScanRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plan != nil
}

// Passes reports how many full passes over the queue the current plan has
// completed.
func (r *ScanRunner) Passes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes
}

func (r *ScanRunner) stopLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.plan = nil
}

func (r *ScanRunner) scheduleLocked(ctx context.Context, d time.Duration) {
	gen := r.gen
	r.timer = r.clock.AfterFunc(d, func() { r.step(ctx, gen) })
}

func (r *ScanRunner) step(ctx context.Context, gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.plan == nil {
		r.mu.Unlock()
		return
	}
	coord := r.plan.Queue[r.next]
	r.mu.Unlock()

	if err := r.visitor.Visit(ctx, coord); err != nil && ctx.Err() == nil {
		r.logger.Warn("scan visit failed", "coord", coord, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.plan == nil {
		return
	}
	r.next++
	if r.next < len(r.plan.Queue) {
		r.scheduleLocked(ctx, r.plan.Delay)
		return
	}
	r.passes++
	if !r.plan.Continuous {
		r.logger.Info("scan finished", "command", r.plan.CommandID)
		r.plan = nil
		r.cancel()
		r.cancel = nil
		return
	}
	r.next = 0
	r.scheduleLocked(ctx, r.plan.RepeatInterval)
}
