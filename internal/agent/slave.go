package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"github.com/joescharf/scoutsync/internal/clock"
	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/normalize"
)

// Slave mirrors the relay's target list, executes control commands and
// reports activity.
type Slave struct {
	cfg     Config
	client  SyncClient
	store   LocalStore
	clock   clock.Clock
	logger  *slog.Logger
	status  *Status
	scanner *ScanRunner
	queue   *ActivityQueue
	flush   *Debouncer

	pulling atomic.Bool

	mu               sync.Mutex
	pullTimer        clock.Timer
	running          bool
	runGen           uint64
	lastRemoteAt     int64
	lastFingerprint  string
	lastCommandID    string
	lastCommandReady bool
	onTargets        func(models.Targets)
}

// SlaveOption configures a Slave.
type SlaveOption func(*Slave)

// WithSlaveClock overrides the clock.
func WithSlaveClock(c clock.Clock) SlaveOption {
	return func(s *Slave) { s.clock = c }
}

// WithSlaveLogger sets the logger.
func WithSlaveLogger(l *slog.Logger) SlaveOption {
	return func(s *Slave) { s.logger = l }
}

// OnTargetsChanged registers a callback invoked after the local target list
// was overwritten from the relay.
func OnTargetsChanged(fn func(models.Targets)) SlaveOption {
	return func(s *Slave) { s.onTargets = fn }
}

// NewSlave creates a slave agent that drives v when a start command arrives.
func NewSlave(cfg Config, c SyncClient, st LocalStore, v Visitor, opts ...SlaveOption) *Slave {
	s := &Slave{
		cfg:    cfg.withDefaults(),
		client: c,
		store:  st,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status = newStatus(s.logger)
	s.scanner = NewScanRunner(s.clock, v, s.logger)
	s.queue = NewActivityQueue(s.cfg.ActivityMaxQueue)
	s.flush = NewDebouncer(s.clock, s.cfg.ActivityDebounce, Leading, s.flushActivity)
	return s
}

// Status returns the relay reachability as last observed.
func (s *Slave) Status() StatusSnapshot { return s.status.Snapshot() }

// Scanner exposes the scan runner.
func (s *Slave) Scanner() *ScanRunner { return s.scanner }

// QueueLen reports how many observations are waiting to be pushed.
func (s *Slave) QueueLen() int { return s.queue.Len() }

// Start performs a forced pull and then polls every PullInterval until Stop.
func (s *Slave) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.runGen++
	s.mu.Unlock()

	s.Pull(ctx, true)
	s.schedulePull()
}

// Run starts the slave and blocks until ctx is done.
func (s *Slave) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop cancels the poll timer, the activity flush and any scan. A pull still
// in flight finishes without applying its response.
func (s *Slave) Stop() {
	s.mu.Lock()
	s.running = false
	s.runGen++
	if s.pullTimer != nil {
		s.pullTimer.Stop()
		s.pullTimer = nil
	}
	s.mu.Unlock()
	s.flush.Cancel()
	s.scanner.Stop()
}

func (s *Slave) schedulePull() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.pullTimer = s.clock.AfterFunc(s.cfg.PullInterval, func() {
		if !s.isRunning() {
			return
		}
		s.Pull(context.Background(), false)
		s.schedulePull()
	})
}

func (s *Slave) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Slave) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runGen
}

// Pull fetches the relay state, mirrors the target list when it changed and
// applies the current control command. Overlapping pulls are skipped; it
// reports whether this call performed the pull. A response that arrives after
// Start or Stop changed the run is discarded.
func (s *Slave) Pull(ctx context.Context, force bool) bool {
	if !s.pulling.CompareAndSwap(false, true) {
		return false
	}
	defer s.pulling.Store(false)

	gen := s.generation()
	now := s.clock.Now()
	body, err := s.client.Fetch(ctx, false)
	if s.generation() != gen {
		s.logger.Debug("pull response dropped after stop")
		return true
	}
	if err != nil {
		s.status.Offline(now, err)
		return true
	}
	s.status.Online(now)

	if err := s.applyTargets(ctx, body, force); err != nil {
		s.logger.Warn("apply remote targets failed", "error", err)
	}
	if cmd, ok := normalize.RemoteControl(body, s.cfg.Scan); ok {
		if _, err := s.ApplyControl(ctx, cmd); err != nil {
			s.logger.Warn("apply control command failed", "error", err)
		}
	}
	return true
}

func (s *Slave) applyTargets(ctx context.Context, body []byte, force bool) error {
	remote, updatedAt, ok := normalize.RemoteTargets(body, s.clock.Now().UnixMilli())
	if !ok {
		return nil
	}
	fingerprint := remote.Fingerprint()

	s.mu.Lock()
	changed := force || updatedAt > s.lastRemoteAt || fingerprint != s.lastFingerprint
	if changed {
		s.lastRemoteAt = updatedAt
		s.lastFingerprint = fingerprint
	}
	s.mu.Unlock()
	if !changed {
		return nil
	}

	local, err := s.store.LoadTargets(ctx)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	if local.Fingerprint() == fingerprint {
		return nil
	}
	if err := s.store.SaveTargets(ctx, remote); err != nil {
		return fmt.Errorf("save targets: %w", err)
	}
	s.logger.Info("targets updated from relay", "count", len(remote))
	if s.onTargets != nil {
		s.onTargets(remote.Clone())
	}
	return nil
}

// ApplyControl executes cmd unless its id matches the last applied one. It
// reports whether the command was applied.
func (s *Slave) ApplyControl(ctx context.Context, cmd *models.ControlCommand) (bool, error) {
	if cmd == nil || cmd.CommandID == "" {
		return false, nil
	}
	last, err := s.lastAppliedCommand(ctx)
	if err != nil {
		return false, err
	}
	if cmd.CommandID == last {
		return false, nil
	}

	s.mu.Lock()
	s.lastCommandID = cmd.CommandID
	s.lastCommandReady = true
	s.mu.Unlock()
	if err := s.store.SetValue(ctx, KeyLastCommandID, cmd.CommandID); err != nil {
		s.logger.Warn("persist last command id failed", "error", err)
	}

	switch cmd.Action {
	case models.ControlStop:
		s.scanner.Stop()
		s.logger.Info("stop command received", "command", cmd.CommandID)
	case models.ControlStart:
		plan := PlanFromCommand(cmd)
		if len(plan.Queue) == 0 {
			s.logger.Warn("start command without coordinates", "command", cmd.CommandID)
			return true, nil
		}
		s.scanner.Start(plan)
	}
	return true, nil
}

func (s *Slave) lastAppliedCommand(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.lastCommandReady {
		id := s.lastCommandID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	id, err := s.store.GetValue(ctx, KeyLastCommandID)
	if err != nil {
		return "", fmt.Errorf("load last command id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastCommandReady {
		s.lastCommandID = id
		s.lastCommandReady = true
	}
	return s.lastCommandID, nil
}

// RecordObservation normalizes raw and queues it for the next activity push.
// Invalid observations are dropped and reported as false.
func (s *Slave) RecordObservation(raw []byte) bool {
	obs, ok := normalize.Observation(gjson.ParseBytes(raw))
	if !ok {
		return false
	}
	s.Enqueue(obs)
	return true
}

// Enqueue queues an already normalized observation.
func (s *Slave) Enqueue(obs models.Observation) {
	if dropped := s.queue.Push(obs); dropped > 0 {
		s.logger.Warn("activity queue full, dropped oldest", "dropped", dropped)
	}
	s.flush.Trigger()
}

// FlushActivity pushes a scheduled activity batch immediately.
func (s *Slave) FlushActivity() bool { return s.flush.Flush() }

// flushActivity sends one batch. A failed batch goes back to the front of
// the queue; anything left queued schedules another flush.
func (s *Slave) flushActivity() bool {
	batch := s.queue.Take(s.cfg.ActivityBatch)
	if len(batch) == 0 {
		return false
	}
	_, err := s.push(context.Background(), &models.PutRequest{
		ActivityBatch:     batch,
		ActivityUpdatedAt: s.clock.Now().UnixMilli(),
	})
	if err != nil {
		if dropped := s.queue.Requeue(batch); dropped > 0 {
			s.logger.Warn("activity queue full after requeue, dropped oldest", "dropped", dropped)
		}
		s.logger.Warn("activity push failed", "batch", len(batch), "error", err)
	}
	return s.queue.Len() > 0
}

// ShareCoords pushes coordinates discovered for subjects to the relay's
// shared index.
func (s *Slave) ShareCoords(ctx context.Context, coords models.SharedCoords) error {
	batch := models.SharedCoords{}
	for k, list := range coords {
		if norm := normalize.Coords(list); k != "" && len(norm) > 0 {
			batch[k] = norm
		}
	}
	if len(batch) == 0 {
		return nil
	}
	_, err := s.push(ctx, &models.PutRequest{CoordsBatch: batch})
	return err
}

func (s *Slave) push(ctx context.Context, req *models.PutRequest) (*models.Snapshot, error) {
	body, err := s.client.Push(ctx, req)
	if err != nil {
		s.status.Offline(s.clock.Now(), err)
		return nil, err
	}
	s.status.Online(s.clock.Now())
	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
