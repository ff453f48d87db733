package agent

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/scoutsync/internal/clock"
	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/normalize"
)

var (
	// ErrNoTargets is returned by SendScan when the local target list is
	// empty.
	ErrNoTargets = errors.New("no targets to scan")
	// ErrNoCoordinates is returned by SendScan when none of the targets has
	// a known coordinate.
	ErrNoCoordinates = errors.New("no coordinates known for targets")
	// ErrLockNotHeld is returned by heartbeat and release when this host has
	// no token.
	ErrLockNotHeld = errors.New("edit lock not held")
)

// Host owns the target list. Edits are saved locally and pushed to the relay
// after a quiet period; pushes never overlap.
type Host struct {
	cfg    Config
	client SyncClient
	store  LocalStore
	clock  clock.Clock
	logger *slog.Logger
	status *Status
	push   *Debouncer

	mu        sync.Mutex
	pending   models.Targets
	lockToken string
	heartbeat clock.Timer
	lastLock  *models.LockResult
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostClock overrides the clock.
func WithHostClock(c clock.Clock) HostOption {
	return func(h *Host) { h.clock = c }
}

// WithHostLogger sets the logger.
func WithHostLogger(l *slog.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// NewHost creates a host agent.
func NewHost(cfg Config, c SyncClient, s LocalStore, opts ...HostOption) *Host {
	h := &Host{
		cfg:    cfg.withDefaults(),
		client: c,
		store:  s,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.status = newStatus(h.logger)
	h.push = NewDebouncer(h.clock, h.cfg.PushDebounce, Trailing, h.flushTargets)
	return h
}

// Status returns the relay reachability as last observed.
func (h *Host) Status() StatusSnapshot { return h.status.Snapshot() }

// Targets returns the local target list.
func (h *Host) Targets(ctx context.Context) (models.Targets, error) {
	return h.store.LoadTargets(ctx)
}

// UpdateTargets replaces the local target list and schedules a push.
func (h *Host) UpdateTargets(ctx context.Context, targets models.Targets) error {
	targets = targets.Clone()
	if err := h.store.SaveTargets(ctx, targets); err != nil {
		return fmt.Errorf("save targets: %w", err)
	}
	h.mu.Lock()
	h.pending = targets
	h.mu.Unlock()
	h.push.Trigger()
	return nil
}

// AddTarget adds or renames one target.
func (h *Host) AddTarget(ctx context.Context, key, displayName string) error {
	if !models.IsTargetKey(key) {
		return fmt.Errorf("invalid target key %q", key)
	}
	targets, err := h.store.LoadTargets(ctx)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	targets[key] = models.Target{DisplayName: displayName}
	return h.UpdateTargets(ctx, targets)
}

// RemoveTarget deletes one target. It reports whether the key existed.
func (h *Host) RemoveTarget(ctx context.Context, key string) (bool, error) {
	targets, err := h.store.LoadTargets(ctx)
	if err != nil {
		return false, fmt.Errorf("load targets: %w", err)
	}
	if _, ok := targets[key]; !ok {
		return false, nil
	}
	delete(targets, key)
	return true, h.UpdateTargets(ctx, targets)
}

// FlushTargets pushes a scheduled target update immediately.
func (h *Host) FlushTargets() bool { return h.push.Flush() }

// flushTargets is the push debouncer's run. A failed push is dropped; the
// next edit pushes the full list again.
func (h *Host) flushTargets() bool {
	h.mu.Lock()
	targets := h.pending
	h.pending = nil
	h.mu.Unlock()
	if targets == nil {
		return false
	}

	_, err := h.send(context.Background(), &models.PutRequest{
		Targets:   &targets,
		UpdatedAt: h.clock.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Warn("push targets failed", "error", err)
	} else {
		h.logger.Debug("targets pushed", "count", len(targets))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending != nil
}

// PushTargets sends the local target list now, bypassing the debounce.
func (h *Host) PushTargets(ctx context.Context) error {
	targets, err := h.store.LoadTargets(ctx)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	_, err = h.send(ctx, &models.PutRequest{
		Targets:   &targets,
		UpdatedAt: h.clock.Now().UnixMilli(),
	})
	return err
}

// SendControl publishes cmd as the current control command.
func (h *Host) SendControl(ctx context.Context, cmd *models.ControlCommand) error {
	_, err := h.send(ctx, &models.PutRequest{
		Control:          cmd,
		ControlUpdatedAt: h.clock.Now().UnixMilli(),
	})
	return err
}

// SendScan builds a queue from the coordinates the relay knows for the local
// targets and publishes a start command.
func (h *Host) SendScan(ctx context.Context, continuous bool) (*models.ControlCommand, error) {
	targets, err := h.store.LoadTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	body, err := h.client.Fetch(ctx, false)
	if err != nil {
		h.status.Offline(h.clock.Now(), err)
		return nil, err
	}
	h.status.Online(h.clock.Now())
	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	queue := BuildScanQueue(targets, snap.SharedCoords)
	if len(queue) == 0 {
		return nil, ErrNoCoordinates
	}
	cmd := h.newCommand(models.ControlStart, continuous, queue)
	if err := h.SendControl(ctx, cmd); err != nil {
		return nil, err
	}
	h.logger.Info("scan command sent", "command", cmd.CommandID, "coords", len(queue))
	return cmd, nil
}

// SendStop publishes a stop command.
func (h *Host) SendStop(ctx context.Context) (*models.ControlCommand, error) {
	cmd := h.newCommand(models.ControlStop, false, []string{})
	if err := h.SendControl(ctx, cmd); err != nil {
		return nil, err
	}
	h.logger.Info("stop command sent", "command", cmd.CommandID)
	return cmd, nil
}

func (h *Host) newCommand(action models.ControlAction, continuous bool, queue []string) *models.ControlCommand {
	now := h.clock.Now()
	return &models.ControlCommand{
		CommandID:        newULID(now),
		Action:           action,
		IssuedAt:         now.UnixMilli(),
		Continuous:       continuous,
		Queue:            queue,
		ScanDelayMs:      h.cfg.Scan.ScanDelayMs,
		RepeatIntervalMs: h.cfg.Scan.RepeatIntervalMs,
	}
}

// BuildScanQueue unions the shared coordinates of every target, sorted
// naturally.
func BuildScanQueue(targets models.Targets, coords models.SharedCoords) []string {
	var all []string
	keys := make([]string, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		all = append(all, coords[k]...)
	}
	out := normalize.Coords(all)
	normalize.SortCoords(out)
	return out
}

// AcquireLock requests the edit lock under a fresh possession token.
func (h *Host) AcquireLock(ctx context.Context, force bool) (models.LockResult, error) {
	token := h.token(ctx)
	if token == "" {
		token = newULID(h.clock.Now())
	}

	res, err := h.lockCommand(ctx, models.LockCommand{
		Action:     models.LockAcquire,
		OwnerID:    h.cfg.AgentID,
		OwnerLabel: h.cfg.AgentLabel,
		Token:      token,
		TTLMs:      h.cfg.LockTTL.Milliseconds(),
		Force:      force,
	})
	if err != nil {
		return res, err
	}
	if res.OK {
		h.mu.Lock()
		h.lockToken = token
		h.mu.Unlock()
		if err := h.store.SetValue(ctx, KeyLockToken, token); err != nil {
			h.logger.Warn("save lock token failed", "error", err)
		}
	}
	return res, nil
}

// HeartbeatLock extends the lock this host holds.
func (h *Host) HeartbeatLock(ctx context.Context) (models.LockResult, error) {
	token := h.token(ctx)
	if token == "" {
		return models.LockResult{}, ErrLockNotHeld
	}
	res, err := h.lockCommand(ctx, models.LockCommand{
		Action:  models.LockHeartbeat,
		OwnerID: h.cfg.AgentID,
		Token:   token,
		TTLMs:   h.cfg.LockTTL.Milliseconds(),
	})
	if err == nil && !res.OK {
		h.forgetToken(ctx, token)
	}
	return res, err
}

// ReleaseLock frees the lock this host holds.
func (h *Host) ReleaseLock(ctx context.Context) (models.LockResult, error) {
	token := h.token(ctx)
	if token == "" {
		return models.LockResult{}, ErrLockNotHeld
	}
	res, err := h.lockCommand(ctx, models.LockCommand{
		Action:  models.LockRelease,
		OwnerID: h.cfg.AgentID,
		Token:   token,
	})
	if err == nil {
		h.forgetToken(ctx, token)
	}
	return res, err
}

// LastLockResult returns the outcome of the most recent lock command sent by
// this host, and false if none was sent yet.
func (h *Host) LastLockResult() (models.LockResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastLock == nil {
		return models.LockResult{}, false
	}
	return *h.lastLock, true
}

// token returns the possession token of this host, falling back to the one
// saved by an earlier process.
func (h *Host) token(ctx context.Context) string {
	h.mu.Lock()
	token := h.lockToken
	h.mu.Unlock()
	if token != "" {
		return token
	}
	saved, err := h.store.GetValue(ctx, KeyLockToken)
	if err != nil {
		h.logger.Warn("load lock token failed", "error", err)
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lockToken == "" {
		h.lockToken = saved
	}
	return h.lockToken
}

func (h *Host) forgetToken(ctx context.Context, token string) {
	h.mu.Lock()
	if h.lockToken == token {
		h.lockToken = ""
	}
	h.mu.Unlock()
	if err := h.store.SetValue(ctx, KeyLockToken, ""); err != nil {
		h.logger.Warn("clear lock token failed", "error", err)
	}
}

func (h *Host) lockCommand(ctx context.Context, cmd models.LockCommand) (models.LockResult, error) {
	snap, err := h.send(ctx, &models.PutRequest{LockCommand: &cmd})
	if err != nil {
		return models.LockResult{}, err
	}
	if snap.LockResult == nil {
		return models.LockResult{}, errors.New("relay response carried no lock result")
	}
	res := *snap.LockResult
	h.mu.Lock()
	h.lastLock = &res
	h.mu.Unlock()
	h.logger.Debug("lock command", "action", cmd.Action, "code", res.Code)
	return res, nil
}

// Run pushes the local target list, optionally holds the edit lock with
// heartbeats, and blocks until ctx is done. On exit it cancels pending
// pushes and releases the lock.
func (h *Host) Run(ctx context.Context) error {
	if err := h.PushTargets(ctx); err != nil {
		h.logger.Warn("initial target push failed", "error", err)
	}

	if h.cfg.HoldLock {
		res, err := h.AcquireLock(ctx, false)
		switch {
		case err != nil:
			h.logger.Warn("acquire edit lock failed", "error", err)
		case !res.OK:
			h.logger.Warn("edit lock held elsewhere", "code", res.Code, "owner", ownerOf(res.Lock))
		default:
			h.scheduleHeartbeat()
		}
	}

	<-ctx.Done()
	h.Stop()
	return nil
}

// Stop cancels timers and releases a held lock.
func (h *Host) Stop() {
	h.push.Cancel()
	h.mu.Lock()
	if h.heartbeat != nil {
		h.heartbeat.Stop()
		h.heartbeat = nil
	}
	held := h.lockToken != ""
	h.mu.Unlock()

	if held {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := h.ReleaseLock(ctx); err != nil {
			h.logger.Warn("release edit lock failed", "error", err)
		}
	}
}

func (h *Host) scheduleHeartbeat() {
	h.mu.Lock()
	defer h.mu.Unlock()
	every := h.cfg.LockTTL / 3
	h.heartbeat = h.clock.AfterFunc(every, func() {
		res, err := h.HeartbeatLock(context.Background())
		switch {
		case err != nil:
			h.logger.Warn("lock heartbeat failed", "error", err)
		case !res.OK:
			h.logger.Warn("edit lock lost", "code", res.Code, "owner", ownerOf(res.Lock))
			return
		}
		h.mu.Lock()
		live := h.heartbeat != nil
		h.mu.Unlock()
		if live {
			h.scheduleHeartbeat()
		}
	})
}

func (h *Host) send(ctx context.Context, req *models.PutRequest) (*models.Snapshot, error) {
	body, err := h.client.Push(ctx, req)
	if err != nil {
		h.status.Offline(h.clock.Now(), err)
		return nil, err
	}
	h.status.Online(h.clock.Now())
	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func ownerOf(v *models.LockView) string {
	if v == nil {
		return ""
	}
	if v.OwnerLabel != "" {
		return v.OwnerLabel
	}
	return v.OwnerID
}

func newULID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
