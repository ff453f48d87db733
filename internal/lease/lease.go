// Package lease implements the single-slot edit lock shared by host agents.
//
// The lock is a lease: it carries an expiry and is treated as free once the
// expiry passes. Expiry is evaluated lazily at the start of every operation,
// there is no background sweeper.
package lease

import (
	"time"

	"github.com/joescharf/scoutsync/internal/models"
)

// TTL bounds.
const (
	MinTTL     = 30 * time.Second
	MaxTTL     = 15 * time.Minute
	DefaultTTL = 2 * time.Minute
)

// ClampTTL bounds a requested TTL in milliseconds. Non-positive requests get
// the default.
func ClampTTL(ms int64) time.Duration {
	if ms <= 0 {
		return DefaultTTL
	}
	d := time.Duration(ms) * time.Millisecond
	if d < MinTTL {
		return MinTTL
	}
	if d > MaxTTL {
		return MaxTTL
	}
	return d
}

// Live returns the lock if it has not expired at now, nil otherwise.
func Live(lock *models.EditLock, now time.Time) *models.EditLock {
	if lock == nil || now.UnixMilli() >= lock.ExpiresAt {
		return nil
	}
	return lock
}

// Apply dispatches a lock command. It returns the lock after the operation,
// the result to report, and whether the stored lock changed and needs to be
// persisted.
func Apply(current *models.EditLock, cmd models.LockCommand, now time.Time) (*models.EditLock, models.LockResult, bool) {
	switch cmd.Action {
	case models.LockAcquire:
		return Acquire(current, cmd, now)
	case models.LockHeartbeat:
		return Heartbeat(current, cmd, now)
	case models.LockRelease:
		return Release(current, cmd, now)
	}
	live := Live(current, now)
	return current, models.LockResult{Code: models.LockInvalid, Lock: live.View()}, false
}

// Acquire grants the lock when it is free or already held by the same owner.
// A live lock held by someone else is only taken over when cmd.Force is set.
func Acquire(current *models.EditLock, cmd models.LockCommand, now time.Time) (*models.EditLock, models.LockResult, bool) {
	live := Live(current, now)
	if cmd.OwnerID == "" || cmd.Token == "" {
		return current, models.LockResult{Code: models.LockInvalid, Lock: live.View()}, false
	}

	next := &models.EditLock{
		OwnerID:         cmd.OwnerID,
		OwnerLabel:      cmd.OwnerLabel,
		PossessionToken: cmd.Token,
		ExpiresAt:       now.Add(ClampTTL(cmd.TTLMs)).UnixMilli(),
		UpdatedAt:       now.UnixMilli(),
	}

	switch {
	case live == nil:
		return next, models.LockResult{OK: true, Code: models.LockGranted, Lock: next.View()}, true
	case live.OwnerID == cmd.OwnerID:
		if next.OwnerLabel == "" {
			next.OwnerLabel = live.OwnerLabel
		}
		return next, models.LockResult{OK: true, Code: models.LockGranted, Lock: next.View()}, true
	case cmd.Force:
		return next, models.LockResult{
			OK:        true,
			Code:      models.LockTakeover,
			Lock:      next.View(),
			Displaced: live.View(),
		}, true
	}
	return current, models.LockResult{Code: models.LockOccupied, Lock: live.View()}, false
}

// Heartbeat extends a lock held by exactly this owner and token.
func Heartbeat(current *models.EditLock, cmd models.LockCommand, now time.Time) (*models.EditLock, models.LockResult, bool) {
	live := Live(current, now)
	if live == nil {
		return current, models.LockResult{Code: models.LockNoLock}, false
	}
	if !holds(live, cmd) {
		return current, models.LockResult{Code: models.LockForbidden, Lock: live.View()}, false
	}
	next := live.Clone()
	next.ExpiresAt = now.Add(ClampTTL(cmd.TTLMs)).UnixMilli()
	next.UpdatedAt = now.UnixMilli()
	return next, models.LockResult{OK: true, Code: models.LockRenewed, Lock: next.View()}, true
}

// Release frees a lock held by exactly this owner and token. Releasing a lock
// that is already free succeeds without changing anything.
func Release(current *models.EditLock, cmd models.LockCommand, now time.Time) (*models.EditLock, models.LockResult, bool) {
	live := Live(current, now)
	if live == nil {
		// An expired record is dropped by the next state-changing write.
		return current, models.LockResult{OK: true, Code: models.LockReleased}, false
	}
	if !holds(live, cmd) {
		return current, models.LockResult{Code: models.LockForbidden, Lock: live.View()}, false
	}
	return nil, models.LockResult{OK: true, Code: models.LockReleased}, true
}

func holds(lock *models.EditLock, cmd models.LockCommand) bool {
	return cmd.OwnerID != "" && lock.OwnerID == cmd.OwnerID && lock.PossessionToken == cmd.Token
}
