// Package agent implements the two client roles of the relay. A Host owns the
// target list and issues control commands and lock requests; a Slave polls the
// relay, mirrors the target list, executes control commands and reports
// activity observations back.
package agent

import (
	"context"
	"time"

	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/normalize"
)

// Defaults for Config fields left zero.
const (
	DefaultPullInterval     = 5 * time.Second
	MinPullInterval         = 2 * time.Second
	DefaultPushDebounce     = 700 * time.Millisecond
	DefaultActivityDebounce = time.Second
	DefaultActivityBatch    = 80
	DefaultActivityMaxQueue = 1000
	DefaultLockTTL          = 2 * time.Minute
)

// Keys used with LocalStore.GetValue/SetValue.
const (
	KeyLastCommandID = "last_command_id"
	KeyAgentID       = "agent_id"
	KeyLockToken     = "lock_token"
)

// SyncClient is the subset of client.Client the agents need.
type SyncClient interface {
	Fetch(ctx context.Context, includeLog bool) ([]byte, error)
	Push(ctx context.Context, req *models.PutRequest) ([]byte, error)
}

// LocalStore is the per-agent persistent cache.
type LocalStore interface {
	LoadTargets(ctx context.Context) (models.Targets, error)
	SaveTargets(ctx context.Context, targets models.Targets) error
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
}

// Config holds the tunables shared by both roles.
type Config struct {
	AgentID          string
	AgentLabel       string
	PullInterval     time.Duration
	PushDebounce     time.Duration
	ActivityDebounce time.Duration
	ActivityBatch    int
	ActivityMaxQueue int
	LockTTL          time.Duration
	HoldLock         bool
	Scan             normalize.ScanSettings
}

func (c Config) withDefaults() Config {
	if c.PullInterval <= 0 {
		c.PullInterval = DefaultPullInterval
	}
	if c.PullInterval < MinPullInterval {
		c.PullInterval = MinPullInterval
	}
	if c.PushDebounce <= 0 {
		c.PushDebounce = DefaultPushDebounce
	}
	if c.ActivityDebounce <= 0 {
		c.ActivityDebounce = DefaultActivityDebounce
	}
	if c.ActivityBatch <= 0 {
		c.ActivityBatch = DefaultActivityBatch
	}
	if c.ActivityMaxQueue <= 0 {
		c.ActivityMaxQueue = DefaultActivityMaxQueue
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	c.Scan.ScanDelayMs = models.ClampScanDelay(c.Scan.ScanDelayMs)
	c.Scan.RepeatIntervalMs = models.ClampRepeatInterval(c.Scan.RepeatIntervalMs)
	if c.AgentLabel == "" {
		c.AgentLabel = c.AgentID
	}
	return c
}
