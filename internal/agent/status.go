package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/scoutsync/internal/client"
)

// StatusSnapshot is a point-in-time copy of a Status.
type StatusSnapshot struct {
	Online      bool      `json:"online"`
	Reason      string    `json:"reason,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	LastSuccess time.Time `json:"lastSuccess"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Status tracks whether the relay is reachable. Failures are recorded, never
// returned to timer callbacks.
type Status struct {
	mu     sync.Mutex
	snap   StatusSnapshot
	logger *slog.Logger
}

func newStatus(logger *slog.Logger) *Status {
	return &Status{logger: logger}
}

// Online records a successful exchange.
func (s *Status) Online(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snap.Online {
		s.logger.Info("sync online")
	}
	s.snap = StatusSnapshot{Online: true, LastSuccess: now, UpdatedAt: now}
}

// Offline records a failed exchange, classifying err into a short reason.
func (s *Status) Offline(now time.Time, err error) {
	reason := client.Reason(err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Online || s.snap.Reason != reason {
		s.logger.Warn("sync offline", "reason", reason, "error", err)
	}
	s.snap.Online = false
	s.snap.Reason = reason
	s.snap.UpdatedAt = now
	if err != nil {
		s.snap.LastError = err.Error()
	}
}

// Snapshot returns the current status.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
