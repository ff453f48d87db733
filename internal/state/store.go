// Package state holds the relay's authoritative SyncState in memory and
// persists it to a single JSON file that is replaced atomically on every
// change.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/scoutsync/internal/lease"
	"github.com/joescharf/scoutsync/internal/merge"
	"github.com/joescharf/scoutsync/internal/models"
)

// Store serializes every read-modify-write of the sync state behind one mutex.
type Store struct {
	mu     sync.Mutex
	path   string
	state  *models.SyncState
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for lock expiry and defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for load warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open loads the state file at path. A missing or empty file starts a fresh
// state; an unreadable or corrupt one is logged and also starts fresh. An empty
// path keeps the state in memory only.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   strings.TrimSpace(path),
		state:  models.NewSyncState(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		s.logger.Warn("state file unreadable, starting empty", "path", s.path, "error", err)
		return s, nil
	case len(strings.TrimSpace(string(data))) == 0:
		return s, nil
	}

	loaded := models.NewSyncState()
	if err := json.Unmarshal(data, loaded); err != nil {
		s.logger.Warn("state file corrupt, starting empty", "path", s.path, "error", err)
		return s, nil
	}
	fillDefaults(loaded)
	s.state = loaded
	return s, nil
}

// Path returns the backing file path, empty for an in-memory store.
func (s *Store) Path() string { return s.path }

// Snapshot returns the public view of the current state. Lock expiry is
// applied to the view only.
func (s *Store) Snapshot(includeLog bool) models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view(s.state, s.now(), includeLog)
}

// Apply applies every sub-command of u to a copy of the state, persists the
// copy when anything changed and only then makes it current. On a persist
// failure the previous state stays in place and the error is returned.
func (s *Store) Apply(u *models.Update) (models.Snapshot, *models.LockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := s.state.Clone()
	changed := false
	var lockResult *models.LockResult

	if u.Targets != nil {
		next.Targets = u.Targets.Targets.Clone()
		next.UpdatedAt = u.Targets.UpdatedAt
		changed = true
	}

	if u.Control != nil {
		next.Control = u.Control.Command.Clone()
		next.ControlUpdatedAt = u.Control.UpdatedAt
		changed = true
	}

	if u.Activity != nil && len(u.Activity.Batch) > 0 {
		next.Activity = merge.MergeActivity(next.Activity, u.Activity.Batch)
		if u.Activity.UpdatedAt > next.Activity.UpdatedAt {
			next.Activity.UpdatedAt = u.Activity.UpdatedAt
		}
		changed = true
	}

	if len(u.Coords) > 0 {
		next.SharedCoords = merge.MergeSharedCoords(next.SharedCoords, u.Coords)
		changed = true
	}

	if u.Lock != nil {
		lock, res, lockChanged := lease.Apply(next.Lock, *u.Lock, now)
		next.Lock = lock
		lockResult = &res
		changed = changed || lockChanged
	}

	if !changed {
		return view(s.state, now, false), lockResult, nil
	}

	next.Lock = lease.Live(next.Lock, now)
	if err := s.persist(next); err != nil {
		return models.Snapshot{}, nil, err
	}
	s.state = next
	return view(s.state, now, false), lockResult, nil
}

// persist writes st to a temp file next to the target and renames it into
// place.
func (s *Store) persist(st *models.SyncState) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func view(st *models.SyncState, now time.Time, includeLog bool) models.Snapshot {
	snap := models.Snapshot{
		Targets:          st.Targets.Clone(),
		UpdatedAt:        st.UpdatedAt,
		Control:          st.Control.Clone(),
		ControlUpdatedAt: st.ControlUpdatedAt,
		Lock:             lease.Live(st.Lock, now).View(),
		ActivitySummary:  st.Activity.Summary(),
		SharedCoords:     st.SharedCoords.Clone(),
	}
	if includeLog {
		log := st.Activity.Clone()
		snap.ActivityLog = &log
	}
	return snap
}

func fillDefaults(st *models.SyncState) {
	if st.Targets == nil {
		st.Targets = models.Targets{}
	}
	if st.Activity.Players == nil {
		st.Activity.Players = map[string]models.PlayerSummary{}
	}
	if st.Activity.Buckets == nil {
		st.Activity.Buckets = map[string]models.ActivityBucket{}
	}
	if st.SharedCoords == nil {
		st.SharedCoords = models.SharedCoords{}
	}
}
