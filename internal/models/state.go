package models

// SyncState is the authoritative server aggregate. It is persisted as one JSON
// document.
type SyncState struct {
	Targets          Targets         `json:"targets"`
	UpdatedAt        int64           `json:"updatedAt"`
	Control          *ControlCommand `json:"control"`
	ControlUpdatedAt int64           `json:"controlUpdatedAt"`
	Activity         Activity        `json:"activity"`
	SharedCoords     SharedCoords    `json:"sharedCoords"`
	Lock             *EditLock       `json:"lock"`
}

// NewSyncState returns an empty state with all collections allocated.
func NewSyncState() *SyncState {
	return &SyncState{
		Targets:      Targets{},
		Activity:     NewActivity(),
		SharedCoords: SharedCoords{},
	}
}

// Clone returns a deep copy.
func (s *SyncState) Clone() *SyncState {
	return &SyncState{
		Targets:          s.Targets.Clone(),
		UpdatedAt:        s.UpdatedAt,
		Control:          s.Control.Clone(),
		ControlUpdatedAt: s.ControlUpdatedAt,
		Activity:         s.Activity.Clone(),
		SharedCoords:     s.SharedCoords.Clone(),
		Lock:             s.Lock.Clone(),
	}
}

// Snapshot is the public view returned by the sync endpoint.
type Snapshot struct {
	Targets          Targets         `json:"targets"`
	UpdatedAt        int64           `json:"updatedAt"`
	Control          *ControlCommand `json:"control"`
	ControlUpdatedAt int64           `json:"controlUpdatedAt"`
	Lock             *LockView       `json:"lock"`
	ActivitySummary  ActivitySummary `json:"activitySummary"`
	SharedCoords     SharedCoords    `json:"sharedCoords"`
	ActivityLog      *Activity       `json:"activityLog,omitempty"`
	LockResult       *LockResult     `json:"lockResult,omitempty"`
}

// Update is a parsed PUT envelope. Each non-nil part is applied independently.
type Update struct {
	Targets  *TargetsUpdate
	Control  *ControlUpdate
	Activity *ActivityUpdate
	Coords   SharedCoords
	Lock     *LockCommand
}

// TargetsUpdate replaces the target list.
type TargetsUpdate struct {
	Targets   Targets
	UpdatedAt int64
}

// ControlUpdate replaces the current control command. A nil Command clears it.
type ControlUpdate struct {
	Command   *ControlCommand
	UpdatedAt int64
}

// ActivityUpdate is a batch of observations to merge.
type ActivityUpdate struct {
	Batch     []Observation
	UpdatedAt int64
}

// PutRequest is the envelope agents send. Absent parts are omitted so the
// server only applies what the agent meant to change.
type PutRequest struct {
	Targets           *Targets        `json:"targets,omitempty"`
	UpdatedAt         int64           `json:"updatedAt,omitempty"`
	Control           *ControlCommand `json:"control,omitempty"`
	ControlUpdatedAt  int64           `json:"controlUpdatedAt,omitempty"`
	ActivityBatch     []Observation   `json:"activityBatch,omitempty"`
	ActivityUpdatedAt int64           `json:"activityUpdatedAt,omitempty"`
	CoordsBatch       SharedCoords    `json:"coordsBatch,omitempty"`
	LockCommand       *LockCommand    `json:"lockCommand,omitempty"`
}
