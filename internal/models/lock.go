package models

// LockAction selects the lock operation of a LockCommand.
type LockAction string

const (
	LockAcquire   LockAction = "acquire"
	LockHeartbeat LockAction = "heartbeat"
	LockRelease   LockAction = "release"
)

// LockCode is the outcome of a lock operation.
type LockCode string

const (
	LockGranted   LockCode = "granted"
	LockTakeover  LockCode = "takeover"
	LockRenewed   LockCode = "renewed"
	LockReleased  LockCode = "released"
	LockOccupied  LockCode = "occupied"
	LockNoLock    LockCode = "no_lock"
	LockForbidden LockCode = "forbidden"
	LockInvalid   LockCode = "invalid"
)

// EditLock is the single global lease. PossessionToken is only known to the
// owner and is never part of the public view.
type EditLock struct {
	OwnerID         string `json:"ownerId"`
	OwnerLabel      string `json:"ownerLabel"`
	PossessionToken string `json:"possessionToken"`
	ExpiresAt       int64  `json:"expiresAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}

// View returns the public projection of the lock.
func (l *EditLock) View() *LockView {
	if l == nil {
		return nil
	}
	return &LockView{
		OwnerID:    l.OwnerID,
		OwnerLabel: l.OwnerLabel,
		ExpiresAt:  l.ExpiresAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

// Clone returns a copy.
func (l *EditLock) Clone() *EditLock {
	if l == nil {
		return nil
	}
	out := *l
	return &out
}

// LockView is the lock as seen by anyone other than its owner.
type LockView struct {
	OwnerID    string `json:"ownerId"`
	OwnerLabel string `json:"ownerLabel"`
	ExpiresAt  int64  `json:"expiresAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// LockCommand is the lock sub-command of a PUT envelope.
type LockCommand struct {
	Action     LockAction `json:"action"`
	OwnerID    string     `json:"ownerId"`
	OwnerLabel string     `json:"ownerLabel,omitempty"`
	Token      string     `json:"token"`
	TTLMs      int64      `json:"ttlMs,omitempty"`
	Force      bool       `json:"force,omitempty"`
}

// LockResult reports the outcome of a LockCommand. Lock is the holder after the
// operation (or the blocking holder on conflict); Displaced is set on takeover.
type LockResult struct {
	OK        bool      `json:"ok"`
	Code      LockCode  `json:"code"`
	Lock      *LockView `json:"lock"`
	Displaced *LockView `json:"displaced,omitempty"`
}
