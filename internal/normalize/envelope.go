package normalize

import (
	"errors"

	"github.com/tidwall/gjson"

	"github.com/joescharf/scoutsync/internal/models"
)

var (
	// ErrInvalidJSON is returned when a request body is not a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON body")
	// ErrNoRecognizedKeys is returned when a body carries none of the
	// sub-commands the endpoint understands.
	ErrNoRecognizedKeys = errors.New("no recognized keys in body")
)

// Envelope parses a PUT body into independent sub-commands. Timestamps the
// sender omitted default to now.
func Envelope(body []byte, now int64) (*models.Update, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrInvalidJSON
	}

	u := &models.Update{}
	recognized := false

	if r := root.Get("targets"); r.Exists() {
		recognized = true
		u.Targets = &models.TargetsUpdate{
			Targets:   Targets(r),
			UpdatedAt: millisOr(root.Get("updatedAt"), now),
		}
	}

	if r := root.Get("control"); r.Exists() {
		recognized = true
		updatedAt := millisOr(root.Get("controlUpdatedAt"), now)
		if r.Type == gjson.Null {
			u.Control = &models.ControlUpdate{UpdatedAt: updatedAt}
		} else if cmd, ok := ControlCommand(r, DefaultScanSettings()); ok {
			if cmd.IssuedAt <= 0 {
				cmd.IssuedAt = updatedAt
			}
			u.Control = &models.ControlUpdate{Command: cmd, UpdatedAt: updatedAt}
		}
	}

	if r := root.Get("activityBatch"); r.Exists() {
		recognized = true
		u.Activity = &models.ActivityUpdate{
			Batch:     Observations(r),
			UpdatedAt: millisOr(root.Get("activityUpdatedAt"), now),
		}
	}

	if r := root.Get("coordsBatch"); r.Exists() {
		recognized = true
		u.Coords = SharedCoords(r)
	}

	if r := root.Get("lockCommand"); r.Exists() {
		recognized = true
		u.Lock = LockCommand(r)
	}

	if !recognized {
		return nil, ErrNoRecognizedKeys
	}
	return u, nil
}

// RemoteTargets extracts the target list and its update time from a snapshot
// fetched from the server. A bare target map is accepted as well.
func RemoteTargets(body []byte, now int64) (models.Targets, int64, bool) {
	if !gjson.ValidBytes(body) {
		return nil, 0, false
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, 0, false
	}
	raw := gjson.Result{}
	if t := root.Get("targets"); t.IsObject() {
		raw = t
	} else if looksLikeTargetMap(root) {
		raw = root
	}
	updatedAt := now
	for _, key := range []string{"updatedAt", "updated_at", "ts"} {
		if v, ok := millis(root.Get(key)); ok && v > 0 {
			updatedAt = v
			break
		}
	}
	return Targets(raw), updatedAt, true
}

// RemoteControl extracts the current control command from a fetched snapshot.
func RemoteControl(body []byte, local ScanSettings) (*models.ControlCommand, bool) {
	if !gjson.ValidBytes(body) {
		return nil, false
	}
	return ControlCommand(gjson.GetBytes(body, "control"), local)
}
