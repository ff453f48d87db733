package normalize

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/joescharf/scoutsync/internal/models"
)

// ScanSettings are the receiver's local scan settings, used when a control
// command omits its timing values.
type ScanSettings struct {
	ScanDelayMs      int64
	RepeatIntervalMs int64
}

// DefaultScanSettings returns the built-in scan timing.
func DefaultScanSettings() ScanSettings {
	return ScanSettings{
		ScanDelayMs:      models.DefaultScanDelayMs,
		RepeatIntervalMs: models.DefaultRepeatIntervalMs,
	}
}

// Targets normalizes a target mapping. A value of true means "no display
// name"; any other non-object value drops the entry.
func Targets(r gjson.Result) models.Targets {
	out := models.Targets{}
	if !r.IsObject() {
		return out
	}
	r.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if k == "" {
			return true
		}
		switch {
		case value.Type == gjson.True:
			out[k] = models.Target{}
		case value.IsObject():
			name := value.Get("displayName")
			if name.Type != gjson.String {
				name = value.Get("name")
			}
			t := models.Target{}
			if name.Type == gjson.String {
				t.DisplayName = name.Str
			}
			out[k] = t
		}
		return true
	})
	return out
}

// looksLikeTargetMap reports whether every key of a non-empty object belongs
// to a target namespace.
func looksLikeTargetMap(r gjson.Result) bool {
	if !r.IsObject() {
		return false
	}
	count := 0
	ok := true
	r.ForEach(func(key, _ gjson.Result) bool {
		count++
		if !models.IsTargetKey(key.String()) {
			ok = false
			return false
		}
		return true
	})
	return ok && count > 0
}

// Observation normalizes one activity observation. It returns false when the
// subject, coordinate, or timestamp is unusable.
func Observation(r gjson.Result) (models.Observation, bool) {
	if !r.IsObject() {
		return models.Observation{}, false
	}
	key := text(r.Get("subjectKey"))
	coord := Coord(text(r.Get("coordinate")))
	seenAt, ok := millis(r.Get("seenAt"))
	if key == "" || coord == "" || !ok || seenAt <= 0 {
		return models.Observation{}, false
	}
	bucket, ok := millis(r.Get("bucketTimestamp"))
	if !ok || bucket <= 0 {
		bucket = seenAt
	}
	name := text(r.Get("subjectName"))
	if name == "" {
		name = key
	}
	return models.Observation{
		SubjectKey:      key,
		SubjectName:     name,
		Coordinate:      coord,
		SeenAt:          seenAt,
		BucketTimestamp: FloorToBucket(bucket),
		PlanetActivity:  ActivityValue(r.Get("planetActivity")),
		MoonActivity:    ActivityValue(r.Get("moonActivity")),
		DebrisPresent:   DebrisValue(r.Get("debrisPresent")),
	}, true
}

// Observations normalizes a batch element by element.
func Observations(r gjson.Result) []models.Observation {
	out := []models.Observation{}
	if !r.IsArray() {
		return out
	}
	r.ForEach(func(_, item gjson.Result) bool {
		if obs, ok := Observation(item); ok {
			out = append(out, obs)
		}
		return true
	})
	return out
}

// SharedCoords normalizes a coordinate batch. Both {"subject": [coords]} and
// [{"subjectKey": ..., "coordinates": [...]}] shapes are accepted.
func SharedCoords(r gjson.Result) models.SharedCoords {
	out := models.SharedCoords{}
	add := func(key string, coords gjson.Result) {
		if key == "" {
			return
		}
		list := CoordList(coords)
		if len(list) == 0 {
			return
		}
		out[key] = Coords(append(out[key], list...))
	}
	switch {
	case r.IsObject():
		r.ForEach(func(key, value gjson.Result) bool {
			add(key.String(), value)
			return true
		})
	case r.IsArray():
		r.ForEach(func(_, item gjson.Result) bool {
			if item.IsObject() {
				add(text(item.Get("subjectKey")), item.Get("coordinates"))
			}
			return true
		})
	}
	for k := range out {
		SortCoords(out[k])
	}
	return out
}

// ControlCommand normalizes a control command. Commands without an id or with
// an unknown action are rejected.
func ControlCommand(r gjson.Result, local ScanSettings) (*models.ControlCommand, bool) {
	if !r.IsObject() {
		return nil, false
	}
	id := text(r.Get("commandId"))
	if id == "" {
		id = text(r.Get("cmdId"))
	}
	action := models.ControlAction(strings.ToLower(text(r.Get("action"))))
	if id == "" || (action != models.ControlStart && action != models.ControlStop) {
		return nil, false
	}
	delay, ok := millis(r.Get("scanDelayMs"))
	if !ok || delay <= 0 {
		delay = local.ScanDelayMs
	}
	interval, ok := millis(r.Get("repeatIntervalMs"))
	if !ok || interval <= 0 {
		interval, ok = millis(r.Get("continuousIntervalMs"))
	}
	if !ok || interval <= 0 {
		interval = local.RepeatIntervalMs
	}
	issuedAt, _ := millis(r.Get("issuedAt"))
	return &models.ControlCommand{
		CommandID:        id,
		Action:           action,
		IssuedAt:         issuedAt,
		Continuous:       r.Get("continuous").Bool(),
		Queue:            CoordList(r.Get("queue")),
		ScanDelayMs:      models.ClampScanDelay(delay),
		RepeatIntervalMs: models.ClampRepeatInterval(interval),
	}, true
}

// LockCommand normalizes a lock sub-command. Unknown actions are kept as an
// empty action so the lock manager can answer with an explicit invalid code.
func LockCommand(r gjson.Result) *models.LockCommand {
	if !r.IsObject() {
		return nil
	}
	action := models.LockAction(strings.ToLower(text(r.Get("action"))))
	switch action {
	case models.LockAcquire, models.LockHeartbeat, models.LockRelease:
	default:
		action = ""
	}
	token := text(r.Get("token"))
	if token == "" {
		token = text(r.Get("possessionToken"))
	}
	ttl, _ := millis(r.Get("ttlMs"))
	return &models.LockCommand{
		Action:     action,
		OwnerID:    text(r.Get("ownerId")),
		OwnerLabel: text(r.Get("ownerLabel")),
		Token:      token,
		TTLMs:      ttl,
		Force:      r.Get("force").Bool(),
	}
}
