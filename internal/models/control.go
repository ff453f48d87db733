package models

// ControlAction is the instruction carried by a ControlCommand.
type ControlAction string

const (
	ControlStart ControlAction = "start"
	ControlStop  ControlAction = "stop"
)

// Scan timing bounds, in milliseconds.
const (
	MinScanDelayMs          int64 = 1000
	MaxScanDelayMs          int64 = 5000
	DefaultScanDelayMs      int64 = 1000
	MinRepeatIntervalMs     int64 = 60_000
	MaxRepeatIntervalMs     int64 = 3_600_000
	DefaultRepeatIntervalMs int64 = 60_000
)

// ControlCommand is a single remote-control instruction from the host to the
// slaves. CommandID is compared against the receiver's last applied id so each
// command takes effect at most once.
type ControlCommand struct {
	CommandID        string        `json:"commandId"`
	Action           ControlAction `json:"action"`
	IssuedAt         int64         `json:"issuedAt"`
	Continuous       bool          `json:"continuous"`
	Queue            []string      `json:"queue"`
	ScanDelayMs      int64         `json:"scanDelayMs"`
	RepeatIntervalMs int64         `json:"repeatIntervalMs"`
}

// Clone returns a deep copy.
func (c *ControlCommand) Clone() *ControlCommand {
	if c == nil {
		return nil
	}
	out := *c
	out.Queue = append([]string(nil), c.Queue...)
	return &out
}

// ClampScanDelay bounds a per-coordinate scan delay. Non-positive values fall
// back to the default.
func ClampScanDelay(ms int64) int64 {
	return clamp(ms, MinScanDelayMs, MaxScanDelayMs, DefaultScanDelayMs)
}

// ClampRepeatInterval bounds the continuous-scan repeat interval.
func ClampRepeatInterval(ms int64) int64 {
	return clamp(ms, MinRepeatIntervalMs, MaxRepeatIntervalMs, DefaultRepeatIntervalMs)
}

func clamp(v, lo, hi, def int64) int64 {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
