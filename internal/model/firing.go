package model

import (
	"encoding/json"
	"time"
)

// Firing records a single scheduled-event callback invocation.
// ScheduledAt is the event's own trigger time; FiredAt is the clock value
// that caused the fire (wall clock in live mode, simulated clock in
// backtests). The two differ whenever the clock jumped past the trigger.
type Firing struct {
	Event       string    `json:"event"`
	ScheduledAt time.Time `json:"scheduled_at"` // UTC
	FiredAt     time.Time `json:"fired_at"`     // UTC
	Mode        string    `json:"mode"`         // "backtest" or "live"
	DurationUs  int64     `json:"duration_us"`  // callback execution time
	Error       string    `json:"error,omitempty"`
	Seq         int64     `json:"seq"` // per-run monotonic firing counter
}

// Key returns the journaling/stream key for this firing: the event name.
func (f *Firing) Key() string {
	return f.Event
}

// JSON returns the JSON-encoded firing (ignoring errors for hot-path usage).
func (f *Firing) JSON() []byte {
	b, _ := json.Marshal(f)
	return b
}
