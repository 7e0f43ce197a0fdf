package schedule

import "time"

// EventState is a point-in-time view of one pending event.
type EventState struct {
	Name    string    `json:"name"`
	NextUTC time.Time `json:"next_utc"` // EndOfTime when exhausted
	Seq     int64     `json:"seq"`      // insertion order
}

// Snapshot is a dump of a scheduler's pending events, ordered by
// (next trigger time, insertion seq). Used by the status API and logs.
type Snapshot struct {
	TakenAt time.Time    `json:"taken_at"`
	Mode    string       `json:"mode"`
	Pending []EventState `json:"pending"`
}
