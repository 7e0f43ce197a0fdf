package schedule

import (
	"fmt"
	"log"
	"time"
)

// Callback is the function a ScheduledEvent fires. It receives the event's
// name and the ORIGINAL scheduled trigger time (not the clock value that
// caused the fire). A non-nil error aborts the current Scan.
type Callback func(name string, scheduledAt time.Time) error

// Event is a named, time-triggered callback with a cursor over its own
// ascending sequence of trigger times. Events are independently owned:
// an Event mutates only through its own Scan, and an exhausted Event is
// permanently inert (next time pinned to EndOfTime) until removed from
// its scheduler.
type Event struct {
	name     string
	callback Callback
	cursor   TimeSequence
	next     time.Time

	// LogFiring enables per-fire diagnostic logging for this event only.
	// Set at construction; there is no process-wide verbosity toggle.
	LogFiring bool

	// onFire is installed by the owning scheduler to observe each fire
	// (for firing records and metrics). Nil when the event is standalone.
	onFire func(scheduledAt time.Time, dur time.Duration, err error)
}

// NewEvent creates an event over the given trigger-time sequence.
// The sequence must yield ascending UTC times; a non-ascending generator is
// a contract violation by the caller and is not guarded against here.
// The cursor is primed immediately, so NextUTC is valid on return.
func NewEvent(name string, cursor TimeSequence, callback Callback) *Event {
	ev := &Event{
		name:     name,
		callback: callback,
		cursor:   cursor,
	}
	ev.advance()
	return ev
}

// Name returns the event's name. Names are used for logging and removal;
// uniqueness is not enforced (duplicate-name events all fire).
func (e *Event) Name() string { return e.name }

// NextUTC returns the earliest trigger time not yet fired,
// or EndOfTime once the sequence is exhausted.
func (e *Event) NextUTC() time.Time { return e.next }

// Exhausted reports whether the event will never fire again.
func (e *Event) Exhausted() bool { return e.next.Equal(EndOfTime) }

// Scan fires the callback for every trigger time at or before now, in
// ascending order, each receiving its original scheduled time. If now
// jumped past several trigger times, all of them fire exactly once
// (catch-up firing). now must be monotonically non-decreasing across
// calls.
//
// The trigger time is consumed before the callback runs, so a failing
// callback does not re-fire for the same timestamp. The first callback
// error stops the scan and is returned; remaining due times fire on the
// next Scan.
func (e *Event) Scan(now time.Time) error {
	for !e.Exhausted() && !e.next.After(now) {
		scheduledAt := e.next
		e.advance()

		if e.LogFiring {
			log.Printf("[sched] firing %s scheduled=%s now=%s",
				e.name, scheduledAt.Format(time.RFC3339), now.Format(time.RFC3339))
		}

		start := time.Now()
		err := e.callback(e.name, scheduledAt)
		if e.onFire != nil {
			e.onFire(scheduledAt, time.Since(start), err)
		}
		if err != nil {
			return fmt.Errorf("scheduled event %q at %s: %w",
				e.name, scheduledAt.Format(time.RFC3339), err)
		}
	}
	return nil
}

// advance moves the cursor to the following trigger time, pinning next to
// EndOfTime once the sequence is exhausted.
func (e *Event) advance() {
	t, ok := e.cursor()
	if !ok {
		e.next = EndOfTime
		return
	}
	e.next = t.UTC()
}
