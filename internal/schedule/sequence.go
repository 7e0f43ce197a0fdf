// Package schedule implements the deterministic event-scheduling core used
// by both backtesting and live trading: named callbacks bound to ascending
// sequences of UTC trigger times, fired in strict (time, insertion) order
// as a clock advances.
package schedule

import "time"

// EndOfTime marks a sequence that will never produce another trigger time.
// An event whose next time equals EndOfTime is inert.
var EndOfTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// TimeSequence yields successive trigger times in ascending UTC order.
// It returns ok=false once exhausted and must keep returning ok=false
// afterwards. Sequences are single-use cursors: each call consumes one
// value. Producing a non-ascending sequence is a contract violation by the
// generator; the scheduler does not sort or guard against it.
type TimeSequence func() (t time.Time, ok bool)

// At returns a sequence that fires exactly once, at t.
func At(t time.Time) TimeSequence {
	return Times(t)
}

// Times returns a sequence over an explicit list of trigger times.
// The list must already be in ascending order.
func Times(ts ...time.Time) TimeSequence {
	i := 0
	return func() (time.Time, bool) {
		if i >= len(ts) {
			return time.Time{}, false
		}
		t := ts[i]
		i++
		return t, true
	}
}

// Every returns an unbounded sequence starting at first and stepping by
// interval. interval must be positive.
func Every(first time.Time, interval time.Duration) TimeSequence {
	next := first
	return func() (time.Time, bool) {
		t := next
		next = next.Add(interval)
		return t, true
	}
}
