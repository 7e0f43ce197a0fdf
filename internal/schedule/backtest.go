package schedule

import (
	"time"

	"sched-systemv1/internal/model"
)

// BacktestScheduler fires scheduled events against a simulated clock.
// A single controlling goroutine drives it through successive SetTime
// calls with non-decreasing times; there is no internal locking. Add and
// Remove are safe to call reentrantly from inside a firing callback.
//
// Callback errors propagate to the SetTime caller: a broken algorithm
// halts the backtest visibly. The scheduler structure stays consistent
// after an error, so the caller may inspect or resume it.
type BacktestScheduler struct {
	q   *queue
	now time.Time

	// OnFire, when set, observes every callback invocation.
	OnFire func(model.Firing)

	fireSeq int64
}

// NewBacktestScheduler creates an empty backtesting scheduler.
func NewBacktestScheduler() *BacktestScheduler {
	return &BacktestScheduler{q: newQueue()}
}

// Add registers an event. Adding the same event twice is a no-op;
// duplicate-name events are allowed and all fire.
func (s *BacktestScheduler) Add(ev *Event) {
	if !s.q.add(ev) {
		return
	}
	ev.onFire = func(at time.Time, dur time.Duration, err error) {
		s.fire(ev.Name(), at, dur, err)
	}
}

// Remove deregisters an event. Removing an event not present (or already
// auto-expired and removed) is a no-op.
func (s *BacktestScheduler) Remove(ev *Event) {
	s.q.remove(ev)
}

// RemoveByName deregisters every event bearing the given name and returns
// how many were removed. Removing an unknown name is a no-op.
func (s *BacktestScheduler) RemoveByName(name string) int {
	return s.q.removeName(name)
}

// Contains reports whether the event is currently registered.
func (s *BacktestScheduler) Contains(ev *Event) bool {
	return s.q.contains(ev)
}

// Len returns the number of registered events, including exhausted ones
// retained until removal.
func (s *BacktestScheduler) Len() int {
	return s.q.size()
}

// SetTime advances the simulated clock to now and fires every event whose
// next trigger time is at or before now, in (trigger time, insertion
// order) order. Each event catches itself up fully before the next is
// visited, and events added from inside a callback with due trigger times
// fire within the same call. The first callback error stops the scan and
// is returned.
func (s *BacktestScheduler) SetTime(now time.Time) error {
	s.now = now.UTC()
	for {
		e := s.q.popDue(s.now)
		if e == nil {
			return nil
		}
		err := e.ev.Scan(s.now)
		s.q.reinsert(e)
		if err != nil {
			return err
		}
	}
}

// ScanPastEvents replays the backlog of trigger times at or before now.
// Semantically identical to SetTime; named distinctly to signal catch-up
// after handler setup completes (start-of-day type boundaries).
func (s *BacktestScheduler) ScanPastEvents(now time.Time) error {
	return s.SetTime(now)
}

// NextTime returns the earliest pending trigger time, or ok=false when no
// event will ever fire again. Backtest drivers use it to jump the clock
// instead of spinning through empty steps.
func (s *BacktestScheduler) NextTime() (time.Time, bool) {
	return s.q.peekNext()
}

// Snapshot returns a point-in-time view of the pending events.
func (s *BacktestScheduler) Snapshot() Snapshot {
	return Snapshot{
		TakenAt: time.Now().UTC(),
		Mode:    "backtest",
		Pending: s.q.states(),
	}
}

func (s *BacktestScheduler) fire(name string, at time.Time, dur time.Duration, err error) {
	if s.OnFire == nil {
		return
	}
	s.fireSeq++
	f := model.Firing{
		Event:       name,
		ScheduledAt: at,
		FiredAt:     s.now,
		Mode:        "backtest",
		DurationUs:  dur.Microseconds(),
		Seq:         s.fireSeq,
	}
	if err != nil {
		f.Error = err.Error()
	}
	s.OnFire(f)
}
