package schedule

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"sched-systemv1/internal/model"
)

const defaultSampleInterval = time.Second

// LiveScheduler fires scheduled events against wall-clock time. A
// background sampler goroutine scans at a fixed cadence while the
// algorithm goroutine concurrently adds and removes events.
//
// A single coarse mutex guards the pending-event structure. Callbacks run
// OUTSIDE the lock, so a callback may reentrantly call Add or Remove on
// the same scheduler without deadlocking.
//
// Unlike the backtesting variant, callback failures (errors and panics)
// are caught at the scan boundary, logged, counted, and scanning
// continues: one broken scheduled task must not halt live operation.
type LiveScheduler struct {
	mu sync.Mutex
	q  *queue

	interval time.Duration
	clock    func() time.Time

	// OnFire, when set, observes every callback invocation.
	// OnError, when set, receives caught callback failures.
	// OnTick, when set, runs after each sampler scan with the live count.
	// Set hooks before Start.
	OnFire  func(model.Firing)
	OnError func(event string, err error)
	OnTick  func(pending int)

	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	fireSeq   atomic.Int64
	errsTotal atomic.Int64
}

// NewLiveScheduler creates a live scheduler sampling wall-clock UTC every
// interval (1s when interval <= 0). The sampler does not run until Start.
func NewLiveScheduler(interval time.Duration) *LiveScheduler {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &LiveScheduler{
		q:        newQueue(),
		interval: interval,
		clock:    time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetClock overrides the wall-clock source. Test hook; call before Start.
func (s *LiveScheduler) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Add registers an event. Safe to call from any goroutine, including from
// inside a firing callback. Duplicate-name events are allowed and all fire.
func (s *LiveScheduler) Add(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.q.add(ev) {
		return
	}
	// Wired under the lock: on a duplicate Add the event may already be out
	// scanning, and Scan reads onFire.
	ev.onFire = func(at time.Time, dur time.Duration, err error) {
		s.fire(ev.Name(), at, dur, err)
	}
}

// Remove deregisters an event; a no-op when not present. Safe to call from
// any goroutine, including from inside a firing callback.
func (s *LiveScheduler) Remove(ev *Event) {
	s.mu.Lock()
	s.q.remove(ev)
	s.mu.Unlock()
}

// RemoveByName deregisters every event bearing the given name.
func (s *LiveScheduler) RemoveByName(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.removeName(name)
}

// Contains reports whether the event is currently registered.
func (s *LiveScheduler) Contains(ev *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.contains(ev)
}

// Len returns the number of registered events.
func (s *LiveScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.size()
}

// Start launches the background sampler. Calling Start twice is a no-op.
func (s *LiveScheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
	log.Printf("[live-sched] sampler started (interval=%v)", s.interval)
}

// Stop halts the sampler. The stop is observed within one sampling
// interval; Stop waits a bounded time for the goroutine to exit. Safe to
// call before Start, during a scan, or twice.
func (s *LiveScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasStarted := s.started
	s.mu.Unlock()

	close(s.stopCh)
	if !wasStarted {
		return
	}

	select {
	case <-s.doneCh:
		log.Printf("[live-sched] sampler stopped")
	case <-time.After(2*s.interval + time.Second):
		log.Printf("[live-sched] WARNING: sampler did not stop within bound (callback hung?)")
	}
}

func (s *LiveScheduler) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.SetTime(s.clock().UTC())
			if s.OnTick != nil {
				s.OnTick(s.Len())
			}
		}
	}
}

// SetTime runs one scan pass at the given time: every event due at or
// before now fires, in (trigger time, insertion order) order. Normally
// driven by the sampler; exported for catch-up scans and tests. Callback
// failures are caught here, never propagated.
func (s *LiveScheduler) SetTime(now time.Time) {
	now = now.UTC()
	for {
		s.mu.Lock()
		e := s.q.popDue(now)
		s.mu.Unlock()
		if e == nil {
			return
		}

		s.scanEvent(e.ev, now)

		s.mu.Lock()
		s.q.reinsert(e)
		s.mu.Unlock()
	}
}

// ScanPastEvents replays the backlog of trigger times at or before now,
// typically once after handler setup completes. Semantically identical to
// SetTime.
func (s *LiveScheduler) ScanPastEvents(now time.Time) {
	s.SetTime(now)
}

// scanEvent catches the event fully up to now, absorbing callback errors
// and panics so the sampler survives. Each failed trigger time was already
// consumed by Scan, so the loop always makes progress.
func (s *LiveScheduler) scanEvent(ev *Event, now time.Time) {
	for !ev.Exhausted() && !ev.NextUTC().After(now) {
		if err := s.safeScan(ev, now); err != nil {
			s.errsTotal.Add(1)
			log.Printf("[live-sched] callback failed, continuing: %v", err)
			if s.OnError != nil {
				s.OnError(ev.Name(), err)
			}
			continue
		}
		return
	}
}

func (s *LiveScheduler) safeScan(ev *Event, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{event: ev.Name(), value: r}
		}
	}()
	return ev.Scan(now)
}

// ErrorCount returns the total number of callback failures caught.
func (s *LiveScheduler) ErrorCount() int64 {
	return s.errsTotal.Load()
}

// Snapshot returns a point-in-time view of the pending events.
func (s *LiveScheduler) Snapshot() Snapshot {
	s.mu.Lock()
	pending := s.q.states()
	s.mu.Unlock()
	return Snapshot{
		TakenAt: time.Now().UTC(),
		Mode:    "live",
		Pending: pending,
	}
}

func (s *LiveScheduler) fire(name string, at time.Time, dur time.Duration, err error) {
	if s.OnFire == nil {
		return
	}
	f := model.Firing{
		Event:       name,
		ScheduledAt: at,
		FiredAt:     time.Now().UTC(),
		Mode:        "live",
		DurationUs:  dur.Microseconds(),
		Seq:         s.fireSeq.Add(1),
	}
	if err != nil {
		f.Error = err.Error()
	}
	s.OnFire(f)
}

// IsPanicError reports whether a caught callback failure was a recovered
// panic rather than a returned error.
func IsPanicError(err error) bool {
	_, ok := err.(*panicError)
	return ok
}

// panicError wraps a recovered callback panic so it flows through the same
// failure path as a returned error.
type panicError struct {
	event string
	value any
}

func (p *panicError) Error() string {
	return "panic in scheduled event " + p.event + ": " + formatPanic(p.value)
}

func formatPanic(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return "unknown panic value"
	}
}
