// Package universe tracks the set of securities an algorithm trades and
// translates membership changes into scheduled events. The scheduling core
// knows nothing of securities: all it sees is named events being added and
// removed.
package universe

import (
	"log"
	"sync"
	"time"

	"sched-systemv1/internal/model"
	"sched-systemv1/internal/rules"
	"sched-systemv1/internal/schedule"
	"sched-systemv1/internal/strategy"
)

// Scheduler is the narrow scheduler surface the universe glue needs. Both
// schedule.BacktestScheduler and schedule.LiveScheduler satisfy it.
type Scheduler interface {
	Add(ev *schedule.Event)
	RemoveByName(name string) int
}

// DefaultCloseOffset is how long before session close the per-security
// end-of-day event fires.
const DefaultCloseOffset = 10 * time.Minute

// Manager owns universe membership for one algorithm. When the algorithm
// implements strategy.EndOfDayHandler, each security added gets one
// before-close event on trading days; removing the security removes the
// event. The capability check runs once at construction.
type Manager struct {
	sched Scheduler
	algo  strategy.Algorithm
	eod   strategy.EndOfDayHandler // nil when the algorithm lacks the hook

	from        time.Time
	closeOffset time.Duration

	mu      sync.Mutex
	members map[string]model.Instrument
}

// NewManager wires an algorithm's universe to a scheduler. from anchors the
// event sequences: per-security events fire on trading days at or after it.
// A zero closeOffset falls back to DefaultCloseOffset.
func NewManager(sched Scheduler, algo strategy.Algorithm, from time.Time, closeOffset time.Duration) *Manager {
	if closeOffset <= 0 {
		closeOffset = DefaultCloseOffset
	}
	m := &Manager{
		sched:       sched,
		algo:        algo,
		from:        from.UTC(),
		closeOffset: closeOffset,
		members:     make(map[string]model.Instrument),
	}
	if h, ok := algo.(strategy.EndOfDayHandler); ok {
		m.eod = h
	} else {
		log.Printf("[universe] %s has no end-of-day hook, securities tracked without events", algo.Name())
	}
	return m
}

// AddSecurity brings a security into the universe. Adding a member already
// present is a no-op.
func (m *Manager) AddSecurity(inst model.Instrument) {
	key := inst.Key()

	m.mu.Lock()
	if _, exists := m.members[key]; exists {
		m.mu.Unlock()
		return
	}
	m.members[key] = inst
	m.mu.Unlock()

	if m.eod == nil {
		return
	}

	seq := rules.Sequence(m.from, rules.TradingDays(), rules.BeforeMarketClose(m.closeOffset))
	ev := schedule.NewEvent(m.eventName(inst), seq, func(name string, scheduledAt time.Time) error {
		return m.eod.OnEndOfDay(inst, scheduledAt)
	})
	m.sched.Add(ev)
	log.Printf("[universe] %s: added %s, end-of-day event %s next=%s",
		m.algo.Name(), key, ev.Name(), ev.NextUTC().Format(time.RFC3339))
}

// RemoveSecurity drops a security from the universe and removes its
// end-of-day event. Removing an unknown security is a no-op.
func (m *Manager) RemoveSecurity(inst model.Instrument) {
	key := inst.Key()

	m.mu.Lock()
	_, exists := m.members[key]
	delete(m.members, key)
	m.mu.Unlock()

	if !exists {
		return
	}
	if m.eod != nil {
		removed := m.sched.RemoveByName(m.eventName(inst))
		log.Printf("[universe] %s: removed %s (%d event(s))", m.algo.Name(), key, removed)
	}
}

// Contains reports whether the security is a current member.
func (m *Manager) Contains(inst model.Instrument) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.members[inst.Key()]
	return ok
}

// Size returns the current universe size.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members)
}

// Members returns a snapshot of the current members.
func (m *Manager) Members() []model.Instrument {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Instrument, 0, len(m.members))
	for _, inst := range m.members {
		out = append(out, inst)
	}
	return out
}

func (m *Manager) eventName(inst model.Instrument) string {
	return "eod:" + m.algo.Name() + ":" + inst.Key()
}
