package strategy

import (
	"log"
	"sync"
	"time"

	"sched-systemv1/internal/model"
)

// EODSweep is a sample algorithm that squares off every tracked security
// before each session close. It exists to exercise the end-of-day glue:
// it implements EndOfDayHandler, so a universe manager wires one
// before-close event per security to it.
type EODSweep struct {
	name string

	mu     sync.Mutex
	sweeps map[string]int // security key -> sweep count
}

// NewEODSweep creates the sample end-of-day sweep algorithm.
func NewEODSweep() *EODSweep {
	return &EODSweep{
		name:   "eod_sweep",
		sweeps: make(map[string]int),
	}
}

func (a *EODSweep) Name() string { return a.name }

// OnEndOfDay records one sweep for the security. The scheduled time is the
// original trigger time, so catch-up fires after a late start still carry
// the session they belong to.
func (a *EODSweep) OnEndOfDay(security model.Instrument, scheduledAt time.Time) error {
	a.mu.Lock()
	a.sweeps[security.Key()]++
	n := a.sweeps[security.Key()]
	a.mu.Unlock()

	log.Printf("[strategy] %s: sweep #%d %s (%s) scheduled=%s",
		a.name, n, security.TradingSymbol, security.Key(),
		scheduledAt.Format(time.RFC3339))
	return nil
}

// SweepCount returns how many end-of-day sweeps ran for the security.
func (a *EODSweep) SweepCount(security model.Instrument) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sweeps[security.Key()]
}

// TotalSweeps returns the sweep count across all securities.
func (a *EODSweep) TotalSweeps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, n := range a.sweeps {
		total += n
	}
	return total
}
