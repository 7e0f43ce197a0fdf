// Package strategy defines the algorithm-facing surface of the scheduling
// engine.
//
// An Algorithm is driven entirely by scheduled events: the scheduler fires
// its callbacks at the trigger times the algorithm registered, and optional
// capabilities (end-of-day handling) are detected once via interface
// assertion rather than configured. The scheduling core never imports this
// package.
package strategy

import (
	"time"

	"sched-systemv1/internal/model"
)

// Algorithm is the minimal contract for anything the platform runs.
type Algorithm interface {
	// Name returns the unique name of the algorithm, used as an event-name
	// prefix and in logs.
	Name() string
}

// EndOfDayHandler is an optional Algorithm capability. Algorithms that
// implement it receive one callback per tracked security shortly before
// each session close. Detection happens once, by interface assertion,
// when the algorithm is wired to a universe.
type EndOfDayHandler interface {
	// OnEndOfDay is called with the security and the ORIGINAL scheduled
	// trigger time (not the clock value that caused the fire). A non-nil
	// error is handled by the owning scheduler: it aborts a backtest and
	// is logged-and-counted in live mode.
	OnEndOfDay(security model.Instrument, scheduledAt time.Time) error
}
