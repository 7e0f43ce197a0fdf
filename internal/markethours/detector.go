// Session rollover detection for the live scheduling daemon: compares
// consecutive wall-clock samples and reports when the trading session
// closed or a new calendar day began between them.
package markethours

import (
	"log"
	"time"
)

// RolloverKind classifies a detected boundary.
type RolloverKind int

const (
	RolloverNone RolloverKind = iota
	RolloverSessionClose
	RolloverNewDay
)

func (k RolloverKind) String() string {
	switch k {
	case RolloverSessionClose:
		return "session-close"
	case RolloverNewDay:
		return "new-day"
	default:
		return "none"
	}
}

// RolloverDetector observes successive time samples and detects the
// session-close boundary and calendar-day rollover between them.
// Not safe for concurrent use; feed it from a single goroutine.
type RolloverDetector struct {
	last time.Time

	// Quiet suppresses rollover logging (for tests).
	Quiet bool
}

// NewRolloverDetector starts detection from the given time.
func NewRolloverDetector(start time.Time) *RolloverDetector {
	return &RolloverDetector{last: start.In(IST)}
}

// Observe records a sample and returns the boundary crossed since the
// previous sample, if any. A sample that crosses both the session close
// and midnight reports the day rollover (the later boundary).
func (d *RolloverDetector) Observe(now time.Time) RolloverKind {
	ist := now.In(IST)
	prev := d.last
	d.last = ist

	if ist.YearDay() != prev.YearDay() || ist.Year() != prev.Year() {
		if !d.Quiet {
			log.Printf("[markethours] day rollover: %s -> %s",
				prev.Format("2006-01-02"), ist.Format("2006-01-02"))
		}
		return RolloverNewDay
	}

	cl := CloseOn(ist)
	if prev.Before(cl) && !ist.Before(cl) && IsTradingDay(ist) {
		if !d.Quiet {
			log.Printf("[markethours] session closed at %s", cl.Format("15:04"))
		}
		return RolloverSessionClose
	}
	return RolloverNone
}
