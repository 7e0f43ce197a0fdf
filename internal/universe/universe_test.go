package universe

import (
	"testing"
	"time"

	"sched-systemv1/internal/markethours"
	"sched-systemv1/internal/model"
	"sched-systemv1/internal/schedule"
	"sched-systemv1/internal/strategy"
)

var reliance = model.Instrument{
	Token:         "2885",
	Exchange:      "NSE",
	TradingSymbol: "RELIANCE-EQ",
	Name:          "Reliance Industries",
}

var tcs = model.Instrument{
	Token:         "11536",
	Exchange:      "NSE",
	TradingSymbol: "TCS-EQ",
	Name:          "Tata Consultancy Services",
}

// noHookAlgo tracks nothing and implements no capabilities.
type noHookAlgo struct{}

func (noHookAlgo) Name() string { return "no_hook" }

func TestAddSecuritySchedulesBeforeCloseEvent(t *testing.T) {
	sched := schedule.NewBacktestScheduler()
	algo := strategy.NewEODSweep()
	// Monday 2 March 2026, before the session opens.
	from := time.Date(2026, 3, 2, 8, 0, 0, 0, markethours.IST)
	m := NewManager(sched, algo, from, 10*time.Minute)

	m.AddSecurity(reliance)

	if sched.Len() != 1 {
		t.Fatalf("scheduler has %d events, want 1", sched.Len())
	}

	// Advance past the close: the sweep fires with the 15:20 IST trigger.
	closeTime := time.Date(2026, 3, 2, 15, 30, 0, 0, markethours.IST)
	if err := sched.SetTime(closeTime.UTC()); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	if got := algo.SweepCount(reliance); got != 1 {
		t.Fatalf("sweep count = %d, want 1", got)
	}
}

func TestEndOfDayFiresOncePerTradingDay(t *testing.T) {
	sched := schedule.NewBacktestScheduler()
	algo := strategy.NewEODSweep()
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, markethours.IST)
	m := NewManager(sched, algo, from, 10*time.Minute)

	m.AddSecurity(reliance)
	m.AddSecurity(tcs)

	// Jump across a full week in one step: Mon 2nd through Sun 8th. The
	// catch-up scan fires one sweep per security per trading day (Mon-Fri).
	end := time.Date(2026, 3, 8, 23, 0, 0, 0, markethours.IST)
	if err := sched.SetTime(end.UTC()); err != nil {
		t.Fatalf("SetTime: %v", err)
	}

	if got := algo.SweepCount(reliance); got != 5 {
		t.Errorf("reliance sweeps = %d, want 5", got)
	}
	if got := algo.SweepCount(tcs); got != 5 {
		t.Errorf("tcs sweeps = %d, want 5", got)
	}
	if got := algo.TotalSweeps(); got != 10 {
		t.Errorf("total sweeps = %d, want 10", got)
	}
}

func TestRemoveSecurityStopsEvents(t *testing.T) {
	sched := schedule.NewBacktestScheduler()
	algo := strategy.NewEODSweep()
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, markethours.IST)
	m := NewManager(sched, algo, from, 10*time.Minute)

	m.AddSecurity(reliance)
	m.RemoveSecurity(reliance)

	if sched.Len() != 0 {
		t.Fatalf("scheduler has %d events after remove, want 0", sched.Len())
	}
	if m.Contains(reliance) {
		t.Error("universe still contains removed security")
	}

	end := time.Date(2026, 3, 6, 23, 0, 0, 0, markethours.IST)
	if err := sched.SetTime(end.UTC()); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	if got := algo.SweepCount(reliance); got != 0 {
		t.Errorf("sweeps after remove = %d, want 0", got)
	}
}

func TestDuplicateAddIsNoOp(t *testing.T) {
	sched := schedule.NewBacktestScheduler()
	algo := strategy.NewEODSweep()
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, markethours.IST)
	m := NewManager(sched, algo, from, 10*time.Minute)

	m.AddSecurity(reliance)
	m.AddSecurity(reliance)

	if sched.Len() != 1 {
		t.Fatalf("scheduler has %d events, want 1", sched.Len())
	}
	if m.Size() != 1 {
		t.Fatalf("universe size = %d, want 1", m.Size())
	}
}

func TestNoEndOfDayHookSchedulesNothing(t *testing.T) {
	sched := schedule.NewBacktestScheduler()
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, markethours.IST)
	m := NewManager(sched, noHookAlgo{}, from, 0)

	m.AddSecurity(reliance)

	if sched.Len() != 0 {
		t.Fatalf("scheduler has %d events, want 0", sched.Len())
	}
	if !m.Contains(reliance) {
		t.Error("security should still be tracked as a member")
	}

	// Removal of a member without events must not panic or touch the scheduler.
	m.RemoveSecurity(reliance)
	if m.Size() != 0 {
		t.Errorf("universe size = %d, want 0", m.Size())
	}
}

func TestRemoveUnknownSecurityIsNoOp(t *testing.T) {
	sched := schedule.NewBacktestScheduler()
	algo := strategy.NewEODSweep()
	m := NewManager(sched, algo, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 0)

	m.RemoveSecurity(tcs)

	if m.Size() != 0 {
		t.Errorf("universe size = %d, want 0", m.Size())
	}
}
