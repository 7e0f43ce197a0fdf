package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"sched-systemv1/internal/model"
	"sched-systemv1/internal/schedule"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestRunFiresAllEventsInRange(t *testing.T) {
	sched := schedule.NewBacktestScheduler()

	var fired []time.Time
	cb := func(name string, at time.Time) error {
		fired = append(fired, at)
		return nil
	}
	sched.Add(schedule.NewEvent("hourly", schedule.Every(base, time.Hour), cb))

	r := NewRunner(sched, Config{
		From: base.Add(-time.Minute),
		To:   base.Add(3*time.Hour + time.Minute),
	})
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// base, +1h, +2h, +3h
	if len(fired) != 4 {
		t.Fatalf("fired %d times, want 4: %v", len(fired), fired)
	}
	for i, at := range fired {
		want := base.Add(time.Duration(i) * time.Hour)
		if !at.Equal(want) {
			t.Errorf("fire %d at %s, want %s", i, at, want)
		}
	}
	if sum.Fires != 4 {
		t.Errorf("summary fires = %d, want 4", sum.Fires)
	}
	if sum.Errors != 0 {
		t.Errorf("summary errors = %d, want 0", sum.Errors)
	}
	if !sum.SimEnd.Equal(r.cfg.To.UTC()) {
		t.Errorf("sim end = %s, want %s", sum.SimEnd, r.cfg.To.UTC())
	}
}

func TestRunReplaysBacklogAtStartBoundary(t *testing.T) {
	sched := schedule.NewBacktestScheduler()

	fires := 0
	// Both trigger times are at or before From: the start-boundary replay
	// must fire them without any clock jump.
	sched.Add(schedule.NewEvent("stale", schedule.Times(base.Add(-time.Hour), base), func(string, time.Time) error {
		fires++
		return nil
	}))

	r := NewRunner(sched, Config{From: base, To: base.Add(time.Hour)})
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fires != 2 {
		t.Fatalf("fired %d times, want 2", fires)
	}
	if sum.Steps != 0 {
		t.Errorf("steps = %d, want 0 (backlog needs no jumps)", sum.Steps)
	}
}

func TestRunStopsAtRangeEnd(t *testing.T) {
	sched := schedule.NewBacktestScheduler()

	fires := 0
	sched.Add(schedule.NewEvent("spill", schedule.Times(
		base.Add(time.Hour),
		base.Add(48*time.Hour), // beyond To
	), func(string, time.Time) error {
		fires++
		return nil
	}))

	r := NewRunner(sched, Config{From: base, To: base.Add(2 * time.Hour)})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fires != 1 {
		t.Fatalf("fired %d times, want 1 (second trigger is past To)", fires)
	}

	// The spilled trigger stays pending for the caller to inspect.
	next, ok := sched.NextTime()
	if !ok {
		t.Fatal("expected a pending trigger past the range end")
	}
	if want := base.Add(48 * time.Hour); !next.Equal(want) {
		t.Errorf("pending trigger = %s, want %s", next, want)
	}
}

func TestRunPropagatesCallbackError(t *testing.T) {
	sched := schedule.NewBacktestScheduler()

	boom := errors.New("broken algorithm")
	sched.Add(schedule.NewEvent("ok", schedule.At(base.Add(time.Hour)), func(string, time.Time) error {
		return nil
	}))
	sched.Add(schedule.NewEvent("bad", schedule.At(base.Add(2*time.Hour)), func(string, time.Time) error {
		return boom
	}))

	r := NewRunner(sched, Config{From: base, To: base.Add(3 * time.Hour)})
	sum, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected callback error to halt the run")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}
	if sum.Fires != 2 {
		t.Errorf("summary fires = %d, want 2 (both fired, second errored)", sum.Fires)
	}
	if sum.Errors != 1 {
		t.Errorf("summary errors = %d, want 1", sum.Errors)
	}
}

func TestRunRejectsEmptyRange(t *testing.T) {
	r := NewRunner(schedule.NewBacktestScheduler(), Config{From: base, To: base})
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for empty range")
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	sched := schedule.NewBacktestScheduler()
	sched.Add(schedule.NewEvent("slow", schedule.Every(base, time.Hour), func(string, time.Time) error {
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(sched, Config{From: base.Add(time.Minute), To: base.Add(100 * time.Hour)})
	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestRunnerChainsExistingOnFire(t *testing.T) {
	sched := schedule.NewBacktestScheduler()
	observed := 0
	sched.OnFire = func(f model.Firing) { observed++ }

	sched.Add(schedule.NewEvent("once", schedule.At(base.Add(time.Hour)), func(string, time.Time) error {
		return nil
	}))

	r := NewRunner(sched, Config{From: base, To: base.Add(2 * time.Hour)})
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Fires != 1 {
		t.Errorf("runner counted %d fires, want 1", sum.Fires)
	}
	if observed != 1 {
		t.Errorf("pre-installed hook observed %d fires, want 1", observed)
	}
}
