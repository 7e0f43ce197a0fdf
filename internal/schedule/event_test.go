package schedule

import (
	"errors"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestEvent_DoesNotFireBeforeTime(t *testing.T) {
	fired := 0
	ev := NewEvent("one-shot", At(base), func(name string, at time.Time) error {
		fired++
		return nil
	})

	if err := ev.Scan(base.Add(-time.Second)); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if fired != 0 {
		t.Errorf("expected no fires before trigger time, got %d", fired)
	}
	if err := ev.Scan(base); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if fired != 1 {
		t.Errorf("expected exactly one fire at trigger time, got %d", fired)
	}
}

func TestEvent_CatchUpFiresEachMissedTimeInOrder(t *testing.T) {
	t1 := base
	t2 := base.Add(time.Minute)
	t3 := base.Add(2 * time.Minute)

	var got []time.Time
	ev := NewEvent("catch-up", Times(t1, t2, t3), func(name string, at time.Time) error {
		got = append(got, at)
		return nil
	})

	// Jump straight past all three trigger times.
	if err := ev.Scan(t3.Add(time.Second)); err != nil {
		t.Fatalf("scan error: %v", err)
	}

	want := []time.Time{t1, t2, t3}
	if len(got) != len(want) {
		t.Fatalf("expected %d fires, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("fire %d: expected original scheduled time %v, got %v", i, want[i], got[i])
		}
	}
	if !ev.Exhausted() {
		t.Error("expected event exhausted after all times fired")
	}
	if !ev.NextUTC().Equal(EndOfTime) {
		t.Errorf("expected next=EndOfTime after exhaustion, got %v", ev.NextUTC())
	}
}

func TestEvent_InertAfterExhaustion(t *testing.T) {
	fired := 0
	ev := NewEvent("inert", At(base), func(name string, at time.Time) error {
		fired++
		return nil
	})

	ev.Scan(base)
	ev.Scan(base.Add(time.Hour))
	ev.Scan(base.Add(24 * time.Hour))

	if fired != 1 {
		t.Errorf("exhausted event fired again: total %d fires", fired)
	}
}

func TestEvent_CallbackErrorPropagatesAndConsumesTime(t *testing.T) {
	boom := errors.New("boom")
	fired := 0
	ev := NewEvent("failing", Times(base, base.Add(time.Minute)), func(name string, at time.Time) error {
		fired++
		if fired == 1 {
			return boom
		}
		return nil
	})

	err := ev.Scan(base.Add(2 * time.Minute))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped callback error, got %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected scan to stop at first error, got %d fires", fired)
	}

	// The failed time was consumed; the next scan fires only the second time.
	if err := ev.Scan(base.Add(2 * time.Minute)); err != nil {
		t.Fatalf("second scan error: %v", err)
	}
	if fired != 2 {
		t.Errorf("expected one more fire for the remaining time, got total %d", fired)
	}
}

func TestEvent_EverySequenceKeepsFiring(t *testing.T) {
	fired := 0
	ev := NewEvent("daily", Every(base, 24*time.Hour), func(name string, at time.Time) error {
		fired++
		return nil
	})

	// 10 days pass in one jump: 11 trigger times are due (day 0 through 10).
	if err := ev.Scan(base.Add(10 * 24 * time.Hour)); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if fired != 11 {
		t.Errorf("expected 11 fires across 10 days, got %d", fired)
	}
	if ev.Exhausted() {
		t.Error("unbounded sequence must never exhaust")
	}
	if want := base.Add(11 * 24 * time.Hour); !ev.NextUTC().Equal(want) {
		t.Errorf("expected next=%v, got %v", want, ev.NextUTC())
	}
}

func TestEvent_CallbackReceivesName(t *testing.T) {
	var gotName string
	ev := NewEvent("named-ev", At(base), func(name string, at time.Time) error {
		gotName = name
		return nil
	})
	ev.Scan(base)
	if gotName != "named-ev" {
		t.Errorf("expected callback name %q, got %q", "named-ev", gotName)
	}
}
