package markethours

import (
	"testing"
	"time"
)

func quietDetector(start time.Time) *RolloverDetector {
	d := NewRolloverDetector(start)
	d.Quiet = true
	return d
}

func TestDetector_SessionClose(t *testing.T) {
	// Monday 2 March 2026, a trading day.
	before := time.Date(2026, 3, 2, 15, 29, 50, 0, IST)
	d := quietDetector(before)

	// Still inside the session
	if kind := d.Observe(time.Date(2026, 3, 2, 15, 29, 59, 0, IST)); kind != RolloverNone {
		t.Errorf("before close: got %v, want none", kind)
	}

	// Sample lands exactly on the close boundary
	if kind := d.Observe(time.Date(2026, 3, 2, 15, 30, 0, 0, IST)); kind != RolloverSessionClose {
		t.Errorf("at close: got %v, want session-close", kind)
	}

	// Subsequent samples after close report nothing
	if kind := d.Observe(time.Date(2026, 3, 2, 15, 31, 0, 0, IST)); kind != RolloverNone {
		t.Errorf("after close: got %v, want none", kind)
	}
}

func TestDetector_SessionCloseSkippedEntirely(t *testing.T) {
	// A single sample jumps from mid-session straight past the close.
	d := quietDetector(time.Date(2026, 3, 2, 14, 0, 0, 0, IST))
	if kind := d.Observe(time.Date(2026, 3, 2, 18, 0, 0, 0, IST)); kind != RolloverSessionClose {
		t.Errorf("jump past close: got %v, want session-close", kind)
	}
}

func TestDetector_NewDay(t *testing.T) {
	d := quietDetector(time.Date(2026, 3, 2, 23, 59, 50, 0, IST))
	if kind := d.Observe(time.Date(2026, 3, 3, 0, 0, 5, 0, IST)); kind != RolloverNewDay {
		t.Errorf("midnight crossing: got %v, want new-day", kind)
	}
}

func TestDetector_NewDayWinsOverSessionClose(t *testing.T) {
	// One sample crosses both the close and midnight: the later boundary
	// (day rollover) is reported.
	d := quietDetector(time.Date(2026, 3, 2, 15, 0, 0, 0, IST))
	if kind := d.Observe(time.Date(2026, 3, 3, 1, 0, 0, 0, IST)); kind != RolloverNewDay {
		t.Errorf("close+midnight crossing: got %v, want new-day", kind)
	}
}

func TestDetector_NoCloseOnHoliday(t *testing.T) {
	// Saturday 7 March 2026: crossing 15:30 on a non-trading day is not a
	// session close.
	d := quietDetector(time.Date(2026, 3, 7, 15, 0, 0, 0, IST))
	if kind := d.Observe(time.Date(2026, 3, 7, 16, 0, 0, 0, IST)); kind != RolloverNone {
		t.Errorf("weekend close crossing: got %v, want none", kind)
	}
}

func TestRolloverKindString(t *testing.T) {
	if RolloverSessionClose.String() != "session-close" {
		t.Errorf("got %q", RolloverSessionClose.String())
	}
	if RolloverNewDay.String() != "new-day" {
		t.Errorf("got %q", RolloverNewDay.String())
	}
	if RolloverNone.String() != "none" {
		t.Errorf("got %q", RolloverNone.String())
	}
}
