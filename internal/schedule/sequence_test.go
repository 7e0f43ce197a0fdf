package schedule

import (
	"testing"
	"time"
)

func TestTimes_YieldsInOrderThenExhausts(t *testing.T) {
	t1 := base
	t2 := base.Add(time.Minute)
	seq := Times(t1, t2)

	got, ok := seq()
	if !ok || !got.Equal(t1) {
		t.Fatalf("first: expected %v ok=true, got %v ok=%v", t1, got, ok)
	}
	got, ok = seq()
	if !ok || !got.Equal(t2) {
		t.Fatalf("second: expected %v ok=true, got %v ok=%v", t2, got, ok)
	}
	if _, ok = seq(); ok {
		t.Error("expected exhaustion after two values")
	}
	// Must keep returning ok=false.
	if _, ok = seq(); ok {
		t.Error("exhausted sequence yielded a value again")
	}
}

func TestAt_SingleValue(t *testing.T) {
	seq := At(base)
	got, ok := seq()
	if !ok || !got.Equal(base) {
		t.Fatalf("expected %v, got %v ok=%v", base, got, ok)
	}
	if _, ok = seq(); ok {
		t.Error("At must yield exactly one value")
	}
}

func TestEvery_StepsForever(t *testing.T) {
	seq := Every(base, time.Hour)
	for i := 0; i < 100; i++ {
		got, ok := seq()
		if !ok {
			t.Fatal("Every must never exhaust")
		}
		if want := base.Add(time.Duration(i) * time.Hour); !got.Equal(want) {
			t.Fatalf("step %d: expected %v, got %v", i, want, got)
		}
	}
}
