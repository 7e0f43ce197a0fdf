package bus

import (
	"context"
	"testing"
	"time"

	"sched-systemv1/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.Firing, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go fo.Run(ctx, input)

	firing := model.Firing{
		Event:       "eod-sweep",
		ScheduledAt: time.Date(2026, 3, 2, 9, 50, 0, 0, time.UTC),
		FiredAt:     time.Date(2026, 3, 2, 9, 50, 1, 0, time.UTC),
		Mode:        "live",
	}

	input <- firing
	time.Sleep(50 * time.Millisecond)

	select {
	case f := <-out1:
		if f.Event != "eod-sweep" {
			t.Errorf("out1: expected event eod-sweep, got %s", f.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for firing")
	}

	select {
	case f := <-out2:
		if f.Event != "eod-sweep" {
			t.Errorf("out2: expected event eod-sweep, got %s", f.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for firing")
	}

	cancel()
}

func TestFanOut_SlowConsumerDoesNotBlock(t *testing.T) {
	fo := New(1)
	slow := fo.Subscribe()
	_ = slow // never read

	dropped := 0
	fo.OnDrop = func(int) { dropped++ }

	input := make(chan model.Firing, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	for i := 0; i < 5; i++ {
		input <- model.Firing{Event: "tick", Seq: int64(i)}
	}
	time.Sleep(50 * time.Millisecond)

	// Buffer holds one, the rest must have been dropped, not blocked on.
	if dropped != 4 {
		t.Errorf("expected 4 drops for saturated subscriber, got %d", dropped)
	}
}
