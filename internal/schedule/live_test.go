package schedule

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLive_ScanFiresDueEventsInInsertionOrder(t *testing.T) {
	s := NewLiveScheduler(time.Second)
	var order []string
	var mu sync.Mutex
	cb := func(name string, at time.Time) error {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		return nil
	}
	for _, name := range []string{"A", "B", "C"} {
		s.Add(NewEvent(name, At(base), cb))
	}

	s.SetTime(base)

	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Errorf("expected insertion order A,B,C, got %v", order)
	}
}

func TestLive_CallbackErrorDoesNotStopScanning(t *testing.T) {
	s := NewLiveScheduler(time.Second)
	var errEvents []string
	s.OnError = func(event string, err error) {
		errEvents = append(errEvents, event)
	}

	okFired := 0
	s.Add(NewEvent("bad", Times(base, base.Add(time.Minute)), func(string, time.Time) error {
		return errors.New("broken task")
	}))
	s.Add(NewEvent("ok", At(base.Add(time.Minute)), func(string, time.Time) error {
		okFired++
		return nil
	}))

	s.SetTime(base.Add(time.Hour))

	if okFired != 1 {
		t.Errorf("healthy event did not fire after another event's failure: %d", okFired)
	}
	if s.ErrorCount() != 2 {
		t.Errorf("expected 2 caught failures (both catch-up times), got %d", s.ErrorCount())
	}
	if len(errEvents) != 2 || errEvents[0] != "bad" {
		t.Errorf("expected OnError for event 'bad' twice, got %v", errEvents)
	}
}

func TestLive_CallbackPanicIsCaught(t *testing.T) {
	s := NewLiveScheduler(time.Second)
	otherFired := false
	s.Add(NewEvent("panicky", At(base), func(string, time.Time) error {
		panic("task blew up")
	}))
	s.Add(NewEvent("other", At(base), func(string, time.Time) error {
		otherFired = true
		return nil
	}))

	s.SetTime(base) // must not panic out

	if !otherFired {
		t.Error("subsequent event did not fire after a panic")
	}
	if s.ErrorCount() != 1 {
		t.Errorf("expected 1 caught failure, got %d", s.ErrorCount())
	}
}

func TestLive_SamplerFiresAndStops(t *testing.T) {
	s := NewLiveScheduler(5 * time.Millisecond)

	var fired atomic.Int64
	s.Add(NewEvent("soon", At(time.Now().UTC()), func(string, time.Time) error {
		fired.Add(1)
		return nil
	}))

	s.Start()

	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("sampler never fired the due event")
		case <-time.After(time.Millisecond):
		}
	}

	stopStart := time.Now()
	s.Stop()
	if elapsed := time.Since(stopStart); elapsed > time.Second {
		t.Errorf("Stop took %v, expected bounded wait", elapsed)
	}
	if fired.Load() != 1 {
		t.Errorf("expected exactly one fire, got %d", fired.Load())
	}
}

func TestLive_StopIsIdempotentAndSafeWithoutStart(t *testing.T) {
	s := NewLiveScheduler(time.Second)
	s.Stop() // never started
	s.Stop() // twice

	started := NewLiveScheduler(time.Millisecond)
	started.Start()
	started.Stop()
	started.Stop()
}

func TestLive_ReentrantAddRemoveFromCallbackNoDeadlock(t *testing.T) {
	s := NewLiveScheduler(time.Second)

	childFired := false
	s.Add(NewEvent("parent", At(base), func(string, time.Time) error {
		// Reentrant mutation from inside a firing callback.
		s.Add(NewEvent("child", At(base), func(string, time.Time) error {
			childFired = true
			return nil
		}))
		s.RemoveByName("parent")
		return nil
	}))

	done := make(chan struct{})
	go func() {
		s.SetTime(base)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant Add/Remove deadlocked the scan")
	}
	if !childFired {
		t.Error("event added from inside callback did not fire within the same scan")
	}
}

// Concurrent Add/Remove from one goroutine while another repeatedly scans.
// Verifies no corruption and that final membership reflects net changes.
func TestLive_ConcurrentAddRemoveWhileScanning(t *testing.T) {
	const iterations = 100_000
	s := NewLiveScheduler(time.Second)
	far := base.Add(1000 * time.Hour) // never due during the test

	scanDone := make(chan struct{})
	stopScans := make(chan struct{})
	go func() {
		defer close(scanDone)
		now := base
		for {
			select {
			case <-stopScans:
				return
			default:
				now = now.Add(time.Second)
				s.SetTime(now)
			}
		}
	}()

	kept := 0
	for i := 0; i < iterations; i++ {
		ev := NewEvent("churn", At(far), func(string, time.Time) error { return nil })
		s.Add(ev)
		if i%2 == 0 {
			s.Remove(ev)
		} else {
			kept++
		}
	}
	close(stopScans)
	<-scanDone

	if got := s.Len(); got != kept {
		t.Errorf("final membership %d does not reflect net adds/removes %d", got, kept)
	}
}

func TestLive_ScanPastEventsReplaysBacklog(t *testing.T) {
	s := NewLiveScheduler(time.Second)
	fired := 0
	s.Add(NewEvent("backlog", Times(base, base.Add(time.Minute), base.Add(2*time.Minute)),
		func(string, time.Time) error {
			fired++
			return nil
		}))

	s.ScanPastEvents(base.Add(time.Hour))
	if fired != 3 {
		t.Errorf("expected 3 backlog fires, got %d", fired)
	}
}

// Snapshot readers race the sampler during a long catch-up scan: the
// scanned event's cursor advances outside the lock, so snapshots must see
// only the queue's own cached trigger times.
func TestLive_SnapshotDuringCatchUpScan(t *testing.T) {
	s := NewLiveScheduler(time.Hour) // sampler never started; scans are manual

	var fired atomic.Int64
	s.Add(NewEvent("tick", Every(base, time.Second), func(string, time.Time) error {
		fired.Add(1)
		return nil
	}))

	stop := make(chan struct{})
	var readers sync.WaitGroup
	var badSnaps atomic.Int64
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					snap := s.Snapshot()
					if len(snap.Pending) != 1 || snap.Pending[0].Name != "tick" {
						badSnaps.Add(1)
					}
				}
			}
		}()
	}

	now := base
	for i := 0; i < 50; i++ {
		now = now.Add(100 * time.Second)
		s.SetTime(now) // each jump replays ~100 due triggers
	}
	close(stop)
	readers.Wait()

	// base..base+5000s inclusive, one trigger per second.
	if got := fired.Load(); got != 5001 {
		t.Errorf("expected 5001 catch-up fires, got %d", got)
	}
	if n := badSnaps.Load(); n != 0 {
		t.Errorf("%d snapshots saw a corrupted pending list", n)
	}
}

// Re-adding a registered event must be a complete no-op, even while the
// event is mid-scan on another goroutine.
func TestLive_ConcurrentDuplicateAddIsNoOp(t *testing.T) {
	s := NewLiveScheduler(time.Hour)

	var fired atomic.Int64
	ev := NewEvent("dup", Every(base, time.Second), func(string, time.Time) error {
		fired.Add(1)
		return nil
	})
	s.Add(ev)

	stop := make(chan struct{})
	var adders sync.WaitGroup
	for i := 0; i < 4; i++ {
		adders.Add(1)
		go func() {
			defer adders.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.Add(ev)
				}
			}
		}()
	}

	now := base
	for i := 0; i < 100; i++ {
		now = now.Add(10 * time.Second)
		s.SetTime(now)
	}
	close(stop)
	adders.Wait()

	if got := s.Len(); got != 1 {
		t.Errorf("duplicate adds changed membership: %d", got)
	}
	// base..base+1000s inclusive; duplicates must not re-fire or reset.
	if got := fired.Load(); got != 1001 {
		t.Errorf("expected 1001 fires, got %d", got)
	}
}

func TestLive_SnapshotReportsPending(t *testing.T) {
	s := NewLiveScheduler(time.Second)
	s.Add(NewEvent("b", At(base.Add(time.Minute)), func(string, time.Time) error { return nil }))
	s.Add(NewEvent("a", At(base), func(string, time.Time) error { return nil }))

	snap := s.Snapshot()
	if snap.Mode != "live" {
		t.Errorf("expected mode live, got %s", snap.Mode)
	}
	if len(snap.Pending) != 2 || snap.Pending[0].Name != "a" {
		t.Errorf("unexpected snapshot pending: %v", snap.Pending)
	}
}
