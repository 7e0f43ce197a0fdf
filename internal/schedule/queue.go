package schedule

import (
	"container/heap"
	"time"
)

// entry pairs an event with its insertion sequence number. The heap orders
// entries by (next trigger time, insertion seq), which is what makes
// equal-timestamp events fire in the exact order they were added.
//
// next caches the event's next trigger time and is only read or written
// while the owner holds its lock. Event.NextUTC itself is mutated by Scan
// OUTSIDE the lock (the entry is popped off the heap while it scans), so
// every queue read goes through this cache, never through the event. While
// an event is out scanning, the cache holds its pre-scan value.
type entry struct {
	ev      *Event
	next    time.Time
	seq     int64
	removed bool // tombstone: discarded lazily when it surfaces at the head
}

type eventHeap []*entry

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].seq < h[j].seq
	}
	return h[i].next.Before(h[j].next)
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// queue is the pending-event collection shared by both scheduler variants:
// a priority queue keyed by (next trigger time, insertion seq) with lazy
// deletion. Remove tombstones the entry in place; tombstones fall out when
// they reach the head, so membership changes stay O(log n) without
// disturbing the ordering of live entries.
//
// Not safe for concurrent use — callers provide locking.
type queue struct {
	h       eventHeap
	entries map[*Event]*entry
	nextSeq int64
}

func newQueue() *queue {
	return &queue{
		entries: make(map[*Event]*entry),
	}
}

// add registers an event, reporting whether it was newly added. Adding the
// same *Event twice is a no-op returning false; adding a distinct event
// that happens to share a name is allowed, and both fire.
func (q *queue) add(ev *Event) bool {
	if e, ok := q.entries[ev]; ok && !e.removed {
		return false
	}
	q.nextSeq++
	e := &entry{ev: ev, next: ev.NextUTC(), seq: q.nextSeq}
	q.entries[ev] = e
	heap.Push(&q.h, e)
	return true
}

// remove tombstones an event. Removing an event not present (or already
// removed) is a no-op, returning false.
func (q *queue) remove(ev *Event) bool {
	e, ok := q.entries[ev]
	if !ok || e.removed {
		return false
	}
	e.removed = true
	delete(q.entries, ev)
	return true
}

// removeName tombstones every live event bearing the given name and
// returns how many were removed.
func (q *queue) removeName(name string) int {
	n := 0
	for ev := range q.entries {
		if ev.Name() == name {
			if q.remove(ev) {
				n++
			}
		}
	}
	return n
}

// contains reports live membership.
func (q *queue) contains(ev *Event) bool {
	e, ok := q.entries[ev]
	return ok && !e.removed
}

// size returns the number of live (non-tombstoned) events, including
// exhausted-but-retained ones.
func (q *queue) size() int {
	return len(q.entries)
}

// popDue removes and returns the earliest live entry whose next trigger
// time is at or before now, discarding any tombstones that surface on the
// way. Returns nil when no entry is due. The caller must hand the entry
// back via reinsert after scanning it.
func (q *queue) popDue(now time.Time) *entry {
	for q.h.Len() > 0 {
		head := q.h[0]
		if head.removed {
			heap.Pop(&q.h)
			continue
		}
		if head.next.After(now) {
			return nil
		}
		return heap.Pop(&q.h).(*entry)
	}
	return nil
}

// reinsert returns a popped entry to the heap under its (advanced) next
// trigger time, refreshing the cached time now that the scan is over.
// Entries removed while they were out scanning are dropped.
func (q *queue) reinsert(e *entry) {
	if e.removed {
		return
	}
	e.next = e.ev.NextUTC()
	heap.Push(&q.h, e)
}

// peekNext returns the earliest live trigger time, skipping tombstones and
// exhausted events. ok is false when nothing will ever fire again.
func (q *queue) peekNext() (time.Time, bool) {
	for q.h.Len() > 0 {
		head := q.h[0]
		if head.removed {
			heap.Pop(&q.h)
			continue
		}
		if head.next.Equal(EndOfTime) {
			return time.Time{}, false
		}
		return head.next, true
	}
	return time.Time{}, false
}

// states returns a point-in-time view of all live entries, ordered by
// (next trigger time, insertion seq). Reads only entry fields, so it is
// safe under the owner's lock even while an event is out scanning.
func (q *queue) states() []EventState {
	out := make([]EventState, 0, len(q.entries))
	for ev, e := range q.entries {
		if e.removed {
			continue
		}
		out = append(out, EventState{
			Name:    ev.Name(),
			NextUTC: e.next,
			Seq:     e.seq,
		})
	}
	sortStates(out)
	return out
}

// sortStates orders by (time, seq) — insertion sort, snapshot sizes are small.
func sortStates(s []EventState) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(s[j], s[j-1]); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func less(a, b EventState) bool {
	if a.NextUTC.Equal(b.NextUTC) {
		return a.Seq < b.Seq
	}
	return a.NextUTC.Before(b.NextUTC)
}
