package gateway

import "sync"

// bufferedFrame is one broadcast firing envelope retained for backfill.
type bufferedFrame struct {
	Seq  int64
	Data []byte // marshaled envelope, ready to write to a socket
}

// ReplayBuffer retains the most recent firing envelopes broadcast on a
// channel so a client that reconnects or reports a sequence gap can be
// backfilled without a journal read. Fixed capacity; pushing into a full
// buffer evicts the oldest envelope.
//
// Safe for concurrent use.
type ReplayBuffer struct {
	mu     sync.RWMutex
	frames []bufferedFrame
	next   int // slot the next Push writes
	count  int // frames held, at most len(frames)
}

// NewReplayBuffer creates a buffer retaining the last capacity envelopes
// (500 when capacity <= 0).
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{frames: make([]bufferedFrame, capacity)}
}

// Push retains an envelope under its broadcast sequence number. The data is
// copied, so the caller may reuse the slice.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	rb.frames[rb.next] = bufferedFrame{Seq: seq, Data: cp}
	rb.next = (rb.next + 1) % len(rb.frames)
	if rb.count < len(rb.frames) {
		rb.count++
	}
	rb.mu.Unlock()
}

// Range returns the retained envelopes with sequence numbers in
// [fromSeq, toSeq], oldest first. Sequence numbers ascend in push order, so
// the scan stops at the first envelope past toSeq.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []bufferedFrame {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	start := 0
	if rb.count == len(rb.frames) {
		start = rb.next // buffer has wrapped; oldest frame sits at next
	}

	var out []bufferedFrame
	for i := 0; i < rb.count; i++ {
		f := rb.frames[(start+i)%len(rb.frames)]
		if f.Seq > toSeq {
			break
		}
		if f.Seq >= fromSeq {
			out = append(out, f)
		}
	}
	return out
}

// Len returns how many envelopes the buffer currently holds.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
