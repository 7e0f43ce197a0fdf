package redis

import (
	"context"
	"log"
	"sync"

	"sched-systemv1/internal/model"
)

// BufferedPublisher wraps a Redis Writer with a circuit breaker.
// During circuit-open state, firings are buffered locally and flushed
// when the circuit closes again, so a Redis outage loses nothing as long
// as the buffer holds.
type BufferedPublisher struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []model.Firing
	maxBuf int // max buffered firings before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a firing is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered firings
}

// NewBufferedPublisher creates a BufferedPublisher wrapping the given Writer.
func NewBufferedPublisher(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]model.Firing, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}

	return bp
}

// Publish writes a firing through the circuit breaker. Any failure —
// circuit open or a publish error counting toward the trip threshold —
// buffers the firing locally for the next flush, so nothing is lost.
func (bp *BufferedPublisher) Publish(f model.Firing) error {
	err := bp.cb.Execute(func() error {
		return bp.writer.publishFiring(bp.ctx, f)
	})
	if err != nil {
		bp.bufferFiring(f)
	}
	return nil
}

// Run reads firings from firingCh and publishes each through the circuit
// breaker. Implements model.FiringPublisher.
func (bp *BufferedPublisher) Run(ctx context.Context, firingCh <-chan model.Firing) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-firingCh:
			if !ok {
				return
			}
			bp.Publish(f)
		}
	}
}

func (bp *BufferedPublisher) bufferFiring(f model.Firing) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		// Buffer full — drop oldest
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, f)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays all buffered firings in one pipelined batch.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bp.buffer
	bp.buffer = make([]model.Firing, 0, 256)
	bp.mu.Unlock()

	bp.writer.PublishBatch(bp.ctx, toFlush)

	log.Printf("[buffered-publisher] flushed %d buffered firings", len(toFlush))
	if bp.OnFlush != nil {
		bp.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered firings waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Underlying returns the wrapped Redis writer for direct access.
func (bp *BufferedPublisher) Underlying() *Writer {
	return bp.writer
}

// Close closes the underlying writer.
func (bp *BufferedPublisher) Close() error {
	return bp.writer.Close()
}
