package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sched-systemv1/internal/logger"
	"sched-systemv1/internal/model"
)

// Dispatcher watches the firing stream and raises alerts for failed
// callbacks. Healthy firings pass through silently.
type Dispatcher struct {
	notifier Notifier

	// MinInterval rate-limits alerts per event name. Default 1 minute.
	MinInterval time.Duration

	lastSent map[string]time.Time
}

// NewDispatcher creates a Dispatcher delivering through the given notifier.
func NewDispatcher(n Notifier) *Dispatcher {
	return &Dispatcher{
		notifier:    n,
		MinInterval: time.Minute,
		lastSent:    make(map[string]time.Time),
	}
}

// Run consumes firings until ctx is cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, firingCh <-chan model.Firing) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-firingCh:
			if !ok {
				return
			}
			if f.Error == "" {
				continue
			}
			if last, seen := d.lastSent[f.Event]; seen && time.Since(last) < d.MinInterval {
				continue
			}
			d.lastSent[f.Event] = time.Now()

			// Each alert carries a trace ID so the structured log record
			// and the delivered notification can be correlated.
			tid := logger.GenerateTraceID(f.Event, f.ScheduledAt)
			actx := logger.WithTraceID(ctx, tid)
			slog.Warn("scheduled event failed",
				append([]any{
					slog.String("event", f.Event),
					slog.String("mode", f.Mode),
					slog.String("error", f.Error),
				}, logger.LogWithTrace(actx)...)...)

			d.notifier.Send(actx, Alert{
				Level: AlertWarning,
				Title: fmt.Sprintf("Scheduled event %s failed", f.Event),
				Message: fmt.Sprintf("scheduled %s, fired %s (%s): %s",
					f.ScheduledAt.Format(time.RFC3339), f.FiredAt.Format(time.RFC3339),
					f.Mode, f.Error),
				TraceID: tid,
			})
		}
	}
}
