// Package backtest drives a backtesting scheduler across a historical time
// range. The runner jumps the simulated clock straight to each pending
// trigger time instead of stepping through empty intervals, with optional
// pacing for demonstration replays.
package backtest

import (
	"context"
	"fmt"
	"log"
	"time"

	"sched-systemv1/internal/model"
	"sched-systemv1/internal/schedule"
)

// Config controls a backtest run.
type Config struct {
	// From and To bound the simulated clock (UTC). Events strictly after
	// To never fire.
	From time.Time
	To   time.Time

	// Speed paces the replay relative to real time between trigger times:
	// 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
	Speed float64

	// ProgressEvery logs a progress line after this many fires (0 = no
	// progress logs).
	ProgressEvery int
}

// Summary reports what a run did.
type Summary struct {
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Fires       int           `json:"fires"`
	Errors      int           `json:"errors"`
	Steps       int           `json:"steps"`
	SimEnd      time.Time     `json:"sim_end"`
	WallElapsed time.Duration `json:"wall_elapsed"`
}

// Runner owns one backtesting scheduler for the duration of a run.
type Runner struct {
	sched *schedule.BacktestScheduler
	cfg   Config

	fires  int
	errors int
}

// NewRunner wraps a scheduler. The caller registers events before Run; the
// runner counts fires through the scheduler's OnFire hook, chaining any
// hook already installed.
func NewRunner(sched *schedule.BacktestScheduler, cfg Config) *Runner {
	r := &Runner{sched: sched, cfg: cfg}
	prev := sched.OnFire
	sched.OnFire = func(f model.Firing) {
		r.fires++
		if f.Error != "" {
			r.errors++
		}
		if r.cfg.ProgressEvery > 0 && r.fires%r.cfg.ProgressEvery == 0 {
			log.Printf("[backtest] %d fires, sim=%s", r.fires, f.ScheduledAt.Format(time.RFC3339))
		}
		if prev != nil {
			prev(f)
		}
	}
	return r
}

// Run advances the scheduler from cfg.From to cfg.To, jumping to each next
// pending trigger time. It returns the run summary; a callback error stops
// the run and is returned alongside the partial summary.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.cfg.From.Before(r.cfg.To) {
		return Summary{}, fmt.Errorf("backtest range is empty: from=%s to=%s",
			r.cfg.From.Format(time.RFC3339), r.cfg.To.Format(time.RFC3339))
	}

	wallStart := time.Now()
	now := r.cfg.From.UTC()
	to := r.cfg.To.UTC()
	steps := 0

	log.Printf("[backtest] run %s -> %s, %d event(s), speed=%.1fx",
		now.Format(time.RFC3339), to.Format(time.RFC3339), r.sched.Len(), r.cfg.Speed)

	// Replay anything already due at the start boundary.
	if err := r.sched.ScanPastEvents(now); err != nil {
		return r.summary(now, steps, wallStart), err
	}

	for {
		select {
		case <-ctx.Done():
			return r.summary(now, steps, wallStart), ctx.Err()
		default:
		}

		next, ok := r.sched.NextTime()
		if !ok || next.After(to) {
			break
		}

		if r.cfg.Speed > 0 {
			r.pace(ctx, next.Sub(now))
		}

		now = next
		steps++
		if err := r.sched.SetTime(now); err != nil {
			return r.summary(now, steps, wallStart), err
		}
	}

	// Land the clock on the range end so post-run snapshots reflect it.
	now = to
	if err := r.sched.SetTime(now); err != nil {
		return r.summary(now, steps, wallStart), err
	}

	s := r.summary(now, steps, wallStart)
	log.Printf("[backtest] done: %d fires (%d errors) in %d steps, wall=%s",
		s.Fires, s.Errors, s.Steps, s.WallElapsed.Round(time.Millisecond))
	return s, nil
}

func (r *Runner) summary(simEnd time.Time, steps int, wallStart time.Time) Summary {
	return Summary{
		From:        r.cfg.From.UTC(),
		To:          r.cfg.To.UTC(),
		Fires:       r.fires,
		Errors:      r.errors,
		Steps:       steps,
		SimEnd:      simEnd,
		WallElapsed: time.Since(wallStart),
	}
}

// pace sleeps the simulated gap scaled by the speed multiplier, capped so a
// weekend gap never stalls a demonstration replay.
func (r *Runner) pace(ctx context.Context, gap time.Duration) {
	if gap <= 0 {
		return
	}
	scaled := time.Duration(float64(gap) / r.cfg.Speed)
	if scaled > 5*time.Second {
		scaled = 5 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(scaled):
	}
}
