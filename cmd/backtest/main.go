// cmd/backtest replays schedules across a historical date range with a
// simulated clock, journaling every firing to SQLite for later inspection.
//
// Usage:
//
//	go run ./cmd/backtest --from=2026-03-02 --to=2026-03-31 \
//	    --schedules="eod|trading-days|before-close|10m" \
//	    --securities="NSE:2885:RELIANCE-EQ,NSE:11536:TCS-EQ"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sched-systemv1/internal/backtest"
	"sched-systemv1/internal/model"
	"sched-systemv1/internal/rules"
	"sched-systemv1/internal/schedule"
	sqlitestore "sched-systemv1/internal/store/sqlite"
	"sched-systemv1/internal/strategy"
	"sched-systemv1/internal/universe"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	fromStr := flag.String("from", "", "Range start (2006-01-02 or RFC3339), required")
	toStr := flag.String("to", "", "Range end (2006-01-02 or RFC3339), required")
	speed := flag.Float64("speed", 0, "Pacing multiplier (0=max, 1=realtime, 100=100x)")
	schedules := flag.String("schedules", "", `Compact specs "name|dates|times|arg", comma-separated`)
	securities := flag.String("securities", "", `Securities "exchange:token:symbol,..." for the end-of-day sweep demo`)
	dbPath := flag.String("db", "", "SQLite journal path (empty = no journal)")
	progress := flag.Int("progress", 1000, "Log a progress line every N fires (0 = off)")
	verbose := flag.Bool("v", false, "Log every firing")
	flag.Parse()

	from, err := parseWhen(*fromStr)
	if err != nil {
		log.Fatalf("[backtest] bad --from: %v", err)
	}
	to, err := parseWhen(*toStr)
	if err != nil {
		log.Fatalf("[backtest] bad --to: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sched := schedule.NewBacktestScheduler()

	// Optional SQLite journal, fed through the scheduler's firing hook.
	var firingCh chan model.Firing
	journalDone := make(chan struct{})
	if *dbPath != "" {
		sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[backtest] sqlite init failed: %v", err)
		}
		defer sqlWriter.Close()

		firingCh = make(chan model.Firing, 10000)
		go func() {
			sqlWriter.Run(ctx, firingCh)
			close(journalDone)
		}()
		sched.OnFire = func(f model.Firing) {
			select {
			case firingCh <- f:
			default:
			}
		}
	} else {
		close(journalDone)
	}

	// Register schedule specs.
	specCount := 0
	for _, part := range strings.Split(*schedules, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec, err := rules.ParseCompact(part)
		if err != nil {
			log.Fatalf("[backtest] bad schedule: %v", err)
		}
		seq, err := spec.Sequence(from)
		if err != nil {
			log.Fatalf("[backtest] schedule %s: %v", spec.Name, err)
		}
		ev := schedule.NewEvent(spec.Name, seq, logCallback(*verbose))
		sched.Add(ev)
		specCount++
		log.Printf("[backtest] schedule %s: first trigger %s",
			spec.Name, ev.NextUTC().Format(time.RFC3339))
	}

	// Optional end-of-day sweep demo over a security universe.
	algo := strategy.NewEODSweep()
	if *securities != "" {
		uni := universe.NewManager(sched, algo, from, 0)
		for _, inst := range parseSecurities(*securities) {
			uni.AddSecurity(inst)
		}
		log.Printf("[backtest] universe: %d securities with end-of-day sweeps", uni.Size())
	}

	if sched.Len() == 0 {
		log.Fatal("[backtest] nothing to run: give --schedules and/or --securities")
	}

	runner := backtest.NewRunner(sched, backtest.Config{
		From:          from,
		To:            to,
		Speed:         *speed,
		ProgressEvery: *progress,
	})

	summary, err := runner.Run(ctx)
	if err != nil {
		log.Fatalf("[backtest] run failed: %v", err)
	}

	if firingCh != nil {
		close(firingCh)
	}
	<-journalDone

	// Print summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║           BACKTEST COMPLETE              ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Range:     %-28s ║\n",
		summary.From.Format("2006-01-02")+" → "+summary.To.Format("2006-01-02"))
	fmt.Printf("║  Schedules: %-28d ║\n", specCount)
	fmt.Printf("║  Fires:     %-28d ║\n", summary.Fires)
	fmt.Printf("║  Errors:    %-28d ║\n", summary.Errors)
	fmt.Printf("║  Clock jumps: %-26d ║\n", summary.Steps)
	fmt.Printf("║  EOD sweeps:  %-26d ║\n", algo.TotalSweeps())
	fmt.Printf("║  Wall time:   %-26s ║\n", summary.WallElapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════════╝")
}

// logCallback returns the callback backing plain --schedules events.
func logCallback(verbose bool) schedule.Callback {
	return func(name string, scheduledAt time.Time) error {
		if verbose {
			log.Printf("[backtest] fire %s scheduled=%s", name, scheduledAt.Format(time.RFC3339))
		}
		return nil
	}
}

// parseWhen accepts a bare date or a full RFC3339 timestamp, both UTC.
func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("value is required")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want 2006-01-02 or RFC3339, got %q", s)
	}
	return t.UTC(), nil
}

// parseSecurities parses "exchange:token:symbol,..." entries.
func parseSecurities(s string) []model.Instrument {
	var out []model.Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 3)
		if len(fields) < 2 {
			log.Printf("[backtest] skipping invalid security %q", part)
			continue
		}
		inst := model.Instrument{Exchange: fields[0], Token: fields[1]}
		if len(fields) == 3 {
			inst.TradingSymbol = fields[2]
		}
		out = append(out, inst)
	}
	return out
}
