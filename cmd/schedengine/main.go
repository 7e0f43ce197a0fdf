// cmd/schedengine is the live scheduling daemon: it samples wall-clock time,
// fires scheduled event callbacks, and pushes every firing through the
// dispatch pipeline (SQLite journal, Redis publisher, failure notifier).
// Schedules come from the SCHEDULES env var, the persisted schedules hash,
// and runtime control messages on the ctl:schedule channel.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/pquerna/otp/totp"

	"sched-systemv1/config"
	"sched-systemv1/internal/bus"
	"sched-systemv1/internal/logger"
	"sched-systemv1/internal/markethours"
	"sched-systemv1/internal/metrics"
	"sched-systemv1/internal/model"
	"sched-systemv1/internal/notification"
	"sched-systemv1/internal/ringbuf"
	"sched-systemv1/internal/rules"
	"sched-systemv1/internal/schedule"
	redisstore "sched-systemv1/internal/store/redis"
	sqlitestore "sched-systemv1/internal/store/sqlite"
)

const (
	scanLatencyKey  = "metrics:schedengine:scan_ms"
	snapshotKey     = "schedule:snapshot"
	snapshotEvery   = 15 * time.Second
	saturationEvery = 5 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[schedengine] starting...")

	// Structured JSON trail for alert-grade records (slog); infra chatter
	// stays on the plain logger above.
	logger.Init("schedengine", slog.LevelInfo)

	cfg := config.Load()

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Start SQLite journal writer (off hot path) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[schedengine] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(rows int, d time.Duration) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	health.SetSQLiteOK(true)
	log.Println("[schedengine] sqlite journal ready")

	// ---- Redis publisher behind a circuit breaker ----
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[schedengine] redis init failed: %v", err)
	}
	defer redisWriter.Close()
	redisWriter.OnPublish = func(d time.Duration) {
		prom.RedisPublishDur.Observe(d.Seconds())
	}
	health.SetRedisConnected(true)

	breaker := redisstore.NewCircuitBreaker(5, 10*time.Second)
	breaker.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[schedengine] redis circuit breaker: %s -> %s", from, to)
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	publisher := redisstore.NewBufferedPublisher(ctx, redisWriter, breaker, 10000)
	publisher.OnBuffer = func() { prom.RedisBufferedFirings.Inc() }

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[schedengine] redis reader init failed: %v", err)
	}
	defer reader.Close()

	health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)

	// ---- Notifier + failure dispatcher ----
	notifier := buildNotifier(cfg)
	alertDispatch := notification.NewDispatcher(notifier)

	// ---- Dispatch pipeline: scheduler -> ring -> fan-out -> sinks ----
	ring := ringbuf.New(8192)
	busIn := make(chan model.Firing, 8192)

	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	sqliteCh := fanout.Subscribe()
	redisCh := fanout.Subscribe()
	notifyCh := fanout.Subscribe()

	go fanout.Run(ctx, busIn)
	go sqlWriter.Run(ctx, sqliteCh)
	go publisher.Run(ctx, redisCh)
	go alertDispatch.Run(ctx, notifyCh)

	// Drain the SPSC ring into the fan-out input. The scheduler side only
	// ever does a non-blocking Push, so a stalled pipeline can never stall
	// a scan.
	go func() {
		idle := time.NewTicker(time.Millisecond)
		defer idle.Stop()
		for {
			f, ok := ring.Pop()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-idle.C:
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case busIn <- f:
			}
		}
	}()

	// ---- Live scheduler ----
	interval := cfg.ScanInterval()
	sched := schedule.NewLiveScheduler(interval)

	var firingsTotal int64
	sched.OnFire = func(f model.Firing) {
		prom.FiresTotal.WithLabelValues(f.Mode).Inc()
		prom.CallbackDur.Observe(float64(f.DurationUs) / 1e6)
		if f.Error != "" {
			prom.CallbackErrors.Inc()
		}
		if f.FiredAt.Sub(f.ScheduledAt) > 2*interval {
			prom.CatchUpFires.Inc()
		}
		firingsTotal++
		health.SetFiringsTotal(firingsTotal)
		if !ring.Push(f) {
			prom.RingBufOverflow.Inc()
		}
	}
	sched.OnError = func(event string, err error) {
		if schedule.IsPanicError(err) {
			prom.CallbackPanics.Inc()
		}
	}

	// Scan latency: the sampler reads the clock once at the top of each
	// scan, so OnTick sees the full pass duration.
	var scanStart time.Time
	rollover := markethours.NewRolloverDetector(time.Now())
	sched.SetClock(func() time.Time {
		scanStart = time.Now()
		return scanStart
	})
	sched.OnTick = func(pending int) {
		scanDur := time.Since(scanStart)
		prom.ScanDur.Observe(scanDur.Seconds())
		prom.SamplerTicks.Inc()
		prom.PendingEvents.Set(float64(pending))

		now := time.Now()
		health.SetLastScanTime(now)
		health.SetPendingEvents(pending)

		if markethours.IsMarketOpen(now) {
			prom.MarketState.Set(1)
		} else {
			prom.MarketState.Set(0)
		}
		if kind := rollover.Observe(now); kind != markethours.RolloverNone {
			prom.SessionTransitions.WithLabelValues(kind.String()).Inc()
			notifier.Send(ctx, notification.Alert{
				Level:   notification.AlertInfo,
				Title:   "Session boundary: " + kind.String(),
				Message: markethours.StatusString(now),
			})
		}

		scanMs := float64(scanDur.Microseconds()) / 1000.0
		redisWriter.Client().Set(ctx, scanLatencyKey,
			strconv.FormatFloat(scanMs, 'f', 3, 64), 30*time.Second)
	}

	// ---- Register schedules: env defaults, then the persisted hash ----
	addSpec := func(spec rules.Spec) error {
		seq, err := spec.Sequence(time.Now().UTC())
		if err != nil {
			return err
		}
		ev := schedule.NewEvent(spec.Name, seq, func(name string, scheduledAt time.Time) error {
			log.Printf("[schedengine] fire %s scheduled=%s", name, scheduledAt.Format(time.RFC3339))
			return nil
		})
		sched.Add(ev)
		log.Printf("[schedengine] schedule %s: next trigger %s",
			spec.Name, ev.NextUTC().Format(time.RFC3339))
		return nil
	}

	registered := make(map[string]bool)
	for _, spec := range cfg.ParseSchedules() {
		if err := addSpec(spec); err != nil {
			log.Printf("[schedengine] skipping schedule %s: %v", spec.Name, err)
			continue
		}
		registered[spec.Name] = true
	}
	if saved, err := reader.ListSpecs(ctx); err != nil {
		log.Printf("[schedengine] WARNING: restoring saved schedules failed: %v", err)
	} else {
		for _, spec := range saved {
			if registered[spec.Name] {
				continue
			}
			if err := addSpec(spec); err != nil {
				log.Printf("[schedengine] skipping saved schedule %s: %v", spec.Name, err)
				continue
			}
			registered[spec.Name] = true
		}
	}
	log.Printf("[schedengine] %d schedule(s) registered", sched.Len())

	// ---- Control channel consumer (runtime add/remove) ----
	control := redisstore.NewControlConsumer(reader)
	if cfg.AdminTOTPSecret != "" {
		secret := cfg.AdminTOTPSecret
		control.Authorize = func(code string) bool {
			if code != "" && totp.Validate(code, secret) {
				return true
			}
			prom.ControlRejected.Inc()
			return false
		}
	} else {
		log.Println("[schedengine] WARNING: ADMIN_TOTP_SECRET not set, control channel is unauthenticated")
	}
	control.OnAdd = func(spec rules.Spec) {
		prom.ControlMessages.WithLabelValues("add").Inc()
		sched.RemoveByName(spec.Name) // replace semantics for same-name adds
		if err := addSpec(spec); err != nil {
			log.Printf("[schedengine] control add %s failed: %v", spec.Name, err)
			prom.ControlRejected.Inc()
			return
		}
		if err := redisWriter.SaveSpec(ctx, spec); err != nil {
			log.Printf("[schedengine] persist schedule %s failed: %v", spec.Name, err)
		}
	}
	control.OnRemove = func(name string) {
		prom.ControlMessages.WithLabelValues("remove").Inc()
		removed := sched.RemoveByName(name)
		log.Printf("[schedengine] control remove %s: %d event(s)", name, removed)
		if err := redisWriter.DeleteSpec(ctx, name); err != nil {
			log.Printf("[schedengine] unpersist schedule %s failed: %v", name, err)
		}
	}
	go func() {
		if err := control.Run(ctx); err != nil {
			log.Printf("[schedengine] control consumer exited: %v", err)
		}
	}()

	// ---- Channel saturation reporting ----
	go func() {
		ticker := time.NewTicker(saturationEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for i, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
					}
				}
				prom.ChannelSaturationPct.WithLabelValues("ring").Set(
					float64(ring.Len()) / float64(ring.Cap()) * 100)
			}
		}
	}()

	// ---- Periodic pending-event snapshots (Redis + SQLite) ----
	go func() {
		ticker := time.NewTicker(snapshotEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := sched.Snapshot()
				data, err := json.Marshal(snap)
				if err != nil {
					continue
				}
				if err := redisWriter.Client().Set(ctx, snapshotKey, data, 2*snapshotEvery).Err(); err != nil {
					log.Printf("[schedengine] snapshot publish failed: %v", err)
				}
				if err := sqlWriter.SaveSnapshot(&snap); err != nil {
					log.Printf("[schedengine] snapshot journal failed: %v", err)
				}
			}
		}
	}()

	// ---- Replay backlog, then start the sampler ----
	sched.ScanPastEvents(time.Now().UTC())
	sched.Start()
	health.SetSchedulerRunning(true)

	notifier.Send(ctx, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "schedengine started",
		Message: fmt.Sprintf("%d schedule(s), scan interval %v", sched.Len(), interval),
	})

	log.Println("[schedengine] ╔══════════════════════════════════════════════════════════╗")
	log.Println("[schedengine] ║  Scheduling Engine — Live Mode                           ║")
	log.Println("[schedengine] ║                                                          ║")
	log.Println("[schedengine] ║  [Sampler] → [Events] → [Ring] → [SQLite/Redis/Alerts]   ║")
	log.Printf("[schedengine] ║  Schedules: %-3d  Scan interval: %-8v                ║", sched.Len(), interval)
	log.Printf("[schedengine] ║  Control: %s via %-22s          ║", redisstore.ControlChannel, cfg.RedisAddr)
	log.Println("[schedengine] ╚══════════════════════════════════════════════════════════╝")
	log.Printf("[schedengine] %s", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[schedengine] shutdown signal received, cleaning up...")
	health.SetSchedulerRunning(false)
	sched.Stop()

	notifier.Send(ctx, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "schedengine stopping",
		Message: fmt.Sprintf("%d firings dispatched", firingsTotal),
	})
	cancel()

	// Give the pipeline time to flush batches
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[schedengine] shutdown complete.")
}

// buildNotifier assembles the alert backends from config. The log notifier
// is always present so alerts are never silently dropped.
func buildNotifier(cfg *config.Config) notification.Notifier {
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[schedengine] webhook alerts enabled")
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[schedengine] telegram alerts enabled")
	}
	if len(backends) == 1 {
		return backends[0]
	}
	return notification.NewMultiNotifier(backends...)
}
