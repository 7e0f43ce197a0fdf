package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scheduling daemon.
type Metrics struct {
	FiresTotal     *prometheus.CounterVec // labels: mode (backtest|live)
	CallbackErrors prometheus.Counter
	CallbackPanics prometheus.Counter
	CatchUpFires   prometheus.Counter // fires where scheduled_at < fired_at sample
	ScanDur        prometheus.Histogram
	CallbackDur    prometheus.Histogram
	PendingEvents  prometheus.Gauge
	SamplerTicks   prometheus.Counter

	// Dispatch pipeline
	RingBufOverflow      prometheus.Counter
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Storage
	SQLiteCommitDur prometheus.Histogram
	RedisPublishDur prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedFirings     prometheus.Counter

	// Control channel
	ControlMessages *prometheus.CounterVec // labels: action
	ControlRejected prometheus.Counter

	// Market session state
	MarketState        prometheus.Gauge       // 0=closed, 1=open
	SessionTransitions *prometheus.CounterVec // labels: type=session-close|new-day
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		FiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedengine_fires_total",
			Help: "Total event firings (by scheduler mode)",
		}, []string{"mode"}),
		CallbackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedengine_callback_errors_total",
			Help: "Callback invocations that returned an error",
		}),
		CallbackPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedengine_callback_panics_total",
			Help: "Callback invocations that panicked and were recovered",
		}),
		CatchUpFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedengine_catch_up_fires_total",
			Help: "Fires delivered late because the clock jumped past the trigger",
		}),
		ScanDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedengine_scan_duration_seconds",
			Help:    "Full scheduler scan latency per time sample",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		CallbackDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedengine_callback_duration_seconds",
			Help:    "Event callback execution latency",
			Buckets: prometheus.DefBuckets,
		}),
		PendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schedengine_pending_events",
			Help: "Events currently registered with the live scheduler",
		}),
		SamplerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedengine_sampler_ticks_total",
			Help: "Wall-clock samples taken by the live scheduler loop",
		}),

		// Dispatch pipeline
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedengine_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped firings)",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedengine_fanout_drops_total",
			Help: "Firings dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "schedengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		// Storage
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedengine_sqlite_commit_duration_seconds",
			Help:    "SQLite journal batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedengine_redis_publish_duration_seconds",
			Help:    "Redis firing publish pipeline latency",
			Buckets: prometheus.DefBuckets,
		}),

		// Circuit breaker
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schedengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedFirings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedengine_redis_buffered_firings_total",
			Help: "Firings buffered locally during Redis circuit breaker open state",
		}),

		// Control channel
		ControlMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedengine_control_messages_total",
			Help: "Control channel messages processed (by action)",
		}, []string{"action"}),
		ControlRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedengine_control_rejected_total",
			Help: "Control channel messages rejected (bad spec or auth)",
		}),

		// Market session
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schedengine_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedengine_session_transitions_total",
			Help: "Session boundary transitions (session-close, new-day)",
		}, []string{"type"}),
	}

	prometheus.MustRegister(
		m.FiresTotal,
		m.CallbackErrors,
		m.CallbackPanics,
		m.CatchUpFires,
		m.ScanDur,
		m.CallbackDur,
		m.PendingEvents,
		m.SamplerTicks,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.SQLiteCommitDur,
		m.RedisPublishDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedFirings,
		m.ControlMessages,
		m.ControlRejected,
		m.MarketState,
		m.SessionTransitions,
	)

	return m
}

// HealthStatus represents the daemon health.
type HealthStatus struct {
	mu sync.RWMutex

	SchedulerRunning bool      `json:"scheduler_running"`
	LastScanTime     time.Time `json:"last_scan_time"`
	RedisConnected   bool      `json:"redis_connected"`
	SQLiteOK         bool      `json:"sqlite_ok"`
	PendingEvents    int       `json:"pending_events"`
	FiringsTotal     int64     `json:"firings_total"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetSchedulerRunning(v bool) {
	h.mu.Lock()
	h.SchedulerRunning = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastScanTime(t time.Time) {
	h.mu.Lock()
	h.LastScanTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPendingEvents(n int) {
	h.mu.Lock()
	h.PendingEvents = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetFiringsTotal(n int64) {
	h.mu.Lock()
	h.FiringsTotal = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.SchedulerRunning || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	// Scan age
	scanAge := ""
	if !h.LastScanTime.IsZero() {
		scanAge = time.Since(h.LastScanTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		SchedulerRunning bool    `json:"scheduler_running"`
		LastScanTime     string  `json:"last_scan_time"`
		ScanAge          string  `json:"scan_age"`
		PendingEvents    int     `json:"pending_events"`
		FiringsTotal     int64   `json:"firings_total"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		SQLiteOK         bool    `json:"sqlite_ok"`
		SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		SchedulerRunning: h.SchedulerRunning,
		LastScanTime:     h.LastScanTime.Format(time.RFC3339),
		ScanAge:          scanAge,
		PendingEvents:    h.PendingEvents,
		FiringsTotal:     h.FiringsTotal,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
