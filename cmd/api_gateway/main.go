// cmd/api_gateway serves the monitoring surface of the scheduling engine:
// a WebSocket stream of event firings plus REST endpoints for schedule
// management, firing history, scheduler status and system metrics.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sched-systemv1/config"
	"sched-systemv1/internal/gateway"
	redisstore "sched-systemv1/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
)

var processStart = time.Now()

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[api_gateway] starting...")

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Raw client for ad-hoc reads (status snapshot, scan latency, health).
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[api_gateway] redis connection failed: %v", err)
	}
	log.Printf("[api_gateway] redis connected at %s", cfg.RedisAddr)

	// Writer carries control-channel publishes and spec persistence.
	store, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[api_gateway] redis writer init failed: %v", err)
	}
	defer store.Close()

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[api_gateway] redis reader init failed: %v", err)
	}
	defer reader.Close()

	if cfg.AdminTOTPSecret == "" {
		log.Println("[api_gateway] WARNING: ADMIN_TOTP_SECRET not set, schedule mutations are unauthenticated")
	}

	// Hub manages all WebSocket connections and pub:firing:* routing.
	hub := gateway.NewHub(rdb)
	go hub.Run(ctx)
	go hub.StartMetricsBroadcast(ctx, processStart)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, store, reader, rdb, ctx, cfg.AdminTOTPSecret, processStart)

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[api_gateway] ✅ serving at http://localhost%s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[api_gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[api_gateway] shutting down...")
	cancel()
	srv.Shutdown(context.Background())
}
