package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"sched-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: keep roughly a week of firings per event.
	firingStreamMaxLen = 2000
	defaultLatestTTL   = 24 * time.Hour
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes firings and schedule state to Redis. It implements
// model.FiringPublisher: each firing lands in a per-event stream, a
// "latest" key, and a pub/sub channel for live dashboard subscribers.
type Writer struct {
	client *goredis.Client

	// OnPublish, when set, observes the duration of each successful
	// pipeline exec (for metrics).
	OnPublish func(d time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run reads firings from firingCh and publishes them to Redis.
// Blocks until ctx is cancelled or firingCh is closed.
func (w *Writer) Run(ctx context.Context, firingCh <-chan model.Firing) {
	for {
		select {
		case <-ctx.Done():
			return
		case firing, ok := <-firingCh:
			if !ok {
				return
			}
			w.publishFiring(ctx, firing)
		}
	}
}

// publishFiring performs pipelined writes for a single firing:
// XADD to the event's stream, SET the latest value, PUBLISH for subscribers.
// The error is returned so the circuit breaker can count failures.
func (w *Writer) publishFiring(ctx context.Context, f model.Firing) error {
	jsonBytes := f.JSON()
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	start := time.Now()
	pipe := w.client.Pipeline()

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "firing:" + f.Event,
		MaxLen: firingStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, "firing:latest:"+f.Event, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:firing:"+f.Event, jsonData)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] pipeline error for %s: %v", f.Key(), err)
		return err
	}
	if w.OnPublish != nil {
		w.OnPublish(time.Since(start))
	}
	return nil
}

// PublishBatch publishes multiple firings in a single Redis pipeline.
// This batches XADD + SET + PUBLISH for all firings into one roundtrip.
func (w *Writer) PublishBatch(ctx context.Context, firings []model.Firing) {
	if len(firings) == 0 {
		return
	}

	pipe := w.client.Pipeline()
	for i := range firings {
		f := &firings[i]
		jsonBytes := f.JSON()
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: "firing:" + f.Event,
			MaxLen: firingStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, "firing:latest:"+f.Event, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, "pub:firing:"+f.Event, jsonData)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] batch pipeline error (%d firings): %v", len(firings), err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
