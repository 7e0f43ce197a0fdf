package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"sched-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader provides read access to firing streams and the schedule store,
// and pub/sub access for the control channel.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// ReadRecentFirings returns the most recent firings for an event from its
// stream, newest first.
func (r *Reader) ReadRecentFirings(ctx context.Context, event string, limit int64) ([]model.Firing, error) {
	msgs, err := r.client.XRevRangeN(ctx, "firing:"+event, "+", "-", limit).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis xrevrange firing:%s: %w", event, err)
	}

	firings := make([]model.Firing, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var f model.Firing
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			log.Printf("[redis-reader] unmarshal firing error: %v", err)
			continue
		}
		firings = append(firings, f)
	}
	return firings, nil
}

// LastFiring returns the most recent firing for an event from its latest
// key, or nil, nil if the event has not fired within the key's TTL.
func (r *Reader) LastFiring(ctx context.Context, event string) (*model.Firing, error) {
	data, err := r.client.Get(ctx, "firing:latest:"+event).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get firing:latest:%s: %w", event, err)
	}

	var f model.Firing
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("unmarshal firing: %w", err)
	}
	return &f, nil
}

// SubscribeFirings subscribes to all pub:firing:* channels and feeds parsed
// firings into the output channel. Drops on a full channel rather than
// blocking the pub/sub receive loop. Blocks until ctx is cancelled.
func (r *Reader) SubscribeFirings(ctx context.Context, out chan<- model.Firing) error {
	pubsub := r.client.PSubscribe(ctx, "pub:firing:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var f model.Firing
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				continue
			}
			select {
			case out <- f:
			default:
			}
		}
	}
}

// SubscribeChannel subscribes to a Redis Pub/Sub channel.
// Returns the PubSub handle so the caller can listen on .Channel().
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	// Wait for confirmation
	_, err := pubsub.Receive(ctx)
	if err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish publishes a message to a Redis Pub/Sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
