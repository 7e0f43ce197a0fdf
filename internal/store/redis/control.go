package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"sched-systemv1/internal/rules"
)

// ControlChannel is the pub/sub channel schedule mutations arrive on.
const ControlChannel = "ctl:schedule"

// schedulesKey is the Redis hash holding the persisted schedule specs,
// keyed by schedule name.
const schedulesKey = "schedules"

// ControlMessage is a schedule mutation sent over the control channel by
// the gateway or schedctl.
type ControlMessage struct {
	Action string     `json:"action"` // "add" or "remove"
	Spec   rules.Spec `json:"spec,omitempty"`
	Name   string     `json:"name,omitempty"` // for remove
	Code   string     `json:"code,omitempty"` // TOTP code when the consumer enforces auth
}

// PublishControl sends a control message on the control channel.
func (w *Writer) PublishControl(ctx context.Context, msg ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal control message: %w", err)
	}
	return w.client.Publish(ctx, ControlChannel, string(data)).Err()
}

// SaveSpec persists a schedule spec in the schedules hash so the daemon can
// restore its schedule set on restart.
func (w *Writer) SaveSpec(ctx context.Context, spec rules.Spec) error {
	data, err := spec.JSON()
	if err != nil {
		return fmt.Errorf("marshal spec %s: %w", spec.Name, err)
	}
	return w.client.HSet(ctx, schedulesKey, spec.Name, string(data)).Err()
}

// DeleteSpec removes a schedule spec from the schedules hash.
func (w *Writer) DeleteSpec(ctx context.Context, name string) error {
	return w.client.HDel(ctx, schedulesKey, name).Err()
}

// ListSpecs loads all persisted schedule specs.
func (r *Reader) ListSpecs(ctx context.Context) ([]rules.Spec, error) {
	entries, err := r.client.HGetAll(ctx, schedulesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", schedulesKey, err)
	}

	specs := make([]rules.Spec, 0, len(entries))
	for name, data := range entries {
		var spec rules.Spec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			log.Printf("[redis-reader] bad spec %s in schedules hash: %v", name, err)
			continue
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ControlConsumer listens on the control channel and dispatches schedule
// mutations to the daemon. Invalid or unauthorized messages are logged and
// dropped; the consumer keeps running.
type ControlConsumer struct {
	reader *Reader

	// OnAdd is called for validated "add" messages.
	OnAdd func(spec rules.Spec)
	// OnRemove is called for "remove" messages.
	OnRemove func(name string)
	// Authorize, when set, must approve the message's TOTP code before
	// dispatch. A nil Authorize accepts everything (trusted network).
	Authorize func(code string) bool
}

// NewControlConsumer wraps a Reader for control-channel consumption.
func NewControlConsumer(r *Reader) *ControlConsumer {
	return &ControlConsumer{reader: r}
}

// Run subscribes to the control channel and dispatches messages until ctx
// is cancelled.
func (c *ControlConsumer) Run(ctx context.Context) error {
	pubsub := c.reader.SubscribeChannel(ctx, ControlChannel)
	if pubsub == nil {
		return fmt.Errorf("control consumer: subscribe %s failed", ControlChannel)
	}
	defer pubsub.Close()

	log.Printf("[control] listening on %s", ControlChannel)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.handle(msg.Payload)
		}
	}
}

func (c *ControlConsumer) handle(payload string) {
	var msg ControlMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Printf("[control] bad message: %v", err)
		return
	}

	if c.Authorize != nil && !c.Authorize(msg.Code) {
		log.Printf("[control] rejected %s: invalid auth code", msg.Action)
		return
	}

	switch msg.Action {
	case "add":
		if err := msg.Spec.Validate(); err != nil {
			log.Printf("[control] rejected add: %v", err)
			return
		}
		if c.OnAdd != nil {
			log.Printf("[control] add schedule %s", msg.Spec.Name)
			c.OnAdd(msg.Spec)
		}
	case "remove":
		if msg.Name == "" {
			log.Printf("[control] rejected remove: no name")
			return
		}
		if c.OnRemove != nil {
			log.Printf("[control] remove schedule %s", msg.Name)
			c.OnRemove(msg.Name)
		}
	default:
		log.Printf("[control] unknown action %q", msg.Action)
	}
}
