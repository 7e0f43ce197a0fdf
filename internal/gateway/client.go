package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client event subscriptions. Empty set = receive everything.
	subMu  sync.RWMutex
	events map[string]bool
}

func (c *Client) sendInitialState(lastTS string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}

		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: use NextWriter to batch queued messages
			// into a single WebSocket frame with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			// Drain any queued messages into the same write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[api_gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		// Parse message type
		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var subMsg SubscribeMsg
			if err := json.Unmarshal(msg, &subMsg); err != nil {
				SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
				continue
			}
			c.handleSubscribe(subMsg)

		case "UNSUBSCRIBE":
			var unsubMsg UnsubscribeMsg
			if err := json.Unmarshal(msg, &unsubMsg); err != nil {
				continue
			}
			c.handleUnsubscribe(unsubMsg)

		default:
			// Handle ping/pong (backward compat)
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

// handleSubscribe narrows the client's feed to the named events and acks
// with the latest buffered firing for each.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if len(msg.Events) == 0 {
		SendError(c, msg.ReqID, "events are required")
		return
	}

	c.subMu.Lock()
	for _, ev := range msg.Events {
		c.events[ev] = true
	}
	c.subMu.Unlock()

	log.Printf("[subscribe] client subscribed: events=%v", msg.Events)

	// Ack with latest known firing per subscribed event
	ack := AckResponse{Type: "ACK", ReqID: msg.ReqID, Latest: map[string]json.RawMessage{}}
	c.hub.mu.RLock()
	for _, ev := range msg.Events {
		if entry, ok := c.hub.latest["pub:firing:"+ev]; ok {
			ack.Latest[ev] = entry.Data
		}
	}
	c.hub.mu.RUnlock()

	SendJSON(c, ack)
}

// handleUnsubscribe removes events from the client's subscription set.
func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	c.subMu.Lock()
	for _, ev := range msg.Events {
		delete(c.events, ev)
	}
	c.subMu.Unlock()

	log.Printf("[subscribe] client unsubscribed: events=%v", msg.Events)
}

// matchesChannel checks if a PubSub channel matches this client's
// subscriptions. Returns true if the client should receive the message.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.events) == 0 {
		// No subscriptions — legacy mode, receive everything
		return true
	}

	event, ok := parseFiringChannel(channel)
	if !ok {
		return true // non-firing channel (metrics, status) — always deliver
	}
	return c.events[event]
}

// parseFiringChannel parses a PubSub channel like "pub:firing:eod-sweep"
// and returns the event name.
func parseFiringChannel(channel string) (string, bool) {
	const prefix = "pub:firing:"
	if !strings.HasPrefix(channel, prefix) {
		return "", false
	}
	event := channel[len(prefix):]
	if event == "" {
		return "", false
	}
	return event, true
}
