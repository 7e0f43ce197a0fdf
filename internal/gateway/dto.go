package gateway

import (
	"encoding/json"
	"log"
)

// ── WS Protocol Message Types ──

// SubscribeMsg is the client → server SUBSCRIBE request: narrow the feed
// to the named events.
type SubscribeMsg struct {
	Type   string   `json:"type"`  // "SUBSCRIBE"
	ReqID  string   `json:"reqId"` // client-generated request ID
	Events []string `json:"events"`
}

// UnsubscribeMsg is the client → server UNSUBSCRIBE request.
type UnsubscribeMsg struct {
	Type   string   `json:"type"` // "UNSUBSCRIBE"
	ReqID  string   `json:"reqId"`
	Events []string `json:"events"`
}

// AckResponse is the server → client SUBSCRIBE acknowledgement, carrying
// the latest buffered firing for each subscribed event.
type AckResponse struct {
	Type   string                     `json:"type"` // "ACK"
	ReqID  string                     `json:"reqId,omitempty"`
	Latest map[string]json.RawMessage `json:"latest"`
}

// ErrorResponse is the server → client ERROR message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// ── REST response types ──

// ScheduleStatusOut is the REST response type for /api/status.
type ScheduleStatusOut struct {
	Event   string `json:"event"`
	NextUTC string `json:"next_utc"`
	Seq     int64  `json:"seq"`
}

// ── Helpers ──

// SendJSON marshals and sends a message to the client's send channel.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[subscribe] json marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[subscribe] client send buffer full, dropping message")
	}
}

// SendError sends an error response to the client.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{
		Type:  "ERROR",
		ReqID: reqID,
		Error: errMsg,
	})
}
