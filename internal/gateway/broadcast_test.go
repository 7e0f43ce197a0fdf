package gateway

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"
)

// buildEnvelope reproduces the exact hand-crafted JSON logic from Broadcaster.Broadcast
// so we can test envelope format independently of Redis/WS dependencies.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+128)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// envelope is the parsed WS message structure.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
}

// TestBroadcastEnvelopeFormat verifies the hand-crafted JSON envelope
// matches the expected structure: {"channel":"...","data":...,"ts":"...","seq":N}
func TestBroadcastEnvelopeFormat(t *testing.T) {
	channel := "pub:firing:eod-sweep"
	data := []byte(`{"event":"eod-sweep","scheduled_at":"2026-03-02T09:50:00Z","fired_at":"2026-03-02T09:50:01Z","mode":"live","duration_us":120,"seq":7}`)
	now := time.Date(2026, 3, 2, 9, 50, 1, 0, time.UTC)
	var seq int64 = 42

	buf := buildEnvelope(channel, data, now, seq)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}

	if env.Channel != channel {
		t.Errorf("channel: got %q, want %q", env.Channel, channel)
	}
	if env.Seq != seq {
		t.Errorf("seq: got %d, want %d", env.Seq, seq)
	}

	// Data should be parseable JSON
	var firing map[string]interface{}
	if err := json.Unmarshal(env.Data, &firing); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if _, ok := firing["fired_at"]; !ok {
		t.Error("data missing 'fired_at' field")
	}

	// TS should be valid RFC3339Nano
	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil {
		t.Errorf("ts is not valid RFC3339Nano: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("ts: got %v, want %v", parsed, now)
	}
}

// TestBroadcastEnvelopeNestedData tests envelope with nested/complex data payload.
func TestBroadcastEnvelopeNestedData(t *testing.T) {
	channel := `pub:firing:rebalance`
	data := []byte(`{"note":"test","nested":{"a":1},"arr":[1,2,3]}`)

	buf := buildEnvelope(channel, data, time.Now().UTC(), 999)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Seq != 999 {
		t.Errorf("seq: got %d, want 999", env.Seq)
	}
}

// TestFiringChannelParsing tests the parseFiringChannel function.
func TestFiringChannelParsing(t *testing.T) {
	tests := []struct {
		name      string
		channel   string
		wantEvent string
		wantOK    bool
	}{
		{"simple", "pub:firing:eod-sweep", "eod-sweep", true},
		{"colons_in_name", "pub:firing:NSE:RELIANCE:close", "NSE:RELIANCE:close", true},
		{"empty_event", "pub:firing:", "", false},
		{"not_firing", "pub:candle:60s:NSE:99926000", "", false},
		{"garbage", "garbage", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, ok := parseFiringChannel(tt.channel)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if event != tt.wantEvent {
				t.Errorf("event: got %q, want %q", event, tt.wantEvent)
			}
		})
	}
}

// TestEnvelopeSeqMonotonic verifies sequence numbers are reflected correctly.
func TestEnvelopeSeqMonotonic(t *testing.T) {
	channel := "pub:firing:eod-sweep"
	data := []byte(`{}`)
	now := time.Now().UTC()

	for i := int64(1); i <= 100; i++ {
		buf := buildEnvelope(channel, data, now, i)
		var env envelope
		if err := json.Unmarshal(buf, &env); err != nil {
			t.Fatalf("seq=%d: invalid JSON: %v", i, err)
		}
		if env.Seq != i {
			t.Errorf("seq: got %d, want %d", env.Seq, i)
		}
	}
}

// envelopeWithChannelSeq is the parsed WS message structure including channel_seq.
type envelopeWithChannelSeq struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

// buildEnvelopeWithChannelSeq reproduces the full envelope format from Broadcaster.Broadcast
// including the per-channel seq field.
func buildEnvelopeWithChannelSeq(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// TestBroadcaster_PerChannelSeq verifies that per-channel seq is included in the
// envelope and tracks independently across channels.
func TestBroadcaster_PerChannelSeq(t *testing.T) {
	channelA := "pub:firing:eod-sweep"
	channelB := "pub:firing:rebalance"
	data := []byte(`{}`)
	now := time.Now().UTC()

	// Simulate broadcasting: channel A gets seq 1,2,3 and channel B gets seq 1,2
	var globalSeq int64

	for i := int64(1); i <= 3; i++ {
		globalSeq++
		buf := buildEnvelopeWithChannelSeq(channelA, data, now, globalSeq, i)
		var env envelopeWithChannelSeq
		if err := json.Unmarshal(buf, &env); err != nil {
			t.Fatalf("channelA seq=%d: invalid JSON: %v", i, err)
		}
		if env.ChannelSeq != i {
			t.Errorf("channelA channel_seq: got %d, want %d", env.ChannelSeq, i)
		}
		if env.Seq != globalSeq {
			t.Errorf("channelA global seq: got %d, want %d", env.Seq, globalSeq)
		}
	}

	for i := int64(1); i <= 2; i++ {
		globalSeq++
		buf := buildEnvelopeWithChannelSeq(channelB, data, now, globalSeq, i)
		var env envelopeWithChannelSeq
		if err := json.Unmarshal(buf, &env); err != nil {
			t.Fatalf("channelB seq=%d: invalid JSON: %v", i, err)
		}
		if env.ChannelSeq != i {
			t.Errorf("channelB channel_seq: got %d, want %d", env.ChannelSeq, i)
		}
		if env.Channel != channelB {
			t.Errorf("channelB: got %q, want %q", env.Channel, channelB)
		}
	}

	// Verify global seq is 5 (3 from A + 2 from B)
	if globalSeq != 5 {
		t.Errorf("global seq: got %d, want 5", globalSeq)
	}
}
