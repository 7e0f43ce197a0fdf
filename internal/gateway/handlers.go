package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"sched-systemv1/internal/rules"
	redisstore "sched-systemv1/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+AuthHeader)
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, store *redisstore.Writer, reader *redisstore.Reader, rdb *goredis.Client, ctx context.Context, totpSecret string, processStart time.Time) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[api_gateway] ws upgrade error: %v", err)
			return
		}
		lastTS := r.URL.Query().Get("last_ts")
		hub.HandleWSRequest(conn, lastTS)
	})

	// REST: GET/POST/DELETE /api/schedules
	addSchedule := RequireTOTP(totpSecret, func(w http.ResponseWriter, r *http.Request) {
		var spec rules.Spec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		if err := spec.Validate(); err != nil {
			http.Error(w, `{"error":`+strconv.Quote(err.Error())+`}`, http.StatusBadRequest)
			return
		}

		if err := store.SaveSpec(r.Context(), spec); err != nil {
			log.Printf("[api_gateway] save spec %s failed: %v", spec.Name, err)
			http.Error(w, `{"error":"persist failed"}`, http.StatusInternalServerError)
			return
		}
		err := store.PublishControl(r.Context(), redisstore.ControlMessage{
			Action: "add",
			Spec:   spec,
			Code:   r.Header.Get(AuthHeader),
		})
		if err != nil {
			log.Printf("[api_gateway] publish control add %s failed: %v", spec.Name, err)
			http.Error(w, `{"error":"control publish failed"}`, http.StatusBadGateway)
			return
		}

		log.Printf("[api_gateway] schedule added: %s", spec.Name)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "name": spec.Name})
	})

	removeSchedule := RequireTOTP(totpSecret, func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, `{"error":"name is required"}`, http.StatusBadRequest)
			return
		}

		if err := store.DeleteSpec(r.Context(), name); err != nil {
			log.Printf("[api_gateway] delete spec %s failed: %v", name, err)
			http.Error(w, `{"error":"persist failed"}`, http.StatusInternalServerError)
			return
		}
		err := store.PublishControl(r.Context(), redisstore.ControlMessage{
			Action: "remove",
			Name:   name,
			Code:   r.Header.Get(AuthHeader),
		})
		if err != nil {
			log.Printf("[api_gateway] publish control remove %s failed: %v", name, err)
			http.Error(w, `{"error":"control publish failed"}`, http.StatusBadGateway)
			return
		}

		log.Printf("[api_gateway] schedule removed: %s", name)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "name": name})
	})

	mux.HandleFunc("/api/schedules", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		switch r.Method {
		case "OPTIONS":
			w.WriteHeader(http.StatusOK)
		case "POST":
			addSchedule(w, r)
		case "DELETE":
			removeSchedule(w, r)
		default: // GET
			specs, err := reader.ListSpecs(r.Context())
			if err != nil {
				log.Printf("[api_gateway] list specs failed: %v", err)
				http.Error(w, `{"error":"list failed"}`, http.StatusInternalServerError)
				return
			}
			if specs == nil {
				specs = []rules.Spec{}
			}
			json.NewEncoder(w).Encode(specs)
		}
	})

	// REST: recent firings for an event
	mux.HandleFunc("/api/firings", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		event := r.URL.Query().Get("event")
		if event == "" {
			http.Error(w, `{"error":"event is required"}`, http.StatusBadRequest)
			return
		}
		limit := int64(100)
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if l, err := strconv.ParseInt(limitStr, 10, 64); err == nil && l > 0 && l <= 1000 {
				limit = l
			}
		}

		firings, err := reader.ReadRecentFirings(r.Context(), event, limit)
		if err != nil {
			log.Printf("[api_gateway] read firings %s failed: %v", event, err)
			json.NewEncoder(w).Encode([]interface{}{})
			return
		}

		// Reverse to chronological order
		for i, j := 0, len(firings)-1; i < j; i, j = i+1, j-1 {
			firings[i], firings[j] = firings[j], firings[i]
		}
		json.NewEncoder(w).Encode(firings)
	})

	// REST: latest firing per event (from the hub's in-memory state)
	mux.HandleFunc("/api/firings/latest", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetLatestAll())
	})

	// REST: pending-event snapshot published by the daemon
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		data, err := rdb.Get(r.Context(), "schedule:snapshot").Result()
		if err != nil {
			if err == goredis.Nil {
				json.NewEncoder(w).Encode(map[string]interface{}{"pending": []interface{}{}})
				return
			}
			http.Error(w, `{"error":"snapshot read failed"}`, http.StatusBadGateway)
			return
		}
		w.Write([]byte(data))
	})

	// REST: gap backfill from the per-channel replay buffers
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		channel := r.URL.Query().Get("channel")
		fromSeq, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		toSeq, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if channel == "" || fromSeq <= 0 || toSeq < fromSeq {
			http.Error(w, `{"error":"channel, from and to are required"}`, http.StatusBadRequest)
			return
		}

		envelopes := hub.GetReplayRange(channel, fromSeq, toSeq)
		w.Write([]byte(`{"channel":`))
		enc, _ := json.Marshal(channel)
		w.Write(enc)
		w.Write([]byte(`,"current_seq":`))
		w.Write([]byte(strconv.FormatInt(hub.GetChannelSeq(channel), 10)))
		w.Write([]byte(`,"envelopes":[`))
		for i, env := range envelopes {
			if i > 0 {
				w.Write([]byte{','})
			}
			w.Write(env)
		}
		w.Write([]byte("]}"))
	})

	// REST: system metrics snapshot
	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		m := CollectMetrics(processStart)
		if v, ok := ReadScanLatency(r.Context(), rdb); ok {
			m.ScanMs = v
		}
		if hub.Latency != nil {
			m.LatencyP50, m.LatencyP95, m.LatencyP99 = hub.Latency.Percentiles()
		}
		json.NewEncoder(w).Encode(m)
	})

	// Health endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		redisOK := true
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			redisOK = false
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"redis":      redisOK,
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
