package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loghoi/loghoi/internal/streamsession"
)

// upgrader grounded on Andrew50-peripheral's gorilla/websocket usage; origin
// checks are the caller's (CORS_ORIGINS) concern at the reverse-proxy layer
// for this operator tool, so Upgrader itself stays permissive.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is the envelope for every push-channel message (spec §6).
type wsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startTailFPayload struct {
	CVMIP   string `json:"cvm_ip"`
	LogPath string `json:"log_path"`
	LogName string `json:"log_name"`
}

// wsSink adapts one websocket connection into a streamsession.Sink,
// serializing concurrent writes with a mutex (gorilla/websocket connections
// are not safe for concurrent writers).
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Push(rec streamsession.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(wsEvent{
		Event:   "log",
		Payload: mustMarshal(map[string]any{
			"name":        rec.Label,
			"line":        rec.Line,
			"line_number": rec.Sequence,
			"timestamp":   rec.Timestamp,
		}),
	})
}

func (s *wsSink) writeStatus(status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(wsEvent{
		Event: "tail_f_status",
		Payload: mustMarshal(map[string]any{
			"status":  status,
			"message": message,
		}),
	})
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// handleWebSocket implements the push-channel contract: connect, start_tail_f,
// stop_tail_f, heartbeat, disconnect (spec §4.5, §6).
func (s *Services) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sid := s.Sessions.OnConnect()
	sink := &wsSink{conn: conn}
	logger := slog.With("sid", sid)
	logger.Info("session connected")

	defer func() {
		s.Sessions.OnDisconnect(sid)
		logger.Info("session disconnected")
	}()

	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}

		switch ev.Event {
		case "heartbeat":
			s.Sessions.Heartbeat(sid)

		case "start_tail_f":
			var p startTailFPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				sink.writeStatus("error", "malformed start_tail_f payload")
				continue
			}
			s.startTailF(r.Context(), sid, p, sink, logger)

		case "stop_tail_f":
			s.Sessions.StopAll(sid)
			sink.writeStatus("stopped", "")

		case "disconnect":
			return

		default:
			logger.Warn("unknown websocket event", "event", ev.Event)
		}
	}
}

func (s *Services) startTailF(ctx context.Context, sid streamsession.SessionID, p startTailFPayload, sink *wsSink, logger *slog.Logger) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.Sessions.AddSSH(connectCtx, sid, p.CVMIP); err != nil {
		logger.Warn("add_ssh failed", "cvm_ip", p.CVMIP, "error", err)
		sink.writeStatus("error", err.Error())
		return
	}

	if err := s.Sessions.StartMonitor(context.Background(), sid, p.LogPath, p.LogName, sink); err != nil {
		logger.Warn("start_monitor failed", "error", err)
		sink.writeStatus("error", err.Error())
		return
	}

	sink.writeStatus("started", "")
}
