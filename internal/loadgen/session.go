package loadgen

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Stats accumulates outcome counters across every simulated session.
type Stats struct {
	Connected    atomic.Int64
	ConnectErrs  atomic.Int64
	Started      atomic.Int64
	StartErrs    atomic.Int64
	Heartbeats   atomic.Int64
	LogsReceived atomic.Int64
	StartTime    time.Time
}

type wsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RunSession opens one websocket connection to addr, issues start_tail_f for
// target, then sends heartbeats at interval until duration elapses or ctx is
// canceled, recording outcomes into stats.
func RunSession(ctx context.Context, addr string, target sessionTarget, heartbeatInterval, duration time.Duration, stats *Stats) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		stats.ConnectErrs.Add(1)
		return
	}
	defer conn.Close()
	stats.Connected.Add(1)

	payload, _ := json.Marshal(map[string]string{
		"cvm_ip":   target.cvmIP,
		"log_path": target.logPath,
		"log_name": target.logName,
	})
	if err := conn.WriteJSON(wsEvent{Event: "start_tail_f", Payload: payload}); err != nil {
		stats.StartErrs.Add(1)
		return
	}

	go readLoop(conn, stats)

	sessionCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sessionCtx.Done():
			conn.WriteJSON(wsEvent{Event: "stop_tail_f"})
			conn.WriteJSON(wsEvent{Event: "disconnect"})
			return
		case <-ticker.C:
			if err := conn.WriteJSON(wsEvent{Event: "heartbeat"}); err != nil {
				return
			}
			stats.Heartbeats.Add(1)
		}
	}
}

func readLoop(conn *websocket.Conn, stats *Stats) {
	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		switch ev.Event {
		case "log":
			stats.LogsReceived.Add(1)
		case "tail_f_status":
			var status struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(ev.Payload, &status); err == nil && status.Status == "started" {
				stats.Started.Add(1)
			}
		}
	}
}

// Run drives cfg.Sessions concurrent simulated operator sessions and blocks
// until they all finish.
func Run(ctx context.Context, cfg Config) *Stats {
	stats := &Stats{StartTime: time.Now()}
	gen := NewGenerator(cfg)

	done := make(chan struct{}, cfg.Sessions)
	for i := 0; i < cfg.Sessions; i++ {
		target := gen.Next()
		go func(t sessionTarget) {
			defer func() { done <- struct{}{} }()
			RunSession(ctx, cfg.Addr, t, cfg.HeartbeatInterval, cfg.Duration, stats)
		}(target)
	}

	for i := 0; i < cfg.Sessions; i++ {
		<-done
	}

	slog.Info("load run complete",
		"connected", stats.Connected.Load(),
		"connect_errors", stats.ConnectErrs.Load(),
		"started", stats.Started.Load(),
		"start_errors", stats.StartErrs.Load(),
		"heartbeats", stats.Heartbeats.Load(),
		"logs_received", stats.LogsReceived.Load(),
	)
	return stats
}
