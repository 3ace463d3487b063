package streamsession

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loghoi/loghoi/internal/metrics"
)

// Manager owns the session table (spec §5: "outer map mutex plus
// per-session mutex").
type Manager struct {
	executor Executor

	mu       sync.RWMutex
	sessions map[SessionID]*Session

	maxLinesPerSecond int
	idleTimeout       time.Duration
	addSSHMaxAttempts int
	addSSHBackoffBase time.Duration
	idleWatchTick     time.Duration
}

// Config bundles the tunables spec §4.5/§6 names with defaults.
type Config struct {
	MaxLinesPerSecond int           // default 20
	IdleTimeout       time.Duration // default 300s
	AddSSHMaxAttempts int           // default 5
	AddSSHBackoffBase time.Duration // default 2s
	IdleWatchTick     time.Duration // default 2s, spec §5 "one watcher tick (~2s)"
}

// NewManager constructs a Manager bound to executor.
func NewManager(executor Executor, cfg Config) *Manager {
	if cfg.MaxLinesPerSecond <= 0 {
		cfg.MaxLinesPerSecond = 20
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	if cfg.AddSSHMaxAttempts <= 0 {
		cfg.AddSSHMaxAttempts = 5
	}
	if cfg.AddSSHBackoffBase <= 0 {
		cfg.AddSSHBackoffBase = 2 * time.Second
	}
	if cfg.IdleWatchTick <= 0 {
		cfg.IdleWatchTick = 2 * time.Second
	}
	return &Manager{
		executor:          executor,
		sessions:          make(map[SessionID]*Session),
		maxLinesPerSecond: cfg.MaxLinesPerSecond,
		idleTimeout:       cfg.IdleTimeout,
		addSSHMaxAttempts: cfg.AddSSHMaxAttempts,
		addSSHBackoffBase: cfg.AddSSHBackoffBase,
		idleWatchTick:     cfg.IdleWatchTick,
	}
}

// OnConnect creates a session in Connected, records connected_at, and
// starts its idle watch task.
func (m *Manager) OnConnect() SessionID {
	sid := newSessionID()
	now := time.Now()
	s := &Session{
		ID:             sid,
		state:          Connected,
		connectedAt:    now,
		lastActivityAt: now,
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.idleWatchCancel = cancel

	m.mu.Lock()
	m.sessions[sid] = s
	m.mu.Unlock()

	go m.runIdleWatch(watchCtx, sid)

	metrics.ActiveSessions.Inc()
	slog.Info("session connected", "session_id", sid)
	return sid
}

func (m *Manager) get(sid SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sid]
	return s, ok
}

// Heartbeat updates last_activity_at for sid.
func (m *Manager) Heartbeat(sid SessionID) error {
	s, ok := m.get(sid)
	if !ok {
		return ErrUnknownSession
	}
	s.mu.Lock()
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
	return nil
}

// OnDisconnect transitions sid to TornDown and removes it from the session
// table. Idempotent.
func (m *Manager) OnDisconnect(sid SessionID) {
	m.StopAll(sid)
	m.mu.Lock()
	_, existed := m.sessions[sid]
	delete(m.sessions, sid)
	m.mu.Unlock()
	if existed {
		metrics.ActiveSessions.Dec()
	}
}

// AddSSH attaches an SSH channel to sid, serialized per session. If a
// channel is already attached it is cleanly released first. Makes at most
// AddSSHMaxAttempts connect attempts in total, with linear backoff
// base*attempt between them.
func (m *Manager) AddSSH(ctx context.Context, sid SessionID, host string) error {
	s, ok := m.get(sid)
	if !ok {
		return ErrUnknownSession
	}

	if err := s.beginStartStop(sid); err != nil {
		return err
	}
	defer s.endStartStop()

	s.mu.Lock()
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
		if s.state == SshReady {
			s.state = Connected
		}
	}
	s.mu.Unlock()

	policy := &linearBackOff{base: m.addSSHBackoffBase, attempt: 0, max: m.addSSHMaxAttempts}

	var channel Channel
	err := backoff.Retry(func() error {
		ch, cerr := m.executor.Connect(ctx, host)
		if cerr != nil {
			slog.Warn("add_ssh attempt failed", "session_id", sid, "host", host, "attempt", policy.attempt, "error", cerr)
			return cerr
		}
		channel = ch
		return nil
	}, policy)

	if err != nil {
		return err
	}

	s.mu.Lock()
	s.channel = channel
	s.state = SshReady
	s.mu.Unlock()

	slog.Info("ssh attached", "session_id", sid, "host", host)
	return nil
}

// linearBackOff implements backoff.BackOff with delay = base*attempt,
// attempt starting at 1 (spec §4.5: "linear backoff base*attempt seconds,
// base=2"), grounded on the cenkalti/backoff custom-policy pattern.
type linearBackOff struct {
	base    time.Duration
	attempt int
	max     int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.max {
		return backoff.Stop
	}
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// StartMonitor requires SshReady, refuses if a monitor already exists,
// spawns a monitor task, and transitions the session to Streaming.
func (m *Manager) StartMonitor(ctx context.Context, sid SessionID, path, label string, sink Sink) error {
	s, ok := m.get(sid)
	if !ok {
		return ErrUnknownSession
	}

	if err := s.beginStartStop(sid); err != nil {
		return err
	}
	defer s.endStartStop()

	s.mu.Lock()
	if s.state != SshReady {
		s.mu.Unlock()
		return ErrNotSshReady
	}
	if s.monitor != nil {
		s.mu.Unlock()
		return ErrMonitorExists
	}
	channel := s.channel
	s.mu.Unlock()

	monCtx, cancel := context.WithCancel(ctx)
	mon := &monitor{
		sid:               sid,
		label:             label,
		path:              path,
		channel:           channel,
		sink:              sink,
		cancel:            cancel,
		maxLinesPerSecond: m.maxLinesPerSecond,
		onTerminate:       func() { m.clearMonitor(sid) },
	}

	s.mu.Lock()
	s.monitor = mon
	s.state = Streaming
	s.everMonitored = true
	s.mu.Unlock()

	go mon.run(monCtx)

	metrics.ActiveMonitors.Inc()
	slog.Info("monitor started", "session_id", sid, "path", path, "label", label)
	return nil
}

// clearMonitor is invoked by a monitor when it terminates on its own
// (channel EOF, internal read error) rather than via StopAll, leaving the
// session SshReady-equivalent (spec §4.5 failure semantics).
func (m *Manager) clearMonitor(sid SessionID) {
	s, ok := m.get(sid)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor == nil {
		return
	}
	s.monitor = nil
	metrics.ActiveMonitors.Dec()
	if s.state == Streaming {
		s.state = SshReady
	}
}

// StopAll cancels the monitor, releases SSH, and marks the session
// inactive. Idempotent.
func (m *Manager) StopAll(sid SessionID) {
	s, ok := m.get(sid)
	if !ok {
		return
	}

	if err := s.beginStartStop(sid); err != nil {
		return
	}
	defer s.endStartStop()

	s.mu.Lock()
	mon := s.monitor
	ch := s.channel
	s.monitor = nil
	s.channel = nil
	if s.state != TornDown {
		s.state = TornDown
	}
	if s.idleWatchCancel != nil {
		s.idleWatchCancel()
	}
	s.mu.Unlock()

	if mon != nil {
		metrics.ActiveMonitors.Dec()
		mon.cancel()
	}
	if ch != nil {
		ch.Close()
	}

	slog.Info("session torn down", "session_id", sid)
}

func (s *Session) beginStartStop(sid SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startStopInProgress {
		return &errConflict{sid: sid}
	}
	s.startStopInProgress = true
	return nil
}

func (s *Session) endStartStop() {
	s.mu.Lock()
	s.startStopInProgress = false
	s.mu.Unlock()
}

// runIdleWatch tears down sid if it exceeds the idle timeout while no
// monitor is running (spec §4.5: "Once a monitor is running, the idle
// timer is suspended; end-of-monitor does not re-arm it").
func (m *Manager) runIdleWatch(ctx context.Context, sid SessionID) {
	ticker := time.NewTicker(m.idleWatchTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, ok := m.get(sid)
			if !ok {
				return
			}
			s.mu.Lock()
			hasMonitor := s.monitor != nil
			everStreamed := s.everMonitored
			connectedAt := s.connectedAt
			s.mu.Unlock()

			if hasMonitor || everStreamed {
				continue
			}
			if time.Since(connectedAt) > m.idleTimeout {
				slog.Info("session idle timeout", "session_id", sid)
				m.StopAll(sid)
				return
			}
		}
	}
}

// Count returns the number of tracked sessions, for /api/connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot describes one session for diagnostics endpoints.
type Snapshot struct {
	ID    SessionID `json:"session_id"`
	State string    `json:"state"`
}

// Snapshots returns a point-in-time view of every tracked session.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Snapshot{ID: s.ID, State: s.State().String()})
	}
	return out
}
