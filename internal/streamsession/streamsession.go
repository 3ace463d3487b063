// Package streamsession is the Stream Session Manager (C5) — the protocol
// heart of the service: per-session SSH lifecycle, monitor task, rate
// limit, idle timeout, and cleanup on disconnect.
//
// State machine and locking grounded on original_source's
// fastapi_app/ssh_manager.py (SSHConnectionManager / LogMonitor reconnect
// loop), re-expressed with explicit Session -> Monitor -> Channel
// ownership per spec §9's cyclic-reference design note. Concurrency shape
// (semaphore-bounded map, cursor tracking, reconnect backoff) generalized
// from the teacher's internal/collector/stream.go and streammanager.go.
package streamsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a session's position in the C5 state machine.
type State int

const (
	Idle State = iota
	Connected
	SshReady
	Streaming
	TornDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connected:
		return "connected"
	case SshReady:
		return "ssh_ready"
	case Streaming:
		return "streaming"
	case TornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// SessionID identifies one operator session.
type SessionID string

// LogRecord is one delivered line, pushed to a session's Sink.
type LogRecord struct {
	Label     string    `json:"name"`
	Line      string    `json:"line"`
	Sequence  uint64    `json:"line_number"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink is the outbound push channel to one operator session (glossary:
// Sink). StartMonitor pushes every delivered record through it.
type Sink interface {
	Push(rec LogRecord) error
}

// Session is a single operator's live state: at most one SSH channel and
// at most one monitor task at any instant (spec §3 invariant, §8 inv. 1).
type Session struct {
	ID SessionID

	mu                  sync.Mutex
	state               State
	connectedAt         time.Time
	lastActivityAt      time.Time
	channel             Channel
	monitor             *monitor
	everMonitored       bool
	startStopInProgress bool
	idleWatchCancel     context.CancelFunc
}

// Executor is the subset of sshexec.Executor the session manager needs,
// narrowed to an interface so tests can substitute a fake transport
// without a live SSH server.
type Executor interface {
	Connect(ctx context.Context, host string) (Channel, error)
}

// Channel is an open SSH channel capable of starting a tail -f stream.
// sshexec.Channel satisfies this via the adapter in sshadapter.go.
type Channel interface {
	Host() string
	Close() error
	Stream(ctx context.Context, path string) (LineSource, error)
}

// LineSource yields lines from a remote tail -f, terminated by io.EOF.
type LineSource interface {
	Next() (string, error)
	Close() error
}

// State returns the session's current state under its own lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// errConflict is returned when a start/stop request arrives while another
// is already in flight for the same session (spec §4.5: "a request
// arriving while another is in flight is refused with a non-fatal
// decline").
type errConflict struct{ sid SessionID }

func (e *errConflict) Error() string {
	return fmt.Sprintf("streamsession: session %s has a start/stop already in progress", e.sid)
}

// IsConflict reports whether err is the non-fatal decline issued when a
// start/stop request arrives while another is already in flight for the
// same session (spec §7 Conflict kind).
func IsConflict(err error) bool {
	var c *errConflict
	return errors.As(err, &c)
}

// ErrNotSshReady is returned by StartMonitor when the session has not
// completed AddSSH.
var ErrNotSshReady = fmt.Errorf("streamsession: session is not ssh-ready")

// ErrMonitorExists is returned by StartMonitor when a monitor is already
// running for the session.
var ErrMonitorExists = fmt.Errorf("streamsession: monitor already running")

// ErrUnknownSession is returned for operations against a sid with no
// session record.
var ErrUnknownSession = fmt.Errorf("streamsession: unknown session")

func newSessionID() SessionID { return SessionID(uuid.NewString()) }
