package streamsession

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeLineSource emits its lines at a fixed rate; once they are exhausted it
// keeps waiting, like tail -f, until it is closed.
type fakeLineSource struct {
	mu     sync.Mutex
	lines  []string
	i      int
	closed bool
	delay  time.Duration
}

func (f *fakeLineSource) Next() (string, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return "", io.EOF
	}
	if f.i >= len(f.lines) {
		f.mu.Unlock()
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		return f.Next()
	}
	line := f.lines[f.i]
	f.i++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return line, nil
}

func (f *fakeLineSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakeChannel struct {
	host    string
	source  *fakeLineSource
	closed  atomic.Bool
	failNew bool
}

func (f *fakeChannel) Host() string { return f.host }
func (f *fakeChannel) Close() error { f.closed.Store(true); return nil }
func (f *fakeChannel) Stream(ctx context.Context, path string) (LineSource, error) {
	return f.source, nil
}

type fakeExecutor struct {
	mu          sync.Mutex
	failuresLeft int
	lastHost    string
	makeChannel func() *fakeChannel
}

func (f *fakeExecutor) Connect(ctx context.Context, host string) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHost = host
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("connection refused")
	}
	return f.makeChannel(), nil
}

type fakeSink struct {
	mu      sync.Mutex
	records []LogRecord
}

func (s *fakeSink) Push(rec LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeSink) snapshot() []LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogRecord, len(s.records))
	copy(out, s.records)
	return out
}

func testConfig() Config {
	return Config{
		MaxLinesPerSecond: 1000,
		IdleTimeout:       300 * time.Second,
		AddSSHMaxAttempts: 5,
		AddSSHBackoffBase: time.Millisecond, // fast for tests
		IdleWatchTick:     50 * time.Millisecond,
	}
}

func TestStateMachineHappyPath(t *testing.T) {
	exec := &fakeExecutor{makeChannel: func() *fakeChannel {
		return &fakeChannel{host: "10.0.0.5", source: &fakeLineSource{lines: []string{"a", "b"}}}
	}}
	m := NewManager(exec, testConfig())

	sid := m.OnConnect()
	require.Equal(t, Connected, mustSession(t, m, sid).State())

	require.NoError(t, m.AddSSH(context.Background(), sid, "10.0.0.5"))
	require.Equal(t, SshReady, mustSession(t, m, sid).State())

	sink := &fakeSink{}
	require.NoError(t, m.StartMonitor(context.Background(), sid, "/x.log", "x", sink))
	require.Equal(t, Streaming, mustSession(t, m, sid).State())

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)

	m.StopAll(sid)
	require.Equal(t, TornDown, mustSession(t, m, sid).State())

	// idempotent
	m.StopAll(sid)
}

func TestStartMonitorRequiresSshReady(t *testing.T) {
	exec := &fakeExecutor{makeChannel: func() *fakeChannel { return &fakeChannel{source: &fakeLineSource{}} }}
	m := NewManager(exec, testConfig())
	sid := m.OnConnect()

	err := m.StartMonitor(context.Background(), sid, "/x.log", "x", &fakeSink{})
	require.ErrorIs(t, err, ErrNotSshReady)
}

func TestStartMonitorRefusesDuplicate(t *testing.T) {
	exec := &fakeExecutor{makeChannel: func() *fakeChannel {
		return &fakeChannel{source: &fakeLineSource{delay: time.Hour}}
	}}
	m := NewManager(exec, testConfig())
	sid := m.OnConnect()
	require.NoError(t, m.AddSSH(context.Background(), sid, "h"))

	require.NoError(t, m.StartMonitor(context.Background(), sid, "/x.log", "x", &fakeSink{}))
	err := m.StartMonitor(context.Background(), sid, "/x.log", "x", &fakeSink{})
	require.ErrorIs(t, err, ErrMonitorExists)

	m.StopAll(sid)
}

func TestAddSSHRetriesThenSucceeds(t *testing.T) {
	exec := &fakeExecutor{
		failuresLeft: 3,
		makeChannel:  func() *fakeChannel { return &fakeChannel{source: &fakeLineSource{}} },
	}
	m := NewManager(exec, testConfig())
	sid := m.OnConnect()

	require.NoError(t, m.AddSSH(context.Background(), sid, "10.0.0.5"))
	require.Equal(t, SshReady, mustSession(t, m, sid).State())
}

func TestAddSSHUsesCallerSuppliedCVMIP(t *testing.T) {
	// Open Question 2: no hardcoded fallback IP anywhere in this flow.
	exec := &fakeExecutor{makeChannel: func() *fakeChannel { return &fakeChannel{source: &fakeLineSource{}} }}
	m := NewManager(exec, testConfig())
	sid := m.OnConnect()

	require.NoError(t, m.AddSSH(context.Background(), sid, "192.168.1.42"))
	require.Equal(t, "192.168.1.42", exec.lastHost)
}

func TestAddSSHExhaustsRetries(t *testing.T) {
	exec := &fakeExecutor{failuresLeft: 100, makeChannel: func() *fakeChannel { return &fakeChannel{} }}
	cfg := testConfig()
	cfg.AddSSHMaxAttempts = 3
	m := NewManager(exec, cfg)
	sid := m.OnConnect()

	err := m.AddSSH(context.Background(), sid, "10.0.0.5")
	require.Error(t, err)
	require.Equal(t, Connected, mustSession(t, m, sid).State(), "state remains Connected on final failure")
}

func TestSequenceMonotonicAndNoGapsOnDelivery(t *testing.T) {
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = "line"
	}
	exec := &fakeExecutor{makeChannel: func() *fakeChannel {
		return &fakeChannel{source: &fakeLineSource{lines: lines}}
	}}
	cfg := testConfig()
	cfg.MaxLinesPerSecond = 1000
	m := NewManager(exec, cfg)
	sid := m.OnConnect()
	require.NoError(t, m.AddSSH(context.Background(), sid, "h"))

	sink := &fakeSink{}
	require.NoError(t, m.StartMonitor(context.Background(), sid, "/x.log", "x", sink))

	// The monitor pauses ~100ms after each delivered line, so 50 lines take ~5s.
	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 50 }, 10*time.Second, 10*time.Millisecond)
	m.StopAll(sid)

	recs := sink.snapshot()
	for i, r := range recs {
		require.Equal(t, uint64(i+1), r.Sequence)
	}
}

func TestRateLimitDropsExcessLines(t *testing.T) {
	lines := make([]string, 200)
	for i := range lines {
		lines[i] = "line"
	}
	exec := &fakeExecutor{makeChannel: func() *fakeChannel {
		return &fakeChannel{source: &fakeLineSource{lines: lines}}
	}}
	cfg := testConfig()
	cfg.MaxLinesPerSecond = 20
	m := NewManager(exec, cfg)
	sid := m.OnConnect()
	require.NoError(t, m.AddSSH(context.Background(), sid, "h"))

	sink := &fakeSink{}
	require.NoError(t, m.StartMonitor(context.Background(), sid, "/x.log", "x", sink))

	time.Sleep(1100 * time.Millisecond)
	m.StopAll(sid)

	got := len(sink.snapshot())
	require.LessOrEqual(t, got, 21, "at most ~capacity lines delivered in the first second")
}

func TestIdleTimeoutTearsDownSessionWithNoMonitor(t *testing.T) {
	exec := &fakeExecutor{makeChannel: func() *fakeChannel { return &fakeChannel{source: &fakeLineSource{}} }}
	cfg := testConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	cfg.IdleWatchTick = 5 * time.Millisecond
	m := NewManager(exec, cfg)

	sid := m.OnConnect()
	require.Eventually(t, func() bool {
		s, ok := m.get(sid)
		return !ok || s.State() == TornDown
	}, time.Second, 5*time.Millisecond)
}

func mustSession(t *testing.T, m *Manager, sid SessionID) *Session {
	t.Helper()
	s, ok := m.get(sid)
	require.True(t, ok)
	return s
}
