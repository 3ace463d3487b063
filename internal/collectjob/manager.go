package collectjob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loghoi/loghoi/internal/metrics"
)

// OnTerminal is invoked on a job transition, so callers can append to the
// audit log and, for terminal states, invalidate caches (spec §4.6: "on job
// completion, invalidate all keys matching ^col:"; spec §4.9: "every
// collection job transition is appended to the audit log").
type OnTerminal func(job *Job)

// Manager runs CaptureItem lists against CVMs as background jobs (spec
// §4.4). The job table is protected by a single mutex (spec §5).
type Manager struct {
	executor Executor

	mu   sync.Mutex
	jobs map[JobID]*Job

	outputLogDir string
	outputZipDir string
	hostUID      int
	hostGID      int

	onRunning  OnTerminal
	onTerminal OnTerminal
}

// NewManager constructs a Manager. hostUID/hostGID < 0 disables ownership
// normalization (spec §4.4 step 5). onRunning fires once a job leaves
// Pending for Running; onTerminal fires once it reaches Completed or
// Failed. Either may be nil.
func NewManager(executor Executor, outputLogDir, outputZipDir string, hostUID, hostGID int, onRunning, onTerminal OnTerminal) *Manager {
	return &Manager{
		executor:     executor,
		jobs:         make(map[JobID]*Job),
		outputLogDir: outputLogDir,
		outputZipDir: outputZipDir,
		hostUID:      hostUID,
		hostGID:      hostGID,
		onRunning:    onRunning,
		onTerminal:   onTerminal,
	}
}

func newJobID() JobID { return JobID(uuid.NewString()) }

// Start spawns a background job collecting items from cvm. Returns the
// JobID immediately; the job proceeds asynchronously (spec §9 Open
// Question 1: no synchronous variant).
func (m *Manager) Start(ctx context.Context, cvm string, items []CaptureItem) JobID {
	now := time.Now()
	folder := fmt.Sprintf("loghoi_%s", now.Format("20060102_150405"))

	job := &Job{
		ID:        newJobID(),
		CVM:       cvm,
		State:     Pending,
		CreatedAt: now,
		Folder:    folder,
		Progress:  Progress{Stage: StageLogfiles, Current: 0, Total: 0},
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.run(context.Background(), job, items)

	return job.ID
}

// Get returns a snapshot of the job, or (nil, false) if unknown.
func (m *Manager) Get(id JobID) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return j.snapshot(), true
}

func (m *Manager) updateJob(id JobID, fn func(j *Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		fn(j)
	}
}

func (m *Manager) run(ctx context.Context, job *Job, items []CaptureItem) {
	logger := slog.With("job_id", job.ID, "cvm", job.CVM)

	started := time.Now()
	m.updateJob(job.ID, func(j *Job) {
		j.State = Running
		j.StartedAt = &started
	})
	if m.onRunning != nil {
		if j, ok := m.Get(job.ID); ok {
			m.onRunning(j)
		}
	}

	channel, err := m.executor.Connect(ctx, job.CVM)
	if err != nil {
		logger.Error("job failed: ssh connect", "error", err)
		m.finish(job.ID, Failed, fmt.Sprintf("ssh connect failed: %v", err))
		return
	}
	defer channel.Close()

	dir := filepath.Join(m.outputLogDir, job.Folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("job failed: mkdir", "error", err)
		m.finish(job.ID, Failed, fmt.Sprintf("mkdir failed: %v", err))
		return
	}

	var fileItems, cmdItems []CaptureItem
	for _, it := range items {
		switch it.Kind {
		case FileCapture:
			fileItems = append(fileItems, it)
		case CommandCapture:
			cmdItems = append(cmdItems, it)
		}
	}

	m.runFetchStage(ctx, job, channel, dir, fileItems, logger)
	m.runCommandStage(ctx, job, channel, dir, cmdItems, logger)

	archivePath, err := m.runArchiveStage(job, dir, logger)
	if err != nil {
		logger.Error("job failed: archive", "error", err)
		m.finish(job.ID, Failed, fmt.Sprintf("archive failed: %v", err))
		return
	}

	if m.hostUID >= 0 && m.hostGID >= 0 {
		normalizeOwnership(dir, archivePath, m.hostUID, m.hostGID, logger)
	}

	m.updateJob(job.ID, func(j *Job) {
		j.Progress = Progress{Stage: StageDone, Current: 1, Total: 1, Message: "finished collect log"}
		j.Message = "finished collect log"
		j.ArchivePath = archivePath
	})
	m.finish(job.ID, Completed, "")
}

// runFetchStage fetches every file-capture item, best-effort: failures are
// counted but never abort the run (spec §4.4 step 2).
func (m *Manager) runFetchStage(ctx context.Context, job *Job, channel Channel, dir string, items []CaptureItem, logger *slog.Logger) {
	total := len(items)
	m.updateJob(job.ID, func(j *Job) {
		j.Progress = Progress{Stage: StageLogfiles, Current: 0, Total: total}
	})

	current := 0
	failures := 0
	for _, it := range items {
		local := filepath.Join(dir, filepath.Base(it.RemotePath))
		if err := m.executor.Fetch(ctx, channel, it.RemotePath, local); err != nil {
			failures++
			logger.Warn("fetch failed, continuing", "remote_path", it.RemotePath, "error", err)
		} else {
			current++
		}
		m.updateJob(job.ID, func(j *Job) {
			j.Progress = Progress{Stage: StageLogfiles, Current: current, Total: total}
		})
	}
	if failures > 0 {
		logger.Info("fetch stage completed with failures", "failures", failures, "total", total)
	}
}

// runCommandStage executes every command-capture item over one shared SSH
// channel (spec §4.4 step 3: "to avoid reconnect cost"). Errors are logged
// and skipped; progress advances regardless.
func (m *Manager) runCommandStage(ctx context.Context, job *Job, channel Channel, dir string, items []CaptureItem, logger *slog.Logger) {
	total := len(items)
	m.updateJob(job.ID, func(j *Job) {
		j.Progress = Progress{Stage: StageCommands, Current: 0, Total: total}
	})

	now := time.Now().Format("20060102_150405")
	for i, it := range items {
		out, err := m.executor.Exec(ctx, channel, it.Command)
		if err != nil {
			logger.Warn("command exec failed, skipping", "name", it.Name, "error", err)
		} else {
			writeCommandOutput(dir, it.Name, now, out, logger)
		}
		m.updateJob(job.ID, func(j *Job) {
			j.Progress = Progress{Stage: StageCommands, Current: i + 1, Total: total}
		})
	}
}

func writeCommandOutput(dir, name, timestamp string, out LineSource, logger *slog.Logger) {
	defer out.Close()
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.txt", name, timestamp))
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("failed to create command output file", "path", path, "error", err)
		return
	}
	defer f.Close()

	for {
		line, err := out.Next()
		if err != nil {
			return
		}
		fmt.Fprintln(f, line)
	}
}

func (m *Manager) finish(id JobID, state JobState, errMsg string) {
	now := time.Now()
	m.updateJob(id, func(j *Job) {
		j.State = state
		j.CompletedAt = &now
		if errMsg != "" {
			j.ErrorMsg = errMsg
		}
	})

	metrics.JobsTotal.WithLabelValues(state.String()).Inc()

	if m.onTerminal != nil {
		if j, ok := m.Get(id); ok {
			m.onTerminal(j)
		}
	}
}
