// Package collectjob is the Collection Job Manager (C4): spawns and tracks
// background bulk-collection jobs, drives the progress state machine, and
// packages artifacts into archives.
//
// Algorithm grounded on original_source's core/broker_col.py (JST folder
// naming, continue-on-error fetch loop, flat deflate zip); lifecycle shape
// generalized from the teacher's internal/collector/batcher.go
// (flush-on-condition + graceful final flush) and
// internal/server/retention.go (atomic-stats background worker idiom).
//
// Per spec §9 Open Question 1, this package exposes only the asynchronous
// job form: Start returns a JobID immediately, progress is polled via Get.
// There is no synchronous progress-callback entry point.
package collectjob

import "time"

// JobState is a CollectionJob's position in its DAG:
// Pending -> Running -> {Completed|Failed}.
type JobState int

const (
	Pending JobState = iota
	Running
	Completed
	Failed
)

func (s JobState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage is a ProgressDescriptor's position; stages proceed in this order
// and never repeat (spec §3, §8 inv. 3).
type Stage string

const (
	StageLogfiles Stage = "logfiles"
	StageCommands Stage = "commands"
	StageZip      Stage = "zip"
	StageDone     Stage = "done"
)

// Progress is the (stage, current, total, message) triple from spec §3.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// JobID identifies one CollectionJob.
type JobID string

// Job is one CollectionJob record (spec §3).
type Job struct {
	ID          JobID      `json:"job_id"`
	CVM         string     `json:"cvm"`
	State       JobState   `json:"-"`
	StateLabel  string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Folder      string     `json:"folder"`
	Progress    Progress   `json:"progress"`
	ArchivePath string     `json:"archive_path,omitempty"`
	Message     string     `json:"message,omitempty"`
	ErrorMsg    string     `json:"error,omitempty"`
}

// snapshot returns a defensive copy safe to hand to callers outside the
// job table's lock.
func (j *Job) snapshot() *Job {
	cp := *j
	cp.StateLabel = j.State.String()
	return &cp
}

// CaptureItem is the two-variant union from spec §3: FileCapture or
// CommandCapture. Go has no tagged unions, so this carries both fields and
// a discriminant (spec §9 design note: "replace dynamic payloads with
// tagged variants").
type CaptureItem struct {
	Kind       CaptureKind
	RemotePath string // set iff Kind == FileCapture
	Name       string // set iff Kind == CommandCapture
	Command    string // set iff Kind == CommandCapture
}

// CaptureKind discriminates CaptureItem's two variants.
type CaptureKind int

const (
	FileCapture CaptureKind = iota
	CommandCapture
)
