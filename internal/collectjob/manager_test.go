package collectjob

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeChannel struct{ host string }

func (f *fakeChannel) Host() string { return f.host }
func (f *fakeChannel) Close() error { return nil }

type fakeLineSource struct {
	lines []string
	i     int
}

func (f *fakeLineSource) Next() (string, error) {
	if f.i >= len(f.lines) {
		return "", io.EOF
	}
	l := f.lines[f.i]
	f.i++
	return l, nil
}
func (f *fakeLineSource) Close() error { return nil }

type fakeExecutor struct {
	connectErr  error
	fetchFail   map[string]bool
	commandOut  map[string][]string
}

func (f *fakeExecutor) Connect(ctx context.Context, host string) (Channel, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeChannel{host: host}, nil
}

func (f *fakeExecutor) Fetch(ctx context.Context, ch Channel, remotePath, localPath string) error {
	if f.fetchFail[remotePath] {
		return errors.New("fetch failed")
	}
	return os.WriteFile(localPath, []byte("contents of "+remotePath), 0o644)
}

func (f *fakeExecutor) Exec(ctx context.Context, ch Channel, command string) (LineSource, error) {
	return &fakeLineSource{lines: f.commandOut[command]}, nil
}

func waitTerminal(t *testing.T, m *Manager, id JobID) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, ok := m.Get(id)
		if !ok {
			return false
		}
		job = j
		return j.State == Completed || j.State == Failed
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestCollectionJobSuccess(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "log")
	zipDir := filepath.Join(dir, "zip")

	exec := &fakeExecutor{
		commandOut: map[string][]string{
			"uptime": {"up 3 days"},
		},
	}

	var terminal *Job
	m := NewManager(exec, logDir, zipDir, -1, -1, nil, func(j *Job) { terminal = j })

	items := []CaptureItem{
		{Kind: FileCapture, RemotePath: "/var/log/a.log"},
		{Kind: FileCapture, RemotePath: "/var/log/b.log"},
		{Kind: CommandCapture, Name: "uptime", Command: "uptime"},
	}

	id := m.Start(context.Background(), "10.0.0.5", items)
	job := waitTerminal(t, m, id)

	require.Equal(t, Completed, job.State)
	require.Equal(t, "finished collect log", job.Message)
	require.Regexp(t, `loghoi_\d{8}_\d{6}\.zip$`, job.ArchivePath)
	require.FileExists(t, job.ArchivePath)

	folderDir := filepath.Join(logDir, job.Folder)
	entries, err := os.ReadDir(folderDir)
	require.NoError(t, err)
	require.Len(t, entries, 3) // a.log, b.log, uptime_<ts>.txt

	r, err := zip.OpenReader(job.ArchivePath)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, len(entries), "archive enumerates exactly the regular files present in the folder")
	for _, f := range r.File {
		require.False(t, strings.Contains(f.Name, "/"), "zip entries must be flat")
	}
}

func TestCollectionJobContinuesPastFetchFailures(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{fetchFail: map[string]bool{"/var/log/bad.log": true}}
	m := NewManager(exec, filepath.Join(dir, "log"), filepath.Join(dir, "zip"), -1, -1, nil, nil)

	items := []CaptureItem{
		{Kind: FileCapture, RemotePath: "/var/log/good.log"},
		{Kind: FileCapture, RemotePath: "/var/log/bad.log"},
	}
	id := m.Start(context.Background(), "10.0.0.5", items)
	job := waitTerminal(t, m, id)

	require.Equal(t, Completed, job.State, "per-item fetch failures must not fail the job")
}

func TestCollectionJobFailsOnConnectError(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{connectErr: errors.New("auth failed")}
	m := NewManager(exec, filepath.Join(dir, "log"), filepath.Join(dir, "zip"), -1, -1, nil, nil)

	id := m.Start(context.Background(), "10.0.0.5", nil)
	job := waitTerminal(t, m, id)

	require.Equal(t, Failed, job.State)
	require.Contains(t, job.ErrorMsg, "auth failed")
}

func TestProgressStagesNonRegressive(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{}
	var stagesSeen []Stage
	var lastCurrent int

	m := NewManager(exec, filepath.Join(dir, "log"), filepath.Join(dir, "zip"), -1, -1, nil, nil)

	items := []CaptureItem{
		{Kind: FileCapture, RemotePath: "/var/log/a.log"},
		{Kind: FileCapture, RemotePath: "/var/log/b.log"},
	}
	id := m.Start(context.Background(), "10.0.0.5", items)

	order := map[Stage]int{StageLogfiles: 0, StageCommands: 1, StageZip: 2, StageDone: 3}
	require.Eventually(t, func() bool {
		j, ok := m.Get(id)
		if !ok {
			return false
		}
		if len(stagesSeen) == 0 || stagesSeen[len(stagesSeen)-1] != j.Progress.Stage {
			if len(stagesSeen) > 0 {
				require.GreaterOrEqual(t, order[j.Progress.Stage], order[stagesSeen[len(stagesSeen)-1]])
			}
			stagesSeen = append(stagesSeen, j.Progress.Stage)
			lastCurrent = 0
		}
		require.GreaterOrEqual(t, j.Progress.Current, lastCurrent)
		require.LessOrEqual(t, j.Progress.Current, j.Progress.Total)
		lastCurrent = j.Progress.Current
		return j.State == Completed || j.State == Failed
	}, 2*time.Second, time.Millisecond)
}

func TestZipDirectoryFlatDeterministicMembers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))

	zip1 := filepath.Join(t.TempDir(), "out1.zip")
	zip2 := filepath.Join(t.TempDir(), "out2.zip")
	require.NoError(t, zipDirectoryFlat(dir, zip1))
	require.NoError(t, zipDirectoryFlat(dir, zip2))

	names := func(path string) []string {
		r, err := zip.OpenReader(path)
		require.NoError(t, err)
		defer r.Close()
		var out []string
		for _, f := range r.File {
			out = append(out, f.Name)
		}
		return out
	}

	require.ElementsMatch(t, names(zip1), names(zip2))
}
