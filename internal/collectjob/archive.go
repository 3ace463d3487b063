package collectjob

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// runArchiveStage creates output/zip/<folder>.zip containing every regular
// file directly inside dir, with flat entry names and deflate compression
// (spec §4.4 step 4, §3 ArchiveBundle invariant).
func (m *Manager) runArchiveStage(job *Job, dir string, logger *slog.Logger) (string, error) {
	m.updateJob(job.ID, func(j *Job) {
		j.Progress = Progress{Stage: StageZip, Current: 0, Total: 100}
	})

	if err := os.MkdirAll(m.outputZipDir, 0o755); err != nil {
		return "", fmt.Errorf("collectjob: mkdir zip dir: %w", err)
	}

	zipPath := filepath.Join(m.outputZipDir, job.Folder+".zip")
	if err := zipDirectoryFlat(dir, zipPath); err != nil {
		return "", err
	}

	m.updateJob(job.ID, func(j *Job) {
		j.Progress = Progress{Stage: StageZip, Current: 100, Total: 100}
	})

	logger.Info("archive stage completed", "zip_path", zipPath)
	return zipPath, nil
}

// zipDirectoryFlat writes every regular file directly inside dir into a new
// zip archive at zipPath with flat entry names (no inner directories).
// Deterministic in file set: re-zipping the same directory twice produces
// archives with the same member list (spec §8 round-trip property).
func zipDirectoryFlat(dir, zipPath string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("collectjob: read dir %s: %w", dir, err)
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("collectjob: create zip %s: %w", zipPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := addFileToZip(zw, filepath.Join(dir, e.Name()), e.Name()); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addFileToZip(zw *zip.Writer, srcPath, entryName string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("collectjob: open %s: %w", srcPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = entryName
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, src)
	return err
}

// normalizeOwnership chowns every produced file, the directory, and the
// archive to (uid, gid). Failure is non-fatal (spec §4.4 step 5).
func normalizeOwnership(dir, archivePath string, uid, gid int, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("ownership normalization: read dir failed", "error", err)
		return
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if err := os.Chown(p, uid, gid); err != nil {
			logger.Warn("ownership normalization: chown failed", "path", p, "error", err)
		}
	}
	if err := os.Chown(dir, uid, gid); err != nil {
		logger.Warn("ownership normalization: chown dir failed", "path", dir, "error", err)
	}
	if err := os.Chown(archivePath, uid, gid); err != nil {
		logger.Warn("ownership normalization: chown archive failed", "path", archivePath, "error", err)
	}
}
