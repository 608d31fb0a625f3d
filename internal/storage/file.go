package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileAdapter keeps the snapshot in a single JSON file and replaces it
// atomically: the new document is written and synced to "<path>.tmp", the
// current file is renamed to "<path>.bak", the temp file is renamed into
// place and the backup removed. A crash between the two renames leaves only
// the backup behind, which Load picks up.
type FileAdapter struct {
	path   string
	logger *slog.Logger
}

func NewFileAdapter(path string) (*FileAdapter, error) {
	if path == "" {
		return nil, errors.New("file storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileAdapter{
		path:   path,
		logger: slog.With("component", "storage", "adapter", "file", "path", path),
	}, nil
}

func (a *FileAdapter) Name() string { return "file" }

func (a *FileAdapter) Path() string { return a.path }

func (a *FileAdapter) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(a.path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	data, err = os.ReadFile(a.backupPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot backup: %w", err)
	}
	a.logger.Warn("Snapshot missing, recovered from backup")
	return data, nil
}

func (a *FileAdapter) Save(ctx context.Context, data []byte) error {
	tmp := a.path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		os.Remove(tmp)
		return err
	}

	hadCurrent := false
	if _, err := os.Stat(a.path); err == nil {
		hadCurrent = true
		if err := os.Rename(a.path, a.backupPath()); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("backup snapshot: %w", err)
		}
	}

	if err := os.Rename(tmp, a.path); err != nil {
		if hadCurrent {
			// Put the previous document back so Load still finds it.
			os.Rename(a.backupPath(), a.path)
		}
		return fmt.Errorf("replace snapshot: %w", err)
	}
	syncDir(filepath.Dir(a.path))

	if err := os.Remove(a.backupPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("Failed to remove snapshot backup", "error", err)
	}
	return nil
}

// Health checks the snapshot directory accepts new files.
func (a *FileAdapter) Health(ctx context.Context) error {
	f, err := os.CreateTemp(filepath.Dir(a.path), ".health-*")
	if err != nil {
		return fmt.Errorf("snapshot directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Quarantine renames the current snapshot to "<path>.corrupt-<unix>".
func (a *FileAdapter) Quarantine(ctx context.Context, now time.Time) (string, error) {
	src := a.path
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		src = a.backupPath()
	}
	dst := fmt.Sprintf("%s.corrupt-%d", a.path, now.Unix())
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("quarantine snapshot: %w", err)
	}
	a.logger.Warn("Moved unreadable snapshot aside", "target", dst)
	return dst, nil
}

func (a *FileAdapter) Close() error { return nil }

func (a *FileAdapter) backupPath() string { return a.path + ".bak" }

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	return f.Close()
}

// syncDir flushes directory entries after a rename. Not every platform
// supports fsync on directories, so errors are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
