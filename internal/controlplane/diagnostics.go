package controlplane

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"family-safety-control/internal/events"
	"family-safety-control/internal/model"
)

const diagnosticsTimeLayout = "20060102T150405.000Z"

var diagnosticsNameRe = regexp.MustCompile(`^\d{8}T\d{6}\.\d{3}Z(-\d+)?\.zip$`)

func (s *Store) diagnosticsDir(child model.ChildID) string {
	return filepath.Join(s.opts.DataDir, "diagnostics", child.String())
}

// SaveDiagnostics streams a zip bundle uploaded by an agent into the data
// directory and records it as the latest bundle of child. The upload is
// written without holding the store lock.
func (s *Store) SaveDiagnostics(ctx context.Context, child model.ChildID, r io.Reader) (model.DiagnosticsBundle, error) {
	if s.opts.DataDir == "" {
		return model.DiagnosticsBundle{}, ErrDiagnosticsNotStored
	}
	dir := s.diagnosticsDir(child)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return model.DiagnosticsBundle{}, fmt.Errorf("create diagnostics directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return model.DiagnosticsBundle{}, fmt.Errorf("create diagnostics file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	// One byte past the limit is enough to tell an oversized upload apart.
	n, err := io.Copy(tmp, io.LimitReader(r, s.opts.DiagnosticsMaxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return model.DiagnosticsBundle{}, fmt.Errorf("write diagnostics: %w", err)
	}
	if n > s.opts.DiagnosticsMaxBytes {
		return model.DiagnosticsBundle{}, ErrDiagnosticsTooLarge
	}
	if n == 0 {
		return model.DiagnosticsBundle{}, invalidf("diagnostics bundle is empty")
	}
	zr, err := zip.OpenReader(tmpName)
	if err != nil {
		return model.DiagnosticsBundle{}, invalidf("diagnostics bundle is not a zip archive")
	}
	zr.Close()

	created := s.now().UTC()
	name, err := placeBundle(tmpName, dir, created)
	if err != nil {
		return model.DiagnosticsBundle{}, err
	}
	bundle := model.DiagnosticsBundle{ChildID: child, Name: name, Size: n, CreatedAt: created}

	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()
	s.ensureChildLocked(child, now)
	if prev, ok := s.diagnostics[child]; !ok || !prev.CreatedAt.After(bundle.CreatedAt) {
		s.diagnostics[child] = bundle
	}
	s.auditLocked(child, "agent", "diagnostics.save", "diagnostics", map[string]any{"name": name, "size": n}, now)
	s.emitLocked(events.TopicDiagnosticsSaved, events.DiagnosticsSaved{Bundle: bundle})
	s.logger.Info("Diagnostics bundle stored", "child", child, "name", name, "bytes", n)

	return bundle, s.persistLocked(ctx)
}

// placeBundle moves the upload to its timestamped name, adding a counter
// when two uploads land in the same millisecond.
func placeBundle(tmpName, dir string, created time.Time) (string, error) {
	base := created.Format(diagnosticsTimeLayout)
	for i := 0; i < 100; i++ {
		name := base + ".zip"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.zip", base, i)
		}
		target := filepath.Join(dir, name)
		// Link fails if the target exists, rename would overwrite it.
		if err := os.Link(tmpName, target); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", fmt.Errorf("store diagnostics: %w", err)
		}
		return name, nil
	}
	return "", fmt.Errorf("store diagnostics: too many bundles at %s", base)
}

func bundleTime(name string, fallback time.Time) time.Time {
	stamp, _, _ := strings.Cut(strings.TrimSuffix(name, ".zip"), "-")
	if t, err := time.Parse(diagnosticsTimeLayout, stamp); err == nil {
		return t
	}
	return fallback
}

// ListDiagnostics returns the most recent bundles of child, newest first.
// limit <= 0 uses the configured default.
func (s *Store) ListDiagnostics(ctx context.Context, child model.ChildID, limit int) ([]model.DiagnosticsBundle, error) {
	if s.opts.DataDir == "" {
		return nil, ErrDiagnosticsNotStored
	}
	if limit <= 0 {
		limit = s.opts.DiagnosticsListLimit
	}

	entries, err := os.ReadDir(s.diagnosticsDir(child))
	if errors.Is(err, fs.ErrNotExist) {
		return []model.DiagnosticsBundle{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list diagnostics: %w", err)
	}

	out := []model.DiagnosticsBundle{}
	for _, e := range entries {
		if e.IsDir() || !diagnosticsNameRe.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, model.DiagnosticsBundle{
			ChildID:   child,
			Name:      e.Name(),
			Size:      info.Size(),
			CreatedAt: bundleTime(e.Name(), info.ModTime().UTC()),
		})
	}
	slices.SortFunc(out, func(a, b model.DiagnosticsBundle) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OpenDiagnostics opens a stored bundle for download. Names that do not look
// like a bundle name are rejected before touching the filesystem.
func (s *Store) OpenDiagnostics(ctx context.Context, child model.ChildID, name string) (*os.File, model.DiagnosticsBundle, error) {
	if s.opts.DataDir == "" {
		return nil, model.DiagnosticsBundle{}, ErrDiagnosticsNotStored
	}
	if !diagnosticsNameRe.MatchString(name) {
		return nil, model.DiagnosticsBundle{}, ErrDiagnosticsNotFound
	}
	f, err := os.Open(filepath.Join(s.diagnosticsDir(child), name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.DiagnosticsBundle{}, ErrDiagnosticsNotFound
	}
	if err != nil {
		return nil, model.DiagnosticsBundle{}, fmt.Errorf("open diagnostics: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, model.DiagnosticsBundle{}, fmt.Errorf("open diagnostics: %w", err)
	}
	return f, model.DiagnosticsBundle{
		ChildID:   child,
		Name:      name,
		Size:      info.Size(),
		CreatedAt: bundleTime(name, info.ModTime().UTC()),
	}, nil
}

// LatestDiagnostics returns the pointer recorded by the last upload.
func (s *Store) LatestDiagnostics(ctx context.Context, child model.ChildID) (model.DiagnosticsBundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.diagnostics[child]
	return b, ok
}
