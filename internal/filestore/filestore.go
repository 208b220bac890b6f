// Package filestore governs the lifetimes of durable document copies and
// scoped temporary files. Durable copies live under <data>/reports and are
// removed only on explicit session deletion; temporary copies are always
// removed by the cleanup function returned alongside them.
package filestore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const reportsDirName = "reports"

// Manager writes and removes document files inside the app-private data directory.
type Manager struct {
	reportsDir string
	tempDir    string
}

// New creates a Manager rooted at dataDir.
func New(dataDir string) (*Manager, error) {
	reportsDir := filepath.Join(dataDir, reportsDirName)
	if err := os.MkdirAll(reportsDir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create reports directory %s", reportsDir)
	}
	tempDir := filepath.Join(dataDir, "tmp")
	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create temp directory %s", tempDir)
	}
	return &Manager{reportsDir: reportsDir, tempDir: tempDir}, nil
}

// ReportsDir returns the directory holding durable document copies.
func (m *Manager) ReportsDir() string {
	return m.reportsDir
}

// ExtensionForType maps a declared content type to a file extension.
// Undetermined types default to jpg.
func ExtensionForType(contentType string) string {
	switch {
	case strings.Contains(contentType, "pdf"):
		return "pdf"
	case strings.Contains(contentType, "png"):
		return "png"
	default:
		return "jpg"
	}
}

// SaveDurableCopy writes the document content to a collision-free,
// timestamp-derived file in the reports directory and returns its path.
// The copy is decoupled from the original source: it is never implicitly
// deleted, only by an explicit Remove call.
func (m *Manager) SaveDurableCopy(r io.Reader, contentType string) (string, error) {
	ext := ExtensionForType(contentType)
	base := fmt.Sprintf("report_%d", time.Now().UnixMilli())

	for attempt := 0; ; attempt++ {
		name := fmt.Sprintf("%s.%s", base, ext)
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d.%s", base, attempt, ext)
		}
		path := filepath.Join(m.reportsDir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errors.Wrap(err, "failed to create durable copy")
		}

		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			os.Remove(path)
			return "", errors.Wrap(err, "failed to write durable copy")
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", errors.Wrap(err, "failed to close durable copy")
		}
		return path, nil
	}
}

// TempCopy writes the content to a temporary file and returns its path plus a
// cleanup function. The caller must invoke cleanup on every exit path.
func (m *Manager) TempCopy(r io.Reader, ext string) (string, func(), error) {
	f, err := os.CreateTemp(m.tempDir, "doc_*."+ext)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create temp copy")
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove temp copy", "path", path, "error", err)
		}
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		cleanup()
		return "", nil, errors.Wrap(err, "failed to write temp copy")
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, errors.Wrap(err, "failed to close temp copy")
	}
	return path, cleanup, nil
}

// Remove deletes a durable copy. Missing files are not an error; a stale
// session record may already point at a removed file.
func (m *Manager) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove durable copy %s", path)
	}
	return nil
}
