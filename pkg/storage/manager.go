// Package storage manages the local download tree: a root directory that
// mirrors the remote folder hierarchy by sanitized display name.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SanitizeName transforms a display name into a filesystem-safe name.
// Letters, digits, ".", "_" and "-" are kept; every other character is
// replaced with "_". An empty input yields "_" so the result is never an
// empty filename. Collisions between distinct inputs are not checked.
func SanitizeName(name string) string {
	if name == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Manager handles file storage operations rooted at the output directory
type Manager struct {
	baseDir string
}

// NewManager creates a new storage manager, creating the base directory
// if it does not exist
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Manager{baseDir: baseDir}, nil
}

// BaseDir returns the root of the download tree
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// FullPath resolves a tree-relative path to an absolute filesystem path
func (m *Manager) FullPath(rel string) string {
	return filepath.Join(m.baseDir, filepath.FromSlash(rel))
}

// EnsureDir creates a subdirectory of the download tree
func (m *Manager) EnsureDir(rel string) error {
	if err := os.MkdirAll(m.FullPath(rel), 0755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", rel, err)
	}
	return nil
}

// Exists reports whether a regular file already exists at the relative path
func (m *Manager) Exists(rel string) bool {
	info, err := os.Stat(m.FullPath(rel))
	return err == nil && info.Mode().IsRegular()
}

// Save writes the reader's content to the relative path. The data is
// written to a temporary file first and renamed into place so a failed
// download never leaves a partial file at the destination. Returns the
// number of bytes written.
func (m *Manager) Save(rel string, r io.Reader) (int64, error) {
	filename := m.FullPath(rel)

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return 0, fmt.Errorf("failed to create parent directory: %w", err)
	}

	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	n, err := io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return n, fmt.Errorf("failed to save file data: %w", err)
	}

	if closeErr != nil {
		os.Remove(tempFile)
		return n, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return n, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return n, nil
}

// Stat returns file info for the relative path
func (m *Manager) Stat(rel string) (os.FileInfo, error) {
	return os.Stat(m.FullPath(rel))
}

// Remove deletes the file at the relative path if present
func (m *Manager) Remove(rel string) error {
	err := os.Remove(m.FullPath(rel))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %q: %w", rel, err)
	}
	return nil
}

// Rename moves a file within the download tree
func (m *Manager) Rename(oldRel, newRel string) error {
	if err := os.Rename(m.FullPath(oldRel), m.FullPath(newRel)); err != nil {
		return fmt.Errorf("failed to rename %q to %q: %w", oldRel, newRel, err)
	}
	return nil
}
