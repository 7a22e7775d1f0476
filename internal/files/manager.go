package files

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Manager provides archive file operations
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a new file manager instance
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Archive moves a file into the destination directory, keeping the original
// filename. A name collision gets a __dup, __dup2, ... suffix before the
// extension instead of overwriting. In dry-run mode the move is only logged
// and the source is left in place; the would-be destination is returned.
func (m *Manager) Archive(src, destDir string, dryRun bool) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}

	dest := m.destPath(src, destDir)

	if dryRun {
		m.logger.Info("dry run: would move file",
			slog.String("src", src),
			slog.String("dest", dest))
		return dest, nil
	}

	m.logger.Info("moving file",
		slog.String("src", src),
		slog.String("dest", dest))

	if err := m.move(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// destPath picks a destination name that does not collide with an existing
// file in destDir.
func (m *Manager) destPath(src, destDir string) string {
	name := filepath.Base(src)
	dest := filepath.Join(destDir, name)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return dest
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		suffix := "__dup"
		if i > 1 {
			suffix = fmt.Sprintf("__dup%d", i)
		}
		dest = filepath.Join(destDir, stem+suffix+ext)
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			return dest
		}
	}
}

// move renames the file, falling back to copy-and-delete across filesystems.
func (m *Manager) move(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	if err := m.copy(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func (m *Manager) copy(src, dest string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	destFile, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	return destFile.Sync()
}
