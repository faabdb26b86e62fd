package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Manager is the local filesystem Store rooted at one directory.
type Manager struct {
	root string
}

// NewManager creates the root directory if needed.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, errors.New("local storage directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Manager{root: abs}, nil
}

func (m *Manager) Driver() string { return "local" }

// Root returns the absolute staging directory.
func (m *Manager) Root() string { return m.root }

// Put writes through a temporary file so readers never see partial content.
func (m *Manager) Put(_ context.Context, key string, r io.Reader, _ string) error {
	fullPath, err := m.resolvePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".staging-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", key, err)
	}

	slog.Debug("Staged file",
		slog.String("key", key),
		slog.String("full_path", fullPath),
		slog.Int64("size_bytes", n))
	return nil
}

func (m *Manager) Get(_ context.Context, key string) ([]byte, error) {
	fullPath, err := m.resolvePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotExist)
	}
	return data, err
}

// Delete removes the file and prunes the upload directory once it is empty.
func (m *Manager) Delete(_ context.Context, key string) error {
	fullPath, err := m.resolvePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	// fails while the directory still holds other files of the upload
	_ = os.Remove(filepath.Dir(fullPath))
	return nil
}

// resolvePath keeps every key inside the root.
func (m *Manager) resolvePath(key string) (string, error) {
	fullPath := filepath.Join(m.root, filepath.FromSlash(key))
	if fullPath != m.root && !strings.HasPrefix(fullPath, m.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the storage directory", key)
	}
	return fullPath, nil
}
