// Package state persists the import-state mirror and the retry deadline as
// flat JSON files. A missing file means no prior state.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/okian/meterbridge/internal/domain/model"
)

// File names inside the state directory.
const (
	ImportStateFile = "import_state.json"
	RetryStateFile  = "retry_state.json"
)

// FileStore keeps state files in one directory. Writes go to a temp file in
// the same directory which then replaces the target, so readers never see a
// torn file.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the state directory.
func (s *FileStore) Dir() string { return s.dir }

// LoadImport reads the import-state mirror; nil when absent.
func (s *FileStore) LoadImport(_ context.Context) (*model.ImportState, error) {
	var st model.ImportState
	ok, err := s.read(ImportStateFile, &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// SaveImport replaces the import-state mirror.
func (s *FileStore) SaveImport(_ context.Context, st model.ImportState) error {
	return s.write(ImportStateFile, st)
}

// LoadRetry reads the pending retry; nil when absent.
func (s *FileStore) LoadRetry(_ context.Context) (*model.RetryState, error) {
	var st model.RetryState
	ok, err := s.read(RetryStateFile, &st)
	if err != nil || !ok {
		return nil, err
	}
	if st.RetryAt.IsZero() {
		return nil, nil
	}
	return &st, nil
}

// SaveRetry replaces the pending retry.
func (s *FileStore) SaveRetry(_ context.Context, st model.RetryState) error {
	return s.write(RetryStateFile, st)
}

// ClearRetry removes the retry file. Removing a missing file is not an error.
func (s *FileStore) ClearRetry(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, RetryStateFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrWriteState, err)
	}
	return nil
}

func (s *FileStore) read(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrCorruptState, path, err)
	}
	return true, nil
}

func (s *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %w", ErrWriteState, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteState, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: %w", ErrWriteState, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: %w", ErrWriteState, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", ErrWriteState, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", ErrWriteState, err)
	}
	return nil
}
