package fs

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Well-known spill file names under the agent data directory.
const (
	// LateMessagesFile holds batches that could not be delivered at stop.
	LateMessagesFile = "lateMessages.dat"

	// LocalCaptureFile receives every batch in write-to-file mode.
	LocalCaptureFile = "session.dat"
)

// SpillFile implements ports.SpillStore as an append-only file.
type SpillFile struct {
	path string
	mu   sync.Mutex
}

// NewSpillFile creates a SpillFile at path. The file is created lazily.
func NewSpillFile(path string) *SpillFile {
	return &SpillFile{path: path}
}

// Append adds data to the end of the file.
func (s *SpillFile) Append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	// Sync so spilled batches survive a crash right after stop
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadAll returns the file content, or nil if the file does not exist.
func (s *SpillFile) ReadAll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Remove deletes the file.
func (s *SpillFile) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Discard removes the first occurrence of chunk from the file and reports
// whether it was found. The file is rewritten atomically and deleted when
// nothing is left.
func (s *SpillFile) Discard(chunk []byte) (bool, error) {
	if len(chunk) == 0 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	i := bytes.Index(data, chunk)
	if i < 0 {
		return false, nil
	}
	rest := append(data[:i:i], data[i+len(chunk):]...)
	if len(rest) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return true, err
		}
		return true, nil
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, rest, 0o600); err != nil {
		return true, err
	}
	return true, os.Rename(tmp, s.path)
}

// Exists reports whether the file exists and is non-empty.
func (s *SpillFile) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	return err == nil && info.Size() > 0
}

// Path returns the file path.
func (s *SpillFile) Path() string {
	return s.path
}
