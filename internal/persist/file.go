package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the document in memory and rewrites the JSON file after
// every mutation. Writes go to a temp file that is renamed into place, so
// a crash never leaves a half-written document behind.
type FileStore struct {
	t    *tree
	path string

	// flushMu orders file rewrites.
	flushMu sync.Mutex
}

// OpenFileStore loads the document at path, creating parent directories and
// starting empty when the file does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("open file store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}

	s := &FileStore{t: newTree(), path: path}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("open file store: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("open file store %s: %w", path, err)
	}
	if root != nil {
		s.t.root = root
	}
	return s, nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string { return s.path }

// Write stores value at path and rewrites the file.
func (s *FileStore) Write(path string, value any) error {
	if err := s.t.set(path, value); err != nil {
		return err
	}
	return s.flush()
}

// Delete removes the node at path and rewrites the file.
func (s *FileStore) Delete(path string) error {
	if err := s.t.remove(path); err != nil {
		return err
	}
	return s.flush()
}

// ReadAll decodes the node at path into out.
func (s *FileStore) ReadAll(path string, out any) (bool, error) {
	return s.t.get(path, out)
}

func (s *FileStore) flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	raw, err := s.t.marshal(true)
	if err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}
