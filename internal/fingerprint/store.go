package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store persists fingerprint text keyed by fingerprint path (see PathFor).
type Store interface {
	// Load returns the stored text. ok is false when nothing is stored.
	Load(ctx context.Context, key string) (text string, ok bool, err error)
	Save(ctx context.Context, key, text string) error
	// Delete removes the stored text. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// FileStore keeps each fingerprint in a file at its key, next to the primary
// output it describes. Writes go through a temp file and rename, so a reader
// never sees a partial fingerprint.
type FileStore struct {
	locks *KeyedLocks
}

// NewFileStore creates a FileStore.
func NewFileStore() *FileStore {
	return &FileStore{locks: NewKeyedLocks()}
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, key string) (string, bool, error) {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	data, err := os.ReadFile(key)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading fingerprint %s: %w", key, err)
	}
	return string(data), true, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, key, text string) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	dir := filepath.Dir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating fingerprint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(key)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp fingerprint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing fingerprint %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing fingerprint %s: %w", key, err)
	}
	if err := os.Rename(tmpName, key); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing fingerprint %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := os.Remove(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing fingerprint %s: %w", key, err)
	}
	return nil
}

// MemoryStore is a Store held in memory. Useful for dry runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.data[key]
	return text, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, key, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = text
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Len returns the number of stored fingerprints.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
