package threadindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileStore keeps the index in memory and mirrors it to a JSON file
// (`{"user_id": ["thread_id", ...]}`) on every mutation. An id is only
// visible in memory once the file holding it has been written.
type FileStore struct {
	path string
	save func(data []byte) error

	// writeMu serializes mutations; mu guards threads for readers.
	writeMu sync.Mutex
	mu      sync.RWMutex
	threads map[string][]string
}

// NewFileStore loads the index at path, creating an empty one if the file
// does not exist.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("thread index path is required")
	}

	s := &FileStore{
		path:    path,
		threads: make(map[string][]string),
	}
	s.save = s.saveAtomic

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read thread index: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &s.threads); err != nil {
			return nil, fmt.Errorf("failed to parse thread index: %w", err)
		}
	}

	log.Info().Str("path", path).Int("users", len(s.threads)).Msg("Thread index loaded")
	return s, nil
}

// Append records threadID for userID and flushes the file before returning.
func (s *FileStore) Append(ctx context.Context, userID, threadID string) error {
	if err := validateKey("user id", userID); err != nil {
		return err
	}
	if err := validateKey("thread id", threadID); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	if contains(s.threads[userID], threadID) {
		s.mu.RUnlock()
		return nil
	}
	data, err := s.marshalWith(userID, threadID)
	s.mu.RUnlock()

	if err == nil {
		err = s.save(data)
	}
	if err != nil {
		return fmt.Errorf("failed to persist thread index: %w", err)
	}

	s.mu.Lock()
	s.threads[userID] = append(s.threads[userID], threadID)
	s.mu.Unlock()
	return nil
}

// marshalWith renders the index as it will be once threadID is appended,
// leaving the in-memory index untouched.
func (s *FileStore) marshalWith(userID, threadID string) ([]byte, error) {
	next := make(map[string][]string, len(s.threads)+1)
	for u, list := range s.threads {
		next[u] = list
	}
	list := s.threads[userID]
	next[userID] = append(list[:len(list):len(list)], threadID)
	return json.MarshalIndent(next, "", "  ")
}

// saveAtomic performs atomic write using temp file + rename
func (s *FileStore) saveAtomic(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.path + ".tmp"
	file, err := os.OpenFile(tempFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempFile, s.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Threads returns a copy of the user's thread ids.
func (s *FileStore) Threads(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.threads[userID]
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return append([]string(nil), list...), nil
}

// Users returns all user ids, sorted.
func (s *FileStore) Users(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.threads) == 0 {
		return nil, ErrEmpty
	}
	users := make([]string, 0, len(s.threads))
	for u := range s.threads {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Close is a no-op; every mutation is already on disk.
func (s *FileStore) Close() error {
	return nil
}
