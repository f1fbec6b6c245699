package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
)

// storeFile is the on-disk layout: one key/value map per application, the
// way several dashboards share one origin's local storage.
type storeFile struct {
	Apps map[string]map[string]string `json:"apps"` // key = app URL
}

// FileStore is a Store persisted as JSON. Every read goes back to disk so
// concurrent processes observe each other's writes; every write holds the
// lock file and replaces the file atomically.
type FileStore struct {
	path   string
	app    string
	policy lockPolicy
	logger zerolog.Logger
}

// NewFileStore returns a FileStore keeping app's entries in path.
func NewFileStore(path, app string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		app:    app,
		policy: defaultLockPolicy,
		logger: logger,
	}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) (string, bool) {
	sf, err := s.read()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("session file unreadable")
		return "", false
	}
	v, ok := sf.Apps[s.app][key]
	return v, ok
}

// Snapshot reads the file once, so the returned keys never mix two writes.
func (s *FileStore) Snapshot(keys ...string) map[string]string {
	sf, err := s.read()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("session file unreadable")
		return map[string]string{}
	}
	return pick(sf.Apps[s.app], keys)
}

func (s *FileStore) Set(values map[string]string) error {
	return s.update(func(entries map[string]string) {
		for k, v := range values {
			entries[k] = v
		}
	})
}

func (s *FileStore) Delete(keys ...string) error {
	return s.update(func(entries map[string]string) {
		for _, k := range keys {
			delete(entries, k)
		}
	})
}

// Clear removes this app's entries and leaves other apps untouched.
func (s *FileStore) Clear() error {
	return s.update(func(entries map[string]string) {
		for k := range entries {
			delete(entries, k)
		}
	})
}

// read loads the file; a missing file is an empty store.
func (s *FileStore) read() (*storeFile, error) {
	var sf storeFile
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &sf, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return &sf, nil
}

func (s *FileStore) update(mutate func(entries map[string]string)) error {
	lock, err := acquireFileLock(s.path, s.policy)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			s.logger.Error().Err(releaseErr).Msg("failed to release lock")
		}
	}()

	// Read inside the lock; a corrupt file is replaced rather than blocking writes.
	sf, err := s.read()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("discarding unreadable session file")
		sf = &storeFile{}
	}
	if sf.Apps == nil {
		sf.Apps = make(map[string]map[string]string)
	}
	entries := sf.Apps[s.app]
	if entries == nil {
		entries = make(map[string]string)
	}

	mutate(entries)

	if len(entries) == 0 {
		delete(sf.Apps, s.app)
	} else {
		sf.Apps[s.app] = entries
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
