package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// lockStaleAfter is when a leftover lock file from a crashed tick is reclaimed
const lockStaleAfter = 5 * time.Minute

// lockRetryInterval is the poll interval while waiting for the tick lock
const lockRetryInterval = 100 * time.Millisecond

// FileStore persists alert state as a single JSON blob, matching the layout
// the dashboard scripts used. Saves write a temp file and rename it into
// place; a sibling lock file serializes overlapping ticks.
type FileStore struct {
	path   string
	logger *logrus.Logger
	now    func() time.Time
}

// NewFileStore creates a store writing to path, creating parent directories
func NewFileStore(path string, logger *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{path: path, logger: logger, now: time.Now}, nil
}

func (s *FileStore) lockPath() string {
	return s.path + ".lock"
}

// Lock acquires the cross-process tick lock via an exclusive lock file
func (s *FileStore) Lock(ctx context.Context) (func(), error) {
	for {
		f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), s.now().UTC().Format(time.RFC3339))
			f.Close()
			return func() {
				if err := os.Remove(s.lockPath()); err != nil && !os.IsNotExist(err) {
					s.logger.WithError(err).Warn("Failed to release state lock file")
				}
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create state lock file: %w", err)
		}

		// A crashed tick can leave the lock behind; reclaim it once stale.
		// Rename it aside before removing so only one waiter can win the
		// reclaim; a plain remove could delete a lock another waiter just
		// re-created.
		if info, statErr := os.Stat(s.lockPath()); statErr == nil &&
			s.now().Sub(info.ModTime()) > lockStaleAfter {
			stalePath := fmt.Sprintf("%s.stale.%d", s.lockPath(), os.Getpid())
			if again, err := os.Stat(s.lockPath()); err == nil && again.ModTime().Equal(info.ModTime()) {
				if os.Rename(s.lockPath(), stalePath) == nil {
					s.logger.WithField("lock", s.lockPath()).Warn("Reclaiming stale state lock")
					os.Remove(stalePath)
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up waiting for state lock: %w", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

// Load reads the state blob. A missing file yields an empty state.
func (s *FileStore) Load(ctx context.Context) (*AlertState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	st := &AlertState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	st.normalize()
	return st, nil
}

// Save writes the state blob atomically via temp file and rename
func (s *FileStore) Save(ctx context.Context, st *AlertState) error {
	st.Prune(s.now())

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode alert state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".alertstate-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Close is a no-op for the file store
func (s *FileStore) Close() error {
	return nil
}
