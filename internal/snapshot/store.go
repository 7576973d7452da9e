// Package snapshot persists the query-ready result of the most recent
// successful sync as a single JSON document.
//
// Writes are atomic (temp file + rename), so a reader never observes a
// partially written document. Before each write the previous good document is
// copied to a .bak file, which [Store.RestoreFromBackup] can bring back if
// the primary document is lost or corrupted.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calsnap/calsnap/internal/model"
)

var (
	// ErrNotFound is returned when no snapshot document has been written yet.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt is returned when the document on disk fails to decode.
	// Callers should attempt [Store.RestoreFromBackup].
	ErrCorrupt = errors.New("snapshot document corrupt")
)

// Document is the persisted snapshot schema. It is the contract with every
// downstream reader of the snapshot file, so field names are stable.
type Document struct {
	LastSyncTime *time.Time    `json:"lastSyncTime"`
	Status       string        `json:"status"`
	EventCount   int           `json:"eventCount"`
	Events       []model.Event `json:"events"`
}

// Store reads and writes the snapshot document at a fixed path.
type Store struct {
	path string
}

// NewStore creates a Store for the document at path. The parent directory is
// created on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) backupPath() string {
	return s.path + ".bak"
}

// Write persists doc atomically. The previous document, if any, becomes the
// backup.
func (s *Store) Write(doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	// Keep the last good document around before replacing it.
	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath()); err != nil {
			return fmt.Errorf("backing up previous snapshot: %w", err)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp snapshot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp snapshot file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing snapshot file: %w", err)
	}
	return nil
}

// Read returns the current document. A missing file is [ErrNotFound]; a file
// that fails to decode is [ErrCorrupt].
func (s *Store) Read() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading snapshot file %q: %w", s.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &doc, nil
}

// RestoreFromBackup replaces the primary document with the backup copy.
// Returns ErrNotFound when no backup exists.
func (s *Store) RestoreFromBackup() error {
	data, err := os.ReadFile(s.backupPath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: no backup at %s", ErrNotFound, s.backupPath())
		}
		return fmt.Errorf("reading backup %q: %w", s.backupPath(), err)
	}

	// Refuse to restore a backup that is itself corrupt.
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: backup is also unreadable: %v", ErrCorrupt, err)
	}

	tmp := s.path + ".restore"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing restored snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing snapshot with backup: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
