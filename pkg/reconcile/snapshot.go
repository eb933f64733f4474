// -----------------------------------------------------------------------
// Last Modified: Friday, 17th April 2026 11:02:47 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// snapshotVersion guards the on-disk format. A version we do not know is
// corruption, same as bad JSON.
const snapshotVersion = 1

// snapshotFile is the persisted shape of the local cache.
type snapshotFile struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Entries []*Entry  `json:"entries"`
}

// SnapshotStore persists the engine cache to a JSON file so a restarted
// viewer resumes with its tracked set instead of an empty screen.
//
// Writes go through a temp file and rename, and a flock sidecar keeps
// two viewer processes from interleaving writes. Corruption handling is
// all-or-nothing: a snapshot that fails any check is discarded whole,
// and the viewer falls back to a server resync.
type SnapshotStore struct {
	path string
	lock *flock.Flock
}

// NewSnapshotStore creates a store persisting to path. The parent
// directory is created on the first Save.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the snapshot file location.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Save writes the entries atomically. An empty slice is a valid save: it
// records that the viewer is tracking nothing.
func (s *SnapshotStore) Save(entries []*Entry) error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire snapshot lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("snapshot %s is locked by another process", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	snap := snapshotFile{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Entries: entries,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

// Load reads the persisted entries. A missing file returns (nil, nil) —
// first run, nothing to restore. Anything else that fails validation
// returns an error and no entries; partial recovery of a damaged
// snapshot is worse than an honest resync.
func (s *SnapshotStore) Load() ([]*Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot %s is corrupt: %w", s.path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot %s has unsupported version %d", s.path, snap.Version)
	}
	for i, ent := range snap.Entries {
		if ent == nil || ent.VideoID == "" {
			return nil, fmt.Errorf("snapshot %s entry %d has no video id", s.path, i)
		}
		if !ent.Status.IsValid() {
			return nil, fmt.Errorf("snapshot %s entry %s has invalid status %q", s.path, ent.VideoID, ent.Status)
		}
	}
	return snap.Entries, nil
}

// Discard removes the snapshot file, typically after Load reported
// corruption. Missing files are fine.
func (s *SnapshotStore) Discard() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}
