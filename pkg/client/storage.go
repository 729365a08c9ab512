package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the serialized form of the local notification state. It is
// rewritten in full on every mutation; there is no incremental persistence.
type Snapshot struct {
	Notifications []Notification       `json:"notifications"`
	ProcessedIDs  map[string]time.Time `json:"processed_notification_ids"`
}

// Storage persists snapshots between sessions.
type Storage interface {
	Save(Snapshot) error
	Load() (Snapshot, error)
}

// FileStorage keeps the snapshot in a single JSON file.
type FileStorage struct {
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) Save(s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file yields an empty snapshot, not an
// error, so first runs start clean.
func (f *FileStorage) Load() (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{ProcessedIDs: map[string]time.Time{}}, nil
		}
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.ProcessedIDs == nil {
		s.ProcessedIDs = map[string]time.Time{}
	}
	return s, nil
}
