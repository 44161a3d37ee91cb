// Package connstate persists the most recent device connection to a
// small JSON file so a restarted process can offer reconnection to the
// device it was last casting to.
package connstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const (
	stateFileName = "connection.json"
	// Records older than this are treated as absent. A device that was
	// connected an hour ago may have moved networks or powered off.
	maxRecordAge = time.Hour
)

type Record struct {
	DeviceName string    `json:"device_name"`
	Status     string    `json:"status"`
	SavedAt    time.Time `json:"saved_at"`
}

// Store reads and writes a single connection record. The zero value is
// not usable; construct with NewStore.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore places the state file under dir. When dir is empty the
// user's config directory is used.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "castqueue")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, stateFileName)
}

// Save overwrites the stored record with the given device name.
func (s *Store) Save(deviceName string) error {
	rec := Record{
		DeviceName: deviceName,
		Status:     "connected",
		SavedAt:    s.now(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(), data, 0o644)
}

// Clear removes the stored record. Missing files are not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Load returns the stored record, or nil when the file is missing,
// unreadable, or older than an hour. Corrupt state never blocks
// startup; it simply means no reconnection hint.
func (s *Store) Load() *Record {
	data, err := os.ReadFile(s.path())
	if err != nil {
		return nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	if rec.DeviceName == "" {
		return nil
	}
	if s.now().Sub(rec.SavedAt) > maxRecordAge {
		return nil
	}
	return &rec
}

// LastDeviceName reports the device name from a fresh record.
func (s *Store) LastDeviceName() (string, bool) {
	rec := s.Load()
	if rec == nil {
		return "", false
	}
	return rec.DeviceName, true
}
