// Package blacklist owns the MAC blacklist: persistence, mutations that
// trigger firewall changes, and reloads when the file is edited by hand.
package blacklist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"lanwarden/models"
)

// Store persists the full blacklist snapshot.
type Store interface {
	// Load returns the stored entries keyed by canonical MAC. A missing
	// store is an empty mapping, not an error.
	Load() (map[string]models.BlacklistEntry, error)
	// Save replaces the stored snapshot atomically.
	Save(entries map[string]models.BlacklistEntry) error
}

// FileStore keeps the blacklist as a JSON object keyed by MAC.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the blacklist file.
func (s *FileStore) Load() (map[string]models.BlacklistEntry, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]models.BlacklistEntry{}, nil
		}
		return nil, fmt.Errorf("read blacklist: %w", err)
	}

	var decoded map[string]models.BlacklistEntry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse blacklist: %w", err)
	}
	return canonicalize(decoded), nil
}

// Save writes the snapshot to a temp file in the same directory and renames
// it over the previous file.
func (s *FileStore) Save(entries map[string]models.BlacklistEntry) error {
	if entries == nil {
		entries = map[string]models.BlacklistEntry{}
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal blacklist: %w", err)
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create blacklist directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".blacklist-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp blacklist: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp blacklist: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp blacklist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp blacklist: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp blacklist: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace blacklist: %w", err)
	}
	committed = true
	return nil
}

// canonicalize re-keys entries by canonical MAC and drops unparsable keys.
func canonicalize(in map[string]models.BlacklistEntry) map[string]models.BlacklistEntry {
	out := make(map[string]models.BlacklistEntry, len(in))
	for key, entry := range in {
		mac, err := models.NormalizeMAC(key)
		if err != nil {
			log.Printf("blacklist: skipping entry with invalid mac %q: %v", key, err)
			continue
		}
		entry.MAC = mac
		out[mac] = entry
	}
	return out
}
