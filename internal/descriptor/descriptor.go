// Package descriptor persists the connection record of the running browser daemon.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the descriptor file name inside the per-user cache directory.
const FileName = "browser.json"

// ErrInvalidDescriptor indicates a descriptor that cannot name a live daemon.
var ErrInvalidDescriptor = errors.New("invalid daemon descriptor")

// Descriptor is the handshake record a daemon publishes so later processes can attach to its browser.
type Descriptor struct {
	PID          int            `json:"pid"`
	URL          string         `json:"url"`
	SessionID    string         `json:"session_id"`
	Capabilities map[string]any `json:"capabilities"`
	W3C          bool           `json:"w3c"`
}

// Validate reports whether the descriptor carries a usable pid and endpoint.
func (d Descriptor) Validate() error {
	if d.PID <= 0 {
		return fmt.Errorf("%w: pid %d", ErrInvalidDescriptor, d.PID)
	}
	if d.URL == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidDescriptor)
	}
	return nil
}

// Driver returns the browser driver recorded in the capabilities, if any.
func (d Descriptor) Driver() string {
	if d.Capabilities == nil {
		return ""
	}
	name, _ := d.Capabilities["driver"].(string)
	return name
}

// Store reads and writes a descriptor at a fixed path.
type Store struct {
	path string
}

// NewStore builds a Store for path. An empty path resolves to DefaultPath.
func NewStore(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Store{path: path}, nil
}

// DefaultPath returns the per-user descriptor location.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	return filepath.Join(dir, "legifetch", FileName), nil
}

// Path returns the descriptor file path.
func (s *Store) Path() string {
	return s.path
}

// Dir returns the directory holding the descriptor.
func (s *Store) Dir() string {
	return filepath.Dir(s.path)
}

// Load returns the stored descriptor. A missing, unreadable or malformed file reports false.
func (s *Store) Load() (Descriptor, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Descriptor{}, false
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, false
	}
	return d, true
}

// Save atomically replaces the descriptor file.
func (s *Store) Save(d Descriptor) error {
	if err := os.MkdirAll(s.Dir(), 0o700); err != nil {
		return fmt.Errorf("create descriptor dir: %w", err)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir(), ".browser-*.json")
	if err != nil {
		return fmt.Errorf("create temp descriptor: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp descriptor: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp descriptor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp descriptor: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace descriptor: %w", err)
	}
	return nil
}

// Delete removes the descriptor. Deleting a missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete descriptor: %w", err)
	}
	return nil
}

// DeleteIfOwned removes the descriptor only while it still names pid.
func (s *Store) DeleteIfOwned(pid int) error {
	d, ok := s.Load()
	if ok && d.PID != pid {
		return nil
	}
	return s.Delete()
}
