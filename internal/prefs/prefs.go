// Package prefs persists the two device-local preferences that live outside
// the realtime store: the last-used display name and the UI theme. They are
// stored as a small JSON file and never synchronized across devices.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Theme values accepted for the UI theme preference.
const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// Prefs holds the persisted preference values.
type Prefs struct {
	Name  string `json:"name"`
	Theme string `json:"theme"`
}

// Store reads and writes the preferences file.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore creates a preference store at path on the given filesystem.
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// DefaultPath returns the per-user preferences file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("prefs: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "trulychat", "prefs.json"), nil
}

// ValidTheme reports whether theme is one of the accepted values.
func ValidTheme(theme string) bool {
	switch theme {
	case ThemeSystem, ThemeLight, ThemeDark:
		return true
	}
	return false
}

// Load reads the preferences file. A missing file is not an error: defaults
// (empty name, system theme) are returned. An unknown stored theme is reset
// to system rather than propagated.
func (s *Store) Load() (Prefs, error) {
	defaults := Prefs{Theme: ThemeSystem}

	data, err := afero.ReadFile(s.fs, s.path)
	if os.IsNotExist(err) {
		return defaults, nil
	}
	if err != nil {
		return defaults, fmt.Errorf("prefs: read %s: %w", s.path, err)
	}

	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return defaults, fmt.Errorf("prefs: decode %s: %w", s.path, err)
	}
	if !ValidTheme(p.Theme) {
		p.Theme = ThemeSystem
	}
	return p, nil
}

// Save writes the preferences file, creating parent directories as needed.
func (s *Store) Save(p Prefs) error {
	if !ValidTheme(p.Theme) {
		return fmt.Errorf("prefs: invalid theme %q", p.Theme)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("prefs: create dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		return fmt.Errorf("prefs: write %s: %w", s.path, err)
	}
	return nil
}
