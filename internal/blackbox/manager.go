package blackbox

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// Manager owns the exporter's on-disk module configuration file. Invalid
// input never touches the file: the previously accepted configuration stays
// in place until a valid replacement arrives.
type Manager struct {
	path string
}

// NewManager creates a Manager for the config file at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the managed config file path.
func (m *Manager) Path() string {
	return m.path
}

// Current returns the current on-disk configuration, or nil if the file does
// not exist yet.
func (m *Manager) Current() []byte {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil
	}
	return data
}

// Push validates raw and, if valid and different from the current file,
// overwrites it atomically. An empty payload falls back to the default
// configuration. It reports whether the file changed, so the caller knows
// whether the exporter needs a restart.
func (m *Manager) Push(raw []byte) (bool, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte(DefaultConfigFile)
	}

	if bytes.Equal(m.Current(), raw) {
		return false, nil
	}

	if _, err := Validate(raw); err != nil {
		return false, err
	}

	// Write atomically using temp file
	tmpFile := m.path + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0644); err != nil {
		return false, fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, m.path); err != nil {
		_ = os.Remove(tmpFile)
		return false, fmt.Errorf("rename temp file: %w", err)
	}

	log.Info().Str("path", m.path).Msg("overwrote blackbox exporter module configuration")
	return true, nil
}
