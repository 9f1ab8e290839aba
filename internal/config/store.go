package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"videomorph/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing.
// Fields absent from older files keep their default values.
func (s *JSONStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}

		return domain.Settings{}, err
	}

	cfg := DefaultSettings()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, err
	}

	return Normalize(cfg), nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Normalize trims user inputs and fills blank fields from defaults.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	cfg.OutputDir = strings.TrimSpace(cfg.OutputDir)
	cfg.ProfilesDir = strings.TrimSpace(cfg.ProfilesDir)
	cfg.Encoder = domain.Encoder(strings.ToLower(strings.TrimSpace(string(cfg.Encoder))))

	if cfg.OutputDir == "" {
		cfg.OutputDir = defaults.OutputDir
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = defaults.ProfilesDir
	}
	if cfg.Encoder == "" {
		cfg.Encoder = defaults.Encoder
	}
	return cfg
}

// Validate rejects settings the coordinator cannot run with.
func Validate(cfg domain.Settings) error {
	if !cfg.Encoder.Valid() {
		return fmt.Errorf("unsupported conversion library: %q", cfg.Encoder)
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return errors.New("output directory is required")
	}
	return nil
}
