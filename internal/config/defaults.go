package config

import (
	"os"
	"path/filepath"

	"videomorph/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		OutputDir:   filepath.Join(homeDir, "Videos", "videomorph"),
		Encoder:     domain.EncoderFFmpeg,
		ProfilesDir: filepath.Join(homeDir, ".videomorph", "profiles"),
	}
}

// DataDir returns the per-user directory holding settings and history.
func DataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".videomorph")
}
