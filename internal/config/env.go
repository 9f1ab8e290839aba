package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"videomorph/internal/domain"
)

// Environment keys recognised by ApplyEnv.
const (
	EnvOutputDir   = "VIDEOMORPH_OUTPUT_DIR"
	EnvEncoder     = "VIDEOMORPH_ENCODER"
	EnvDeleteInput = "VIDEOMORPH_DELETE_INPUT"
	EnvSubtitles   = "VIDEOMORPH_SUBTITLES"
	EnvFormatTag   = "VIDEOMORPH_FORMAT_TAG"
	EnvShutdown    = "VIDEOMORPH_SHUTDOWN"
	EnvProfilesDir = "VIDEOMORPH_PROFILES_DIR"
	EnvAddr        = "VIDEOMORPH_ADDR"
)

// DefaultAddr is the headless server listen address. The API has no
// authentication, so it only listens on loopback unless EnvAddr says otherwise.
const DefaultAddr = "127.0.0.1:8080"

// LoadEnvFile reads .env.local from the working directory or its parent.
// A missing file is not an error.
func LoadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// ApplyEnv overrides settings with values from the process environment.
func ApplyEnv(cfg domain.Settings) domain.Settings {
	cfg.OutputDir = getEnv(EnvOutputDir, cfg.OutputDir)
	cfg.Encoder = domain.Encoder(getEnv(EnvEncoder, string(cfg.Encoder)))
	cfg.DeleteInputOnFinish = getEnvAsBool(EnvDeleteInput, cfg.DeleteInputOnFinish)
	cfg.InsertSubtitles = getEnvAsBool(EnvSubtitles, cfg.InsertSubtitles)
	cfg.UseFormatTag = getEnvAsBool(EnvFormatTag, cfg.UseFormatTag)
	cfg.ShutdownOnFinish = getEnvAsBool(EnvShutdown, cfg.ShutdownOnFinish)
	cfg.ProfilesDir = getEnv(EnvProfilesDir, cfg.ProfilesDir)
	return Normalize(cfg)
}

// ListenAddr returns the headless server address.
func ListenAddr() string {
	return getEnv(EnvAddr, DefaultAddr)
}

// getEnv returns the variable or the fallback when unset or empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAsBool parses the variable as a bool, keeping fallback on errors.
func getEnvAsBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
