package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"videomorph/internal/domain"
)

// FileVersion is the newest profiles document layout this build reads.
const FileVersion = 1

// ExportFileName is the file written by Catalog.ExportTo.
const ExportFileName = "videomorph-profiles.json"

// customFileName holds user presets inside the profiles directory.
const customFileName = "customized.json"

// ErrUnsupportedVersion is returned for documents written by a newer build.
var ErrUnsupportedVersion = errors.New("unsupported profiles file version")

// Document is the persisted and exchanged profiles layout.
// Unknown fields are ignored when reading.
type Document struct {
	Version  int              `json:"version"`
	Profiles []domain.Profile `json:"profiles"`
}

// ReadFile decodes a profiles document from disk.
func ReadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Decode(data)
}

// Decode parses a profiles document, defaulting a missing version to 1.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse profiles file: %w", err)
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.Version > FileVersion {
		return Document{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	return doc, nil
}

// WriteFile encodes profiles as an indented, versioned JSON document.
// The file is replaced atomically through a temporary sibling.
func WriteFile(path string, profiles []domain.Profile) error {
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	data, err := json.MarshalIndent(Document{Version: FileVersion, Profiles: profiles}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".profiles-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
