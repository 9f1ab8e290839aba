// Package profiles manages the conversion profile catalog: the built-in
// presets plus user presets persisted in the profiles directory.
package profiles

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/samber/lo"

	"videomorph/internal/diagnostics"
	"videomorph/internal/domain"
)

// ErrProfileNotFound is returned when no preset has the requested quality.
var ErrProfileNotFound = errors.New("conversion profile not found")

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("invalid conversion profile")

// ValidationError names the first profile field that failed validation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the failing field for logs and UI.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Catalog holds default and custom presets. Custom presets shadow defaults
// that share their quality label.
type Catalog struct {
	mu     sync.RWMutex
	dir    string
	custom []domain.Profile
	logger *slog.Logger
}

// Open loads the custom presets stored in dir. A corrupt file is discarded
// and the catalog falls back to the built-in set. A file written by a newer
// version is left untouched and ErrUnsupportedVersion is returned.
func Open(dir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profiles directory: %w", err)
	}

	c := &Catalog{dir: dir, logger: logger}
	doc, err := ReadFile(c.customPath())
	switch {
	case err == nil:
		c.custom = lo.Filter(doc.Profiles, func(p domain.Profile, _ int) bool {
			return Validate(p) == nil
		})
	case errors.Is(err, os.ErrNotExist):
	case errors.Is(err, ErrUnsupportedVersion):
		return nil, fmt.Errorf("open profiles %s: %w", c.customPath(), err)
	default:
		logger.Warn("profiles file is corrupt, restoring defaults", "path", c.customPath(), "error", err)
		if err := WriteFile(c.customPath(), nil); err != nil {
			return nil, fmt.Errorf("reset profiles file: %w", err)
		}
	}
	return c, nil
}

// List returns custom presets followed by the defaults they do not shadow.
func (c *Catalog) List() []domain.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listLocked()
}

// Qualities groups quality labels by profile name in catalog order.
func (c *Catalog) Qualities() map[string][]string {
	out := make(map[string][]string)
	for _, p := range c.List() {
		out[p.Name] = append(out[p.Name], p.Quality)
	}
	return out
}

// Names returns profile names in first-seen catalog order.
func (c *Catalog) Names() []string {
	return lo.Uniq(lo.Map(c.List(), func(p domain.Profile, _ int) string { return p.Name }))
}

// Lookup finds the preset for a quality label.
func (c *Catalog) Lookup(quality string) (domain.Profile, error) {
	quality = strings.TrimSpace(quality)
	p, ok := lo.Find(c.List(), func(p domain.Profile) bool { return p.Quality == quality })
	if !ok {
		return domain.Profile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, quality)
	}
	return p, nil
}

// AddCustom validates and persists a user preset.
func (c *Catalog) AddCustom(name, quality, params, extension string) (domain.Profile, error) {
	p := normalize(domain.Profile{Name: name, Quality: quality, Params: params, Extension: extension})
	if err := Validate(p); err != nil {
		return domain.Profile{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := mergeCustom(c.custom, []domain.Profile{p})
	if err := WriteFile(c.customPath(), next); err != nil {
		return domain.Profile{}, fmt.Errorf("save profiles: %w", err)
	}
	c.custom = next
	c.logger.Info("custom profile added", "name", p.Name, "quality", p.Quality)
	return p, nil
}

// ExportTo writes the full catalog into dir as ExportFileName.
func (c *Catalog) ExportTo(dir string) (string, error) {
	if err := diagnostics.NewChecker().CheckWritable(dir); err != nil {
		return "", err
	}

	path := filepath.Join(dir, ExportFileName)
	if err := WriteFile(path, c.List()); err != nil {
		return "", fmt.Errorf("%w: %s: %v", diagnostics.ErrDirectoryNotWritable, dir, err)
	}
	c.logger.Info("profiles exported", "path", path)
	return path, nil
}

// ImportFrom merges presets from a profiles file into the custom set.
// Imported presets replace custom presets with the same quality label.
func (c *Catalog) ImportFrom(file string) (int, error) {
	doc, err := ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("import profiles from %s: %w", file, err)
	}

	imported := make([]domain.Profile, 0, len(doc.Profiles))
	for _, p := range doc.Profiles {
		p = normalize(p)
		if err := Validate(p); err != nil {
			return 0, fmt.Errorf("import profiles from %s: %q: %w", file, p.Quality, err)
		}
		imported = append(imported, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := mergeCustom(c.custom, imported)
	if err := WriteFile(c.customPath(), next); err != nil {
		return 0, fmt.Errorf("save profiles: %w", err)
	}
	c.custom = next
	c.logger.Info("profiles imported", "path", file, "count", len(imported))
	return len(imported), nil
}

// RestoreDefaults drops every custom preset.
func (c *Catalog) RestoreDefaults() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteFile(c.customPath(), nil); err != nil {
		return fmt.Errorf("save profiles: %w", err)
	}
	c.custom = nil
	c.logger.Info("default profiles restored")
	return nil
}

// Validate checks name, quality, params and extension in that order.
func Validate(p domain.Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Message: "profile name can not be blank"}
	}
	if strings.TrimSpace(p.Quality) == "" {
		return &ValidationError{Field: "quality", Message: "target quality can not be blank"}
	}
	if strings.TrimSpace(p.Params) == "" {
		return &ValidationError{Field: "params", Message: "preset parameters can not be blank"}
	}
	if _, err := shellwords.Parse(p.Params); err != nil {
		return &ValidationError{Field: "params", Message: "preset parameters are malformed: " + err.Error()}
	}
	ext := strings.TrimSpace(p.Extension)
	if ext == "" {
		return &ValidationError{Field: "extension", Message: "extension can not be blank"}
	}
	if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsAny(ext, `/\ `) {
		return &ValidationError{Field: "extension", Message: "invalid video file extension: " + ext}
	}
	return nil
}

func (c *Catalog) listLocked() []domain.Profile {
	out := make([]domain.Profile, 0, len(c.custom)+len(builtinProfiles))
	out = append(out, c.custom...)
	for _, p := range builtinProfiles {
		if !lo.ContainsBy(c.custom, func(cp domain.Profile) bool { return cp.Quality == p.Quality }) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Catalog) customPath() string {
	return filepath.Join(c.dir, customFileName)
}

// mergeCustom puts incoming presets first and drops older ones they replace.
func mergeCustom(existing, incoming []domain.Profile) []domain.Profile {
	incoming = lo.UniqBy(incoming, func(p domain.Profile) string { return p.Quality })
	kept := lo.Reject(existing, func(p domain.Profile, _ int) bool {
		return lo.ContainsBy(incoming, func(in domain.Profile) bool { return in.Quality == p.Quality })
	})
	return append(append([]domain.Profile{}, incoming...), kept...)
}

// normalize trims fields, upper-cases the name and lower-cases the extension.
func normalize(p domain.Profile) domain.Profile {
	p.Name = strings.ToUpper(strings.TrimSpace(p.Name))
	p.Quality = strings.TrimSpace(p.Quality)
	p.Params = strings.TrimSpace(p.Params)
	p.Extension = strings.ToLower(strings.TrimSpace(p.Extension))
	return p
}
