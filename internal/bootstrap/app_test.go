package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"videomorph/internal/config"
	"videomorph/internal/diagnostics"
	"videomorph/internal/domain"
	"videomorph/internal/encoder"
	"videomorph/internal/jobs"
	"videomorph/internal/probe"
	"videomorph/internal/profiles"
)

// fakeStore keeps settings in memory for App tests.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saves    int
}

// Load returns the stored settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// Save replaces the stored settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.saves++
	return nil
}

// fakeProber accepts any existing file with a fixed duration.
type fakeProber struct{}

func (fakeProber) Probe(_ context.Context, path string) (domain.MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("%w for: %s", probe.ErrInvalidInput, path)
	}
	return domain.MediaInfo{Path: path, Duration: 60}, nil
}

// fakeRunner reports a finished encode for every command.
type fakeRunner struct {
	mu   sync.Mutex
	cmds []encoder.Command
}

func (r *fakeRunner) Run(_ context.Context, cmd encoder.Command, onLine func(string)) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
	onLine("frame=  10 fps=0.0 q=28.0 size=256kB time=00:00:30.00 bitrate=69.9kbits/s")
	return os.WriteFile(cmd.OutputPath, []byte("converted"), 0o644)
}

// fakeLauncher records host actions.
type fakeLauncher struct {
	opened    []string
	folders   []string
	shutdowns int
}

func (l *fakeLauncher) Open(path string) error {
	l.opened = append(l.opened, path)
	return nil
}

func (l *fakeLauncher) OpenFolder(path string) error {
	l.folders = append(l.folders, path)
	return nil
}

func (l *fakeLauncher) Shutdown() error {
	l.shutdowns++
	return nil
}

// fakeHistory keeps finished tasks in memory.
type fakeHistory struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (h *fakeHistory) Record(job domain.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return nil
}

func (h *fakeHistory) Recent(limit int) ([]domain.Job, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Job, 0, len(h.jobs))
	for i := len(h.jobs) - 1; i >= 0; i-- {
		out = append(out, h.jobs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (h *fakeHistory) Close() error { return nil }

type appFixture struct {
	app      *App
	store    *fakeStore
	runner   *fakeRunner
	launcher *fakeLauncher
	history  *fakeHistory
	inputDir string
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	root := t.TempDir()
	settings := domain.Settings{
		OutputDir:   filepath.Join(root, "out"),
		Encoder:     domain.EncoderFFmpeg,
		ProfilesDir: filepath.Join(root, "profiles"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalog, err := profiles.Open(settings.ProfilesDir, logger)
	if err != nil {
		t.Fatalf("open profiles: %v", err)
	}

	f := &appFixture{
		store:    &fakeStore{settings: settings},
		runner:   &fakeRunner{},
		launcher: &fakeLauncher{},
		history:  &fakeHistory{},
		inputDir: filepath.Join(root, "in"),
	}
	if err := os.MkdirAll(f.inputDir, 0o755); err != nil {
		t.Fatalf("mkdir input: %v", err)
	}

	checker := diagnostics.NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
	f.app = newApp(deps{
		store:    f.store,
		settings: settings,
		prober:   fakeProber{},
		runner:   f.runner,
		catalog:  catalog,
		history:  f.history,
		launcher: f.launcher,
		checker:  checker,
		logger:   logger,
	})
	return f
}

func (f *appFixture) input(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.inputDir, name)
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

// TestAddFilesQueuesValidAndRejectsInvalid checks batch adds report per-path outcomes.
func TestAddFilesQueuesValidAndRejectsInvalid(t *testing.T) {
	f := newAppFixture(t)
	good := f.input(t, "good.avi")
	missing := filepath.Join(f.inputDir, "missing.avi")

	result, err := f.app.AddFiles([]string{good, missing}, "MP4 High Quality")
	if err != nil {
		t.Fatalf("AddFiles() error = %v", err)
	}
	if len(result.Added) != 1 || result.Added[0].InputPath != good {
		t.Fatalf("added = %+v", result.Added)
	}
	if len(result.Rejected) != 1 || !errors.Is(result.Rejected[0].Err, probe.ErrInvalidInput) {
		t.Fatalf("rejected = %+v", result.Rejected)
	}

	if _, err := f.app.AddFiles([]string{good}, "No Such Quality"); !errors.Is(err, profiles.ErrProfileNotFound) {
		t.Fatalf("unknown quality error = %v, want %v", err, profiles.ErrProfileNotFound)
	}
}

// TestDestructiveActionsRequireConfirmation checks clear and restore guards.
func TestDestructiveActionsRequireConfirmation(t *testing.T) {
	f := newAppFixture(t)
	if _, err := f.app.AddFiles([]string{f.input(t, "a.avi"), f.input(t, "b.avi")}, "MP4 High Quality"); err != nil {
		t.Fatalf("AddFiles() error = %v", err)
	}

	if _, err := f.app.ClearTasks(false); !errors.Is(err, domain.ErrConfirmationRequired) {
		t.Fatalf("ClearTasks(false) error = %v", err)
	}
	if len(f.app.Tasks()) != 2 {
		t.Fatalf("tasks cleared without confirmation")
	}
	n, err := f.app.ClearTasks(true)
	if err != nil || n != 2 {
		t.Fatalf("ClearTasks(true) = %d, %v", n, err)
	}

	if _, err := f.app.AddProfile("WEBM", "WEBM Tiny", "-vcodec libvpx", ".webm"); err != nil {
		t.Fatalf("AddProfile() error = %v", err)
	}
	if err := f.app.RestoreDefaultProfiles(false); !errors.Is(err, domain.ErrConfirmationRequired) {
		t.Fatalf("RestoreDefaultProfiles(false) error = %v", err)
	}
	if _, ok := f.app.ProfileQualities()["WEBM"]; !ok {
		t.Fatal("custom profile dropped without confirmation")
	}
	if err := f.app.RestoreDefaultProfiles(true); err != nil {
		t.Fatalf("RestoreDefaultProfiles(true) error = %v", err)
	}
	if _, ok := f.app.ProfileQualities()["WEBM"]; ok {
		t.Fatal("custom profile survived restore")
	}
}

// TestStartConversionRecordsHistory checks a full run through the App surface.
func TestStartConversionRecordsHistory(t *testing.T) {
	f := newAppFixture(t)
	input := f.input(t, "clip.avi")
	if _, err := f.app.AddFiles([]string{input}, "MP4 High Quality"); err != nil {
		t.Fatalf("AddFiles() error = %v", err)
	}

	var (
		mu     sync.Mutex
		events []jobs.Event
	)
	f.app.Coordinator.Subscribe(func(e jobs.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	if err := f.app.StartConversion(); err != nil {
		t.Fatalf("StartConversion() error = %v", err)
	}
	f.app.Coordinator.Wait()

	tasks := f.app.Tasks()
	if len(tasks) != 1 || tasks[0].Status != domain.JobStatusDone {
		t.Fatalf("tasks = %+v", tasks)
	}
	want := filepath.Join(f.store.settings.OutputDir, "clip.mp4")
	if tasks[0].OutputPath != want {
		t.Fatalf("output = %s, want %s", tasks[0].OutputPath, want)
	}

	recent, err := f.app.History(10)
	if err != nil || len(recent) != 1 || recent[0].ID != tasks[0].ID {
		t.Fatalf("history = %+v, %v", recent, err)
	}

	mu.Lock()
	defer mu.Unlock()
	sawProgress := false
	for _, e := range events {
		if e.Type == jobs.EventTypeProgress && e.Progress == 50 {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Fatalf("no 50%% progress event in %+v", events)
	}
	if f.launcher.shutdowns != 0 {
		t.Fatalf("shutdowns = %d, want 0", f.launcher.shutdowns)
	}
}

// TestSaveSettingsValidatesAndRefreshes checks invalid settings are rejected.
func TestSaveSettingsValidatesAndRefreshes(t *testing.T) {
	f := newAppFixture(t)
	bad := f.store.settings
	bad.Encoder = "handbrake"
	if _, err := f.app.SaveSettings(bad); err == nil {
		t.Fatal("expected error for unsupported encoder")
	}
	if f.store.saves != 0 {
		t.Fatalf("saves = %d, want 0", f.store.saves)
	}

	good := f.store.settings
	good.Encoder = domain.EncoderAvconv
	saved, err := f.app.SaveSettings(good)
	if err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	if f.app.CurrentSettings().Encoder != domain.EncoderAvconv || saved.Encoder != domain.EncoderAvconv {
		t.Fatalf("settings not applied: %+v", f.app.CurrentSettings())
	}
	if f.app.GetDiagnostics().Items[0].ID != "tool_avconv" {
		t.Fatalf("diagnostics not refreshed: %+v", f.app.GetDiagnostics().Items)
	}
}

// TestGetSettingsKeepsEnvOverrides checks reloads do not drop environment overrides.
func TestGetSettingsKeepsEnvOverrides(t *testing.T) {
	f := newAppFixture(t)
	t.Setenv(config.EnvEncoder, "avconv")

	got, err := f.app.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if got.Encoder != domain.EncoderAvconv || f.app.CurrentSettings().Encoder != domain.EncoderAvconv {
		t.Fatalf("encoder = %q / %q, want %q", got.Encoder, f.app.CurrentSettings().Encoder, domain.EncoderAvconv)
	}
	if f.store.settings.Encoder != domain.EncoderFFmpeg {
		t.Fatalf("stored encoder = %q", f.store.settings.Encoder)
	}
}

// TestSaveSettingsSwitchesProfilesDir checks a new profiles directory takes effect immediately.
func TestSaveSettingsSwitchesProfilesDir(t *testing.T) {
	f := newAppFixture(t)
	newDir := t.TempDir()
	other, err := profiles.Open(newDir, nil)
	if err != nil {
		t.Fatalf("open profiles: %v", err)
	}
	if _, err := other.AddCustom("WEBM", "WEBM Tiny", "-vcodec libvpx", ".webm"); err != nil {
		t.Fatalf("AddCustom() error = %v", err)
	}

	settings := f.store.settings
	settings.ProfilesDir = newDir
	if _, err := f.app.SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	if _, ok := f.app.ProfileQualities()["WEBM"]; !ok {
		t.Fatalf("qualities = %v, want profiles from %s", f.app.ProfileQualities(), newDir)
	}
	if _, err := f.app.AddFiles([]string{f.input(t, "clip.avi")}, "WEBM Tiny"); err != nil {
		t.Fatalf("AddFiles() with new catalog error = %v", err)
	}

	newer := t.TempDir()
	if err := os.WriteFile(filepath.Join(newer, "customized.json"), []byte(`{"version": 2, "profiles": []}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	settings.ProfilesDir = newer
	if _, err := f.app.SaveSettings(settings); !errors.Is(err, profiles.ErrUnsupportedVersion) {
		t.Fatalf("SaveSettings() error = %v, want %v", err, profiles.ErrUnsupportedVersion)
	}
	if f.store.settings.ProfilesDir != newDir {
		t.Fatalf("stored profiles dir = %s, want %s", f.store.settings.ProfilesDir, newDir)
	}
}

// TestOpenOutputFolderFallsBackToSettings checks the empty-path default.
func TestOpenOutputFolderFallsBackToSettings(t *testing.T) {
	f := newAppFixture(t)
	if err := f.app.OpenOutputFolder(" "); err != nil {
		t.Fatalf("OpenOutputFolder() error = %v", err)
	}
	if len(f.launcher.folders) != 1 || f.launcher.folders[0] != f.store.settings.OutputDir {
		t.Fatalf("folders = %v", f.launcher.folders)
	}
	if err := f.app.PlayFile("/videos/out.mp4"); err != nil {
		t.Fatalf("PlayFile() error = %v", err)
	}
	if len(f.launcher.opened) != 1 {
		t.Fatalf("opened = %v", f.launcher.opened)
	}
}

// TestDialogsRequireRuntime checks dialogs fail before Startup.
func TestDialogsRequireRuntime(t *testing.T) {
	f := newAppFixture(t)
	if _, err := f.app.PickInputFiles(); err == nil {
		t.Fatal("expected error without runtime context")
	}
	if _, err := f.app.PickOutputDirectory(); err == nil {
		t.Fatal("expected error without runtime context")
	}
}
