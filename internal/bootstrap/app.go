package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"videomorph/internal/config"
	"videomorph/internal/diagnostics"
	"videomorph/internal/domain"
	"videomorph/internal/encoder"
	"videomorph/internal/history"
	"videomorph/internal/jobs"
	"videomorph/internal/launcher"
	"videomorph/internal/probe"
	"videomorph/internal/profiles"
	"videomorph/internal/remote"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// TaskEventName is the runtime event carrying every jobs.Event to the UI.
const TaskEventName = "task:event"

const historyRetentionDays = 90

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.m4v;*.mov;*.mkv;*.avi;*.wmv;*.flv;*.webm;*.mpg;*.mpeg;*.vob;*.3gp;*.ogv;*.ts",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var profilesDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Profiles files",
		Pattern:     "*.json",
	},
}

// hostLauncher opens files and powers the machine off.
type hostLauncher interface {
	Open(path string) error
	OpenFolder(path string) error
	Shutdown() error
}

// historyStore persists finished tasks.
type historyStore interface {
	Record(job domain.Job) error
	Recent(limit int) ([]domain.Job, error)
	Close() error
}

// AddFilesResult reports the outcome of a batch add.
type AddFilesResult struct {
	Added    []domain.Job     `json:"added"`
	Rejected []jobs.Rejection `json:"rejected"`
}

// App wires configuration, the conversion coordinator, the profile catalog
// and UI runtime callbacks.
type App struct {
	Store       config.Store
	Coordinator *jobs.Coordinator
	Diagnostics domain.DiagnosticReport
	Logger      *slog.Logger

	catalog  *profiles.Catalog
	history  historyStore
	launcher hostLauncher
	assets   fs.FS
	checker  *diagnostics.Checker
	tools    *toolInstaller

	mu         sync.Mutex
	settings   domain.Settings
	runtimeCtx context.Context
}

// Options configures App construction.
type Options struct {
	Assets fs.FS
	Logger *slog.Logger
}

// deps are the collaborators newApp wires together.
type deps struct {
	store    config.Store
	settings domain.Settings
	prober   probe.Prober
	runner   encoder.Runner
	catalog  *profiles.Catalog
	history  historyStore
	launcher hostLauncher
	checker  *diagnostics.Checker
	tools    *toolInstaller
	logger   *slog.Logger
}

// NewWithOptions loads settings, opens the profile catalog and history
// store, and wires the coordinator.
func NewWithOptions(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	dataDir := config.DataDir()
	if err := ensureLocalBinOnPATH(dataDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}
	config.LoadEnvFile()

	store := config.NewJSONStore(filepath.Join(dataDir, "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.ApplyEnv(settings)
	if err := config.Validate(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	catalog, err := profiles.Open(settings.ProfilesDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}

	hist, err := history.Open(filepath.Join(dataDir, "history"))
	if err != nil {
		return nil, err
	}
	if n, err := hist.Purge(time.Now().AddDate(0, 0, -historyRetentionDays)); err != nil {
		logger.Warn("purge history", "error", err)
	} else if n > 0 {
		logger.Info("history purged", "records", n)
	}

	app := newApp(deps{
		store:    store,
		settings: settings,
		runner:   encoder.NewExecRunner(),
		catalog:  catalog,
		history:  hist,
		launcher: launcher.New(),
		checker:  diagnostics.NewChecker(),
		logger:   logger,
	})
	app.assets = opts.Assets
	return app, nil
}

// settingsProber probes with the tool matching the active conversion library.
type settingsProber struct {
	settings func() domain.Settings
}

func (p settingsProber) Probe(ctx context.Context, path string) (domain.MediaInfo, error) {
	return probe.NewCommandProber(p.settings().Encoder.Prober()).Probe(ctx, path)
}

// newApp wires collaborators; tests inject fakes through deps.
func newApp(d deps) *App {
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.checker == nil {
		d.checker = diagnostics.NewChecker()
	}
	if d.tools == nil {
		d.tools = newToolInstaller()
	}

	a := &App{
		Store:    d.store,
		catalog:  d.catalog,
		history:  d.history,
		Logger:   d.logger,
		launcher: d.launcher,
		checker:  d.checker,
		tools:    d.tools,
		settings: d.settings,
	}

	prober := d.prober
	if prober == nil {
		prober = settingsProber{settings: a.CurrentSettings}
	}

	var recorder jobs.HistoryRecorder
	if d.history != nil {
		recorder = d.history
	}
	var shutdown func() error
	if d.launcher != nil {
		shutdown = d.launcher.Shutdown
	}

	a.Coordinator = jobs.NewCoordinator(jobs.CoordinatorConfig{
		Queue:          jobs.NewQueue(prober),
		Bus:            jobs.NewEventBus(1000),
		Runner:         d.runner,
		Settings:       a.CurrentSettings,
		CheckOutputDir: d.checker.CheckWritable,
		Shutdown:       shutdown,
		History:        recorder,
		Logger:         d.logger,
	})
	a.Coordinator.Subscribe(a.emitRuntimeEvent)
	a.Diagnostics = d.checker.Run(d.settings)
	return a
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "VideoMorph",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			a.runtimeCtx = nil
			a.mu.Unlock()
			a.Close()
		},
		Bind: []interface{}{a},
	})
}

// Headless returns an HTTP server over the same services the desktop UI binds.
func (a *App) Headless() *remote.Server {
	return remote.NewServer(remote.Config{
		Coordinator: a.Coordinator,
		Catalog:     a.profileCatalog(),
		History:     a.history,
		Settings:    a.CurrentSettings,
		Diagnostics: a.GetDiagnostics,
		Logger:      a.Logger,
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Close stops any running conversion and releases the history store.
func (a *App) Close() {
	if err := a.Coordinator.StopAll(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
		a.Logger.Warn("stop conversions on exit", "error", err)
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.Logger.Warn("close history", "error", err)
		}
	}
}

// CurrentSettings returns the active settings snapshot.
func (a *App) CurrentSettings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads the persisted settings with environment overrides applied.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return domain.Settings{}, err
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes, validates and persists settings, then refreshes
// diagnostics. A new profiles directory is opened before anything is saved.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := config.Validate(normalized); err != nil {
		return domain.Settings{}, err
	}

	var catalog *profiles.Catalog
	if normalized.ProfilesDir != a.CurrentSettings().ProfilesDir {
		var err error
		if catalog, err = profiles.Open(normalized.ProfilesDir, a.Logger); err != nil {
			return domain.Settings{}, fmt.Errorf("open profiles: %w", err)
		}
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	if catalog != nil {
		a.mu.Lock()
		a.catalog = catalog
		a.mu.Unlock()
		a.Logger.Info("profiles directory changed", "dir", normalized.ProfilesDir)
	}
	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return domain.DiagnosticReport{}, err
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

func (a *App) loadSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return config.ApplyEnv(settings), nil
}

// PickInputFiles opens a native multi-file dialog for video selection.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select Files",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// PickOutputDirectory opens a native directory picker for converted files.
func (a *App) PickOutputDirectory() (string, error) {
	return a.pickDirectory("Choose Output Directory")
}

// PickExportDirectory opens a native directory picker for profile exports.
func (a *App) PickExportDirectory() (string, error) {
	return a.pickDirectory("Export Conversion Profiles")
}

// PickProfilesFile opens a native file dialog for profile imports.
func (a *App) PickProfilesFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Import Conversion Profiles",
		Filters: profilesDialogFilter,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// AddFiles queues paths for the profile with the given quality label.
func (a *App) AddFiles(paths []string, quality string) (AddFilesResult, error) {
	profile, err := a.profileCatalog().Lookup(quality)
	if err != nil {
		return AddFilesResult{}, err
	}
	added, rejected := a.Coordinator.Queue().AddMany(context.Background(), paths, profile)
	for _, r := range rejected {
		a.Logger.Warn("file rejected", "path", r.Path, "error", r.Error)
	}
	return AddFilesResult{Added: added, Rejected: rejected}, nil
}

// RemoveTask deletes one non-running task.
func (a *App) RemoveTask(id string) error {
	return a.Coordinator.Queue().Remove(id)
}

// ClearTasks removes every non-running task once the user has confirmed.
func (a *App) ClearTasks(confirmed bool) (int, error) {
	if !confirmed {
		return 0, domain.ErrConfirmationRequired
	}
	return a.Coordinator.Queue().Clear(), nil
}

// SetTaskQuality retargets a non-running task to another profile.
func (a *App) SetTaskQuality(id, quality string) (domain.Job, error) {
	profile, err := a.profileCatalog().Lookup(quality)
	if err != nil {
		return domain.Job{}, err
	}
	return a.Coordinator.Queue().SetProfile(id, profile)
}

// RequeueTask puts a finished task back in the queue.
func (a *App) RequeueTask(id string) (domain.Job, error) {
	return a.Coordinator.Queue().Requeue(id)
}

// Tasks returns the task list in order.
func (a *App) Tasks() []domain.Job {
	return a.Coordinator.Queue().List()
}

// Totals returns aggregate progress for the task list.
func (a *App) Totals() domain.Totals {
	return a.Coordinator.Totals()
}

// StartConversion begins draining the queue.
func (a *App) StartConversion() error {
	return a.Coordinator.Start()
}

// StopTask stops the running task; the run continues with the next one.
func (a *App) StopTask() error {
	return a.Coordinator.Stop()
}

// StopAll stops the running task and ends the run.
func (a *App) StopAll() error {
	return a.Coordinator.StopAll()
}

// Profiles returns the catalog in display order.
func (a *App) Profiles() []domain.Profile {
	return a.profileCatalog().List()
}

// ProfileQualities groups quality labels by profile name.
func (a *App) ProfileQualities() map[string][]string {
	return a.profileCatalog().Qualities()
}

// AddProfile stores a custom preset.
func (a *App) AddProfile(name, quality, params, extension string) (domain.Profile, error) {
	return a.profileCatalog().AddCustom(name, quality, params, extension)
}

// ExportProfiles writes the catalog into dir and returns the file path.
func (a *App) ExportProfiles(dir string) (string, error) {
	return a.profileCatalog().ExportTo(dir)
}

// ImportProfiles merges presets from file and returns how many were imported.
func (a *App) ImportProfiles(file string) (int, error) {
	return a.profileCatalog().ImportFrom(file)
}

// RestoreDefaultProfiles drops custom presets once the user has confirmed.
func (a *App) RestoreDefaultProfiles(confirmed bool) error {
	if !confirmed {
		return domain.ErrConfirmationRequired
	}
	return a.profileCatalog().RestoreDefaults()
}

// History returns up to limit finished tasks, newest first.
func (a *App) History(limit int) ([]domain.Job, error) {
	if a.history == nil {
		return nil, nil
	}
	return a.history.Recent(limit)
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.CurrentSettings().OutputDir
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}
	return a.launcher.OpenFolder(target)
}

// PlayFile opens a converted video with the default player.
func (a *App) PlayFile(path string) error {
	return a.launcher.Open(path)
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.Coordinator.Events(sinceSeq)
}

func (a *App) pickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: title,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// emitRuntimeEvent forwards coordinator events to the webview.
func (a *App) emitRuntimeEvent(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, TaskEventName, event)
	}
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	report := a.checker.Run(settings)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = settings
	a.Diagnostics = report
	return report
}

func (a *App) profileCatalog() *profiles.Catalog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.catalog
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}
